package channel

import (
	"context"
	"sync"

	"equityflow/logger"
	"equityflow/models"
)

type ChannelStats struct {
	RawSent   int64
	BatchSent int64
}

// Channels bundles the pipeline's typed channels: raw day downloads from the
// readers and normalized day batches for the writer. Sends block rather than
// drop, because losing a fully downloaded day would waste its API budget.
type Channels struct {
	Raw   chan models.RawDayMessage
	Batch chan models.DayBatch

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize, batchBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:   make(chan models.RawDayMessage, rawBufferSize),
		Batch: make(chan models.DayBatch, batchBufferSize),
		log:   log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size":   rawBufferSize,
		"batch_buffer_size": batchBufferSize,
	}).Info("pipeline channels initialized")

	return c
}

// CloseRaw closes the raw channel once all readers have finished.
func (c *Channels) CloseRaw() {
	close(c.Raw)
	c.log.WithComponent("channels").Debug("raw channel closed")
}

// CloseBatch closes the batch channel once the normalizer has drained.
func (c *Channels) CloseBatch() {
	close(c.Batch)
	c.log.WithComponent("channels").Debug("batch channel closed")
}

// SendRaw blocks until the message is accepted or the context is cancelled.
// It reports whether the message was delivered.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawDayMessage) bool {
	select {
	case c.Raw <- msg:
		c.statsMutex.Lock()
		c.stats.RawSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

// SendBatch blocks until the batch is accepted or the context is cancelled.
// It reports whether the batch was delivered.
func (c *Channels) SendBatch(ctx context.Context, msg models.DayBatch) bool {
	select {
	case c.Batch <- msg:
		c.statsMutex.Lock()
		c.stats.BatchSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
