package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appconfig "equityflow/config"
	"equityflow/internal/channel"
	"equityflow/logger"
	"equityflow/models"
)

// Normalizer flattens the columnar pages of each downloaded day into row
// records and emits exactly one DayBatch per (symbol, day).
type Normalizer struct {
	config   *appconfig.Config
	rawChan  <-chan models.RawDayMessage
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// Metrics
	daysProcessed int64
	rowsProcessed int64
	errorsCount   int64
}

func NewNormalizer(cfg *appconfig.Config, rawChan <-chan models.RawDayMessage, ch *channel.Channels) *Normalizer {
	return &Normalizer{
		config:   cfg,
		rawChan:  rawChan,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Run processes raw day messages until the raw channel closes or the context
// is cancelled.
func (n *Normalizer) Run(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("normalizer already running")
	}
	n.running = true
	n.ctx = ctx
	n.mu.Unlock()

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"operation": "run"})

	numWorkers := n.config.Processor.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting normalizer")

	for i := 0; i < numWorkers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}

	n.wg.Wait()

	log.WithFields(logger.Fields{
		"days_processed": atomic.LoadInt64(&n.daysProcessed),
		"rows_processed": atomic.LoadInt64(&n.rowsProcessed),
		"errors":         atomic.LoadInt64(&n.errorsCount),
	}).Info("normalizer finished")

	if errs := atomic.LoadInt64(&n.errorsCount); errs > 0 {
		return fmt.Errorf("normalizer finished with %d undecodable pages", errs)
	}
	return nil
}

func (n *Normalizer) worker(workerID int) {
	defer n.wg.Done()

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "normalizer",
	})

	log.Debug("starting normalizer worker")

	for {
		select {
		case <-n.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case rawMsg, ok := <-n.rawChan:
			if !ok {
				log.Debug("raw channel closed, worker stopping")
				return
			}

			start := time.Now()
			rows := n.processMessage(rawMsg)
			duration := time.Since(start)

			atomic.AddInt64(&n.daysProcessed, 1)
			atomic.AddInt64(&n.rowsProcessed, int64(rows))

			logger.LogPerformanceEntry(log, "normalizer", "process_day", duration, logger.Fields{
				"worker_id": workerID,
				"symbol":    rawMsg.Symbol,
				"date":      rawMsg.Date,
				"rows":      rows,
			})
		}
	}
}

func (n *Normalizer) processMessage(rawMsg models.RawDayMessage) int {
	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{
		"symbol":    rawMsg.Symbol,
		"date":      rawMsg.Date,
		"kind":      string(rawMsg.Kind),
		"pages":     len(rawMsg.Pages),
		"operation": "process_day",
	})

	batch := models.DayBatch{
		BatchID:   uuid.New().String(),
		Symbol:    rawMsg.Symbol,
		Date:      rawMsg.Date,
		Kind:      rawMsg.Kind,
		Path:      rawMsg.Path,
		Timestamp: rawMsg.Timestamp,
	}

	for _, pageData := range rawMsg.Pages {
		switch rawMsg.Kind {
		case models.KindTick:
			var page models.TickPage
			if err := json.Unmarshal(pageData, &page); err != nil {
				atomic.AddInt64(&n.errorsCount, 1)
				log.WithError(err).Warn("failed to unmarshal tick page")
				continue
			}
			batch.Trades = append(batch.Trades, flattenTickPage(rawMsg.Symbol, page)...)
		case models.KindNBBO:
			var page models.NBBOPage
			if err := json.Unmarshal(pageData, &page); err != nil {
				atomic.AddInt64(&n.errorsCount, 1)
				log.WithError(err).Warn("failed to unmarshal nbbo page")
				continue
			}
			batch.Quotes = append(batch.Quotes, flattenNBBOPage(rawMsg.Symbol, page)...)
		default:
			atomic.AddInt64(&n.errorsCount, 1)
			log.Warn("unknown data kind, dropping day")
			return 0
		}
	}

	batch.RecordCount = len(batch.Trades) + len(batch.Quotes)
	if batch.RecordCount == 0 {
		log.Warn("no rows flattened from day pages")
		return 0
	}

	if int64(batch.RecordCount) != rawMsg.Total {
		log.WithFields(logger.Fields{
			"rows":  batch.RecordCount,
			"total": rawMsg.Total,
		}).Warn("flattened row count differs from vendor total")
	}

	if n.channels.SendBatch(n.ctx, batch) {
		logger.LogDataFlowEntry(log, "raw_channel", "batch_channel", batch.RecordCount, "day_batch")
	}

	return batch.RecordCount
}

// flattenTickPage converts one columnar tick page into trade rows. The row
// count follows the timestamp column; shorter side columns yield zero values
// rather than a panic when the vendor returns ragged arrays.
func flattenTickPage(symbol string, page models.TickPage) []models.TradeRecord {
	rows := make([]models.TradeRecord, 0, len(page.Timestamps))
	for i, ts := range page.Timestamps {
		r := models.TradeRecord{
			Symbol:    symbol,
			Timestamp: ts,
		}
		if i < len(page.Prices) {
			r.Price = page.Prices[i]
		}
		if i < len(page.Volumes) {
			r.Volume = page.Volumes[i]
		}
		if i < len(page.Venues) {
			r.Venue = page.Venues[i]
		}
		if i < len(page.Conditions) {
			r.Conditions = strings.Join(page.Conditions[i], ";")
		}
		rows = append(rows, r)
	}
	return rows
}

// flattenNBBOPage converts one columnar NBBO page into quote rows with the
// same ragged array guards as flattenTickPage.
func flattenNBBOPage(symbol string, page models.NBBOPage) []models.QuoteRecord {
	rows := make([]models.QuoteRecord, 0, len(page.Timestamps))
	for i, ts := range page.Timestamps {
		r := models.QuoteRecord{
			Symbol:    symbol,
			Timestamp: ts,
		}
		if i < len(page.Bids) {
			r.Bid = page.Bids[i]
		}
		if i < len(page.BidVolumes) {
			r.BidVolume = page.BidVolumes[i]
		}
		if i < len(page.BidVenues) {
			r.BidVenue = page.BidVenues[i]
		}
		if i < len(page.Asks) {
			r.Ask = page.Asks[i]
		}
		if i < len(page.AskVolumes) {
			r.AskVolume = page.AskVolumes[i]
		}
		if i < len(page.AskVenues) {
			r.AskVenue = page.AskVenues[i]
		}
		if i < len(page.Conditions) {
			r.Conditions = strings.Join(page.Conditions[i], ";")
		}
		rows = append(rows, r)
	}
	return rows
}
