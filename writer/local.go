package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	appconfig "equityflow/config"
	"equityflow/logger"
	"equityflow/models"
)

// DefaultRoot returns the save directory used when no --save-path is given,
// relative to the working directory.
func DefaultRoot(kind models.DataKind) string {
	if kind == models.KindTick {
		return "db_raw_tick"
	}
	return "db_raw"
}

// PathFor returns the output file for one (symbol, day) pair:
// <root>/<symbol>/<symbol>_<YYYY-MM-DD>.parquet
func PathFor(root, symbol string, day time.Time) string {
	name := fmt.Sprintf("%s_%s.parquet", symbol, day.Format("2006-01-02"))
	return filepath.Join(root, symbol, name)
}

// LocalWriter consumes normalized day batches and persists one parquet file
// per batch under the symbol's directory. An existing file is only replaced
// when overwrite is enabled.
type LocalWriter struct {
	config    *appconfig.Config
	batchChan <-chan models.DayBatch
	overwrite bool
	mirror    *Mirror
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log

	filesWritten int64
	filesSkipped int64
	errorsCount  int64
}

// NewLocalWriter creates a LocalWriter. mirror may be nil when S3 mirroring is
// disabled.
func NewLocalWriter(cfg *appconfig.Config, batchChan <-chan models.DayBatch, overwrite bool, mirror *Mirror) *LocalWriter {
	return &LocalWriter{
		config:    cfg,
		batchChan: batchChan,
		overwrite: overwrite,
		mirror:    mirror,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
	}
}

// Run processes batches until the batch channel is closed or the context is
// cancelled. It returns once all workers have drained.
func (w *LocalWriter) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("local writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("local_writer").WithFields(logger.Fields{"operation": "run"})

	numWorkers := w.config.Writer.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log.WithFields(logger.Fields{"workers": numWorkers, "overwrite": w.overwrite}).Info("starting local writer")

	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}

	w.wg.Wait()

	log.WithFields(logger.Fields{
		"files_written": atomic.LoadInt64(&w.filesWritten),
		"files_skipped": atomic.LoadInt64(&w.filesSkipped),
		"errors":        atomic.LoadInt64(&w.errorsCount),
	}).Info("local writer finished")

	if n := atomic.LoadInt64(&w.errorsCount); n > 0 {
		return fmt.Errorf("local writer finished with %d failed files", n)
	}
	return nil
}

// Stats returns counts of written, skipped and failed files so far.
func (w *LocalWriter) Stats() (written, skipped, failed int64) {
	return atomic.LoadInt64(&w.filesWritten), atomic.LoadInt64(&w.filesSkipped), atomic.LoadInt64(&w.errorsCount)
}

func (w *LocalWriter) worker(workerID int) {
	defer w.wg.Done()

	log := w.log.WithComponent("local_writer").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "local_writer",
	})

	log.Debug("starting local writer worker")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case batch, ok := <-w.batchChan:
			if !ok {
				log.Debug("batch channel closed, worker stopping")
				return
			}
			w.writeBatch(batch)
		}
	}
}

func (w *LocalWriter) writeBatch(batch models.DayBatch) {
	log := w.log.WithComponent("local_writer").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"symbol":       batch.Symbol,
		"date":         batch.Date,
		"kind":         string(batch.Kind),
		"record_count": batch.RecordCount,
		"path":         batch.Path,
		"operation":    "write_batch",
	})

	if batch.RecordCount == 0 {
		log.Debug("batch has no records, skipping")
		return
	}

	if _, err := os.Stat(batch.Path); err == nil && !w.overwrite {
		// Existing files are the idempotence marker for re-runs.
		atomic.AddInt64(&w.filesSkipped, 1)
		logger.IncrementSkippedExisting()
		log.Info("file exists and overwrite is disabled, skipping")
		return
	}

	start := time.Now()
	data, err := encodeBatch(batch, w.config.Writer.Formats.Parquet)
	if err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		log.WithError(err).Error("failed to encode parquet file")
		return
	}

	if err := w.writeFile(batch.Path, data); err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		log.WithError(err).Error("failed to write output file")
		return
	}
	atomic.AddInt64(&w.filesWritten, 1)
	logger.IncrementFileWrite(int64(len(data)))
	logger.LogPerformanceEntry(log, "local_writer", "write_file", time.Since(start), logger.Fields{
		"file_size": len(data),
	})

	log.WithFields(logger.Fields{"file_size": len(data)}).Info("day file written")

	if w.mirror != nil {
		if err := w.mirror.Upload(w.ctx, batch, data); err != nil {
			log.WithError(err).Warn("failed to mirror file to S3")
		}
	}
}

// writeFile writes data through a temp file and renames it into place so a
// crashed run never leaves a truncated parquet file behind.
func (w *LocalWriter) writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
