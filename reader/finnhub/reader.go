package finnhub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"equityflow/config"
	"equityflow/internal/channel"
	"equityflow/logger"
	"equityflow/models"
)

// Reader downloads complete (symbol, day) datasets from Finnhub with a pool
// of workers. All workers share one token-bucket limiter, so the vendor's
// per-minute budget holds regardless of the worker count. Each fully
// paginated day is sent to the raw channel as a single message.
type Reader struct {
	config   *config.Config
	client   *Client
	jobs     <-chan models.FetchJob
	channels *channel.Channels
	limiter  *rate.Limiter
	workers  int
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	completed int64
	failed    int64
	empty     int64

	fatalOnce sync.Once
	fatalErr  error
	cancel    context.CancelFunc
}

// NewReader creates a Reader consuming jobs from the given channel with the
// given number of workers.
func NewReader(cfg *config.Config, client *Client, jobs <-chan models.FetchJob, ch *channel.Channels, limiter *rate.Limiter, workers int) *Reader {
	if workers < 1 {
		workers = 1
	}
	return &Reader{
		config:   cfg,
		client:   client,
		jobs:     jobs,
		channels: ch,
		limiter:  limiter,
		workers:  workers,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Run fetches until the job channel is drained or the context is cancelled.
// An authentication failure cancels all workers and is returned as the run
// error; per-day failures are counted and reported once everything else has
// finished.
func (r *Reader) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reader already running")
	}
	r.running = true
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel = cancel
	r.ctx = runCtx

	log := r.log.WithComponent("finnhub_reader").WithFields(logger.Fields{"operation": "run"})
	log.WithFields(logger.Fields{
		"workers":             r.workers,
		"requests_per_minute": r.config.Reader.RateLimit.RequestsPerMinute,
	}).Info("starting finnhub reader")

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Wait()

	completed, failed, empty := r.Stats()
	log.WithFields(logger.Fields{
		"completed": completed,
		"failed":    failed,
		"empty":     empty,
	}).Info("finnhub reader finished")

	if r.fatalErr != nil {
		return r.fatalErr
	}
	if failed > 0 {
		return fmt.Errorf("%d day downloads failed", failed)
	}
	return nil
}

// Stats returns counts of completed, failed and empty days so far.
func (r *Reader) Stats() (completed, failed, empty int64) {
	return atomic.LoadInt64(&r.completed), atomic.LoadInt64(&r.failed), atomic.LoadInt64(&r.empty)
}

func (r *Reader) setFatal(err error) {
	r.fatalOnce.Do(func() {
		r.fatalErr = err
		r.cancel()
	})
}

func (r *Reader) worker(workerID int) {
	defer r.wg.Done()

	log := r.log.WithComponent("finnhub_reader").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "day_fetcher",
	})

	log.Debug("starting fetch worker")

	for {
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case job, ok := <-r.jobs:
			if !ok {
				log.Debug("job channel drained, worker stopping")
				return
			}
			err := r.fetchDay(job)
			switch {
			case err == nil:
				atomic.AddInt64(&r.completed, 1)
			case errors.Is(err, ErrAuth):
				log.WithError(err).Error("authentication failed, aborting run")
				r.setFatal(err)
				return
			case errors.Is(err, context.Canceled):
				return
			default:
				atomic.AddInt64(&r.failed, 1)
				log.WithError(err).WithFields(logger.Fields{
					"symbol": job.Symbol,
					"date":   job.Day(),
				}).Error("day download failed")
			}
		}
	}
}

// fetchDay pulls every page for one (symbol, day) and ships the raw pages to
// the normalizer. A day whose first page is empty produces no message and no
// file, matching non-trading days.
func (r *Reader) fetchDay(job models.FetchJob) error {
	log := r.log.WithComponent("finnhub_reader").WithFields(logger.Fields{
		"symbol":    job.Symbol,
		"date":      job.Day(),
		"kind":      string(job.Kind),
		"operation": "fetch_day",
	})

	var (
		pages [][]byte
		skip  int64
		total int64
	)

	start := time.Now()
	for {
		if err := r.limiter.Wait(r.ctx); err != nil {
			return err
		}

		raw, count, pageTotal, err := r.fetchPageWithRetry(job, skip)
		if err != nil {
			return err
		}

		if skip == 0 && count == 0 {
			atomic.AddInt64(&r.empty, 1)
			logger.IncrementEmptyDay()
			log.Debug("no rows for this day, skipping")
			return nil
		}
		if count == 0 {
			// Vendor reported more rows than it returned. Save nothing
			// rather than persist a truncated day.
			atomic.AddInt64(&r.empty, 1)
			logger.IncrementEmptyDay()
			log.WithFields(logger.Fields{"skip": skip, "total": total}).Warn("empty page before reported total, dropping day")
			return nil
		}

		pages = append(pages, raw)
		skip += count
		total = pageTotal
		logger.IncrementPageRead(len(raw))

		log.WithFields(logger.Fields{
			"page":  len(pages),
			"rows":  count,
			"skip":  skip,
			"total": total,
		}).Debug("page fetched")

		if skip >= total || count < int64(r.config.Reader.PageLimit) {
			break
		}
	}

	logger.LogPerformanceEntry(log, "finnhub_reader", "fetch_day", time.Since(start), logger.Fields{
		"pages": len(pages),
		"rows":  skip,
	})

	msg := models.RawDayMessage{
		Symbol:    job.Symbol,
		Date:      job.Day(),
		Kind:      job.Kind,
		Path:      job.Path,
		Pages:     pages,
		Total:     total,
		Timestamp: time.Now().UTC(),
	}

	if !r.channels.SendRaw(r.ctx, msg) {
		return r.ctx.Err()
	}
	logger.LogDataFlowEntry(log, "finnhub_api", "raw_channel", int(skip), "day_pages")
	return nil
}

// fetchPageWithRetry fetches a single page, retrying transient failures with
// exponential backoff. A 429 waits out the configured cooldown instead; auth
// failures and client-side rejections return immediately.
func (r *Reader) fetchPageWithRetry(job models.FetchJob, skip int64) (raw []byte, count, total int64, err error) {
	log := r.log.WithComponent("finnhub_reader").WithFields(logger.Fields{
		"symbol": job.Symbol,
		"date":   job.Day(),
		"skip":   skip,
	})

	retryCfg := r.config.Reader.Retry
	delay := retryCfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= retryCfg.MaxAttempts; attempt++ {
		raw, count, total, err = r.fetchPage(job, skip)
		if err == nil {
			return raw, count, total, nil
		}
		lastErr = err

		if errors.Is(err, ErrAuth) || r.ctx.Err() != nil {
			return nil, 0, 0, err
		}

		if errors.Is(err, ErrRateLimited) {
			cooldown := r.config.Reader.RateLimit.Cooldown
			log.WithFields(logger.Fields{"cooldown": cooldown, "attempt": attempt}).Warn("api rate limit hit, cooling down")
			if !r.sleep(cooldown) {
				return nil, 0, 0, r.ctx.Err()
			}
			continue
		}

		if !Retryable(err) {
			return nil, 0, 0, err
		}

		log.WithError(err).WithFields(logger.Fields{"attempt": attempt, "delay": delay}).Warn("page fetch failed, retrying")
		if !r.sleep(delay) {
			return nil, 0, 0, r.ctx.Err()
		}
		delay *= time.Duration(retryCfg.BackoffMultiplier)
		if delay > retryCfg.MaxDelay {
			delay = retryCfg.MaxDelay
		}
	}

	return nil, 0, 0, fmt.Errorf("giving up after %d attempts: %w", retryCfg.MaxAttempts, lastErr)
}

func (r *Reader) fetchPage(job models.FetchJob, skip int64) ([]byte, int64, int64, error) {
	switch job.Kind {
	case models.KindTick:
		page, raw, err := r.client.FetchTickPage(r.ctx, job.Symbol, job.Day(), skip)
		if err != nil {
			return nil, 0, 0, err
		}
		count := page.Count
		if count == 0 {
			count = int64(len(page.Timestamps))
		}
		return raw, count, page.Total, nil
	case models.KindNBBO:
		page, raw, err := r.client.FetchNBBOPage(r.ctx, job.Symbol, job.Day(), skip)
		if err != nil {
			return nil, 0, 0, err
		}
		count := page.Count
		if count == 0 {
			count = int64(len(page.Timestamps))
		}
		return raw, count, page.Total, nil
	default:
		return nil, 0, 0, fmt.Errorf("unknown data kind %q", job.Kind)
	}
}

// sleep waits for d or until the run is cancelled, reporting whether the full
// wait elapsed.
func (r *Reader) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
