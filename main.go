package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"equityflow/config"
	"equityflow/internal/channel"
	"equityflow/internal/fetchplan"
	"equityflow/logger"
	"equityflow/models"
	"equityflow/processor"
	"equityflow/reader/finnhub"
	"equityflow/writer"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	symFile := flag.String("sym-file", "", "Path to symbol CSV (row 1 symbols, row 2 start dates, row 3 end dates)")
	dataType := flag.String("type", "", "Dataset to download: nbbo or tick")
	savePath := flag.String("save-path", "", "Output root directory (defaults to db_raw or db_raw_tick)")
	overwrite := flag.Bool("overwrite", false, "Re-download days whose output file already exists")
	apiKey := flag.String("api-key", "", "Finnhub API token (falls back to FINNHUB_API_KEY)")
	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	shardPath := flag.String("shards", "", "Optional path to IP shard configuration file")

	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	if strings.TrimSpace(*dataType) == "" {
		log.Error("-type is required (nbbo or tick)")
		return 1
	}
	kind := models.DataKind(strings.ToLower(strings.TrimSpace(*dataType)))
	if !kind.Valid() {
		log.WithFields(logger.Fields{"type": *dataType}).Error("unknown data type, expected nbbo or tick")
		return 1
	}

	if *symFile == "" {
		log.Error("-sym-file is required")
		return 1
	}

	token := strings.TrimSpace(*apiKey)
	if token == "" {
		token = cfg.Reader.APIKey
	}
	if token == "" {
		log.Error("no API token: pass -api-key or set FINNHUB_API_KEY")
		return 1
	}

	log.WithFields(logger.Fields{
		"service": cfg.Equityflow.Name,
		"version": cfg.Equityflow.Version,
		"type":    string(kind),
	}).Info("starting equityflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "EquityFlow", cfg.Logging.DashboardName)
	}

	ranges, err := config.LoadSymbolFile(*symFile)
	if err != nil {
		log.WithError(err).Error("failed to load symbol file")
		return 1
	}

	root := strings.TrimSpace(*savePath)
	if root == "" {
		root = writer.DefaultRoot(kind)
	}

	plan := fetchplan.Build(ranges, kind, root, *overwrite)
	if len(plan.Jobs) == 0 {
		log.WithFields(logger.Fields{"skipped": plan.Skipped}).Info("nothing to download")
		return 0
	}

	var shards *config.Shards
	if *shardPath != "" {
		shards, err = config.LoadShards(*shardPath)
		if err != nil {
			log.WithError(err).Error("failed to load shard configuration")
			return 1
		}
	}
	shardJobs := fetchplan.Partition(plan, shards)

	// One limiter shared by every fetch worker keeps the whole run inside
	// the vendor's per-account budget.
	limiter := rate.NewLimiter(
		rate.Limit(float64(cfg.Reader.RateLimit.RequestsPerMinute)/60.0),
		cfg.Reader.RateLimit.BurstSize,
	)

	totalWorkers := fetchplan.Workers(runtime.NumCPU())
	shardWorkers := fetchplan.Distribute(totalWorkers, len(shardJobs))

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.BatchBuffer)

	var mirror *writer.Mirror
	if cfg.Storage.S3.Enabled {
		mirror, err = writer.NewMirror(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 mirror")
			return 1
		}
	}

	localWriter := writer.NewLocalWriter(cfg, channels.Batch, *overwrite, mirror)
	normalizer := processor.NewNormalizer(cfg, channels.Raw, channels)

	readers := make([]*finnhub.Reader, 0, len(shardJobs))
	var workerTotal int
	for i, sj := range shardJobs {
		jobs := make(chan models.FetchJob, len(sj.Jobs))
		for _, job := range sj.Jobs {
			jobs <- job
		}
		close(jobs)

		client := finnhub.NewClient(cfg, token, sj.IP)
		readers = append(readers, finnhub.NewReader(cfg, client, jobs, channels, limiter, shardWorkers[i]))
		workerTotal += shardWorkers[i]
	}

	log.WithFields(logger.Fields{
		"jobs":    len(plan.Jobs),
		"skipped": plan.Skipped,
		"shards":  len(shardJobs),
		"workers": workerTotal,
		"root":    root,
	}).Info("all components starting")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
		time.Sleep(30 * time.Second)
		log.Warn("graceful shutdown timeout exceeded")
		os.Exit(1)
	}()

	var exitCode int
	var mu sync.Mutex
	fail := func(component string, err error) {
		log.WithError(err).WithComponent(component).Error("component failed")
		mu.Lock()
		exitCode = 1
		mu.Unlock()
	}

	var readerWG sync.WaitGroup
	for _, r := range readers {
		readerWG.Add(1)
		go func(r *finnhub.Reader) {
			defer readerWG.Done()
			if err := r.Run(ctx); err != nil {
				fail("reader", err)
				if errors.Is(err, finnhub.ErrAuth) {
					// A dead key is dead for every shard; stop
					// spending rate-limit budget on it.
					cancel()
				}
			}
		}(r)
	}

	go func() {
		readerWG.Wait()
		channels.CloseRaw()
	}()

	normDone := make(chan struct{})
	go func() {
		defer close(normDone)
		if err := normalizer.Run(ctx); err != nil {
			fail("normalizer", err)
		}
		channels.CloseBatch()
	}()

	// The writer drains the batch channel; it returns once every upstream
	// stage has finished and closed its channel.
	if err := localWriter.Run(ctx); err != nil {
		fail("writer", err)
	}
	<-normDone

	var completed, failed, empty int64
	for _, r := range readers {
		c, f, e := r.Stats()
		completed += c
		failed += f
		empty += e
	}
	written, skippedFiles, writeFailed := localWriter.Stats()

	log.WithFields(logger.Fields{
		"days_completed": completed,
		"days_failed":    failed,
		"days_empty":     empty,
		"files_written":  written,
		"files_skipped":  skippedFiles + int64(plan.Skipped),
		"writes_failed":  writeFailed,
	}).Info("equityflow finished")

	logger.LogFinalReport(ctx, log)

	mu.Lock()
	defer mu.Unlock()
	return exitCode
}
