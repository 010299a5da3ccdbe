package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/maltedev/grid-scraper/internal/api"
	"github.com/maltedev/grid-scraper/internal/blobstore"
	"github.com/maltedev/grid-scraper/internal/browser"
	"github.com/maltedev/grid-scraper/internal/config"
	"github.com/maltedev/grid-scraper/internal/database"
	"github.com/maltedev/grid-scraper/internal/events"
	"github.com/maltedev/grid-scraper/internal/fetch"
	"github.com/maltedev/grid-scraper/internal/metrics"
	"github.com/maltedev/grid-scraper/internal/parser"
	"github.com/maltedev/grid-scraper/internal/scraper"
	"github.com/maltedev/grid-scraper/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

func main() {
	var (
		testURL = flag.String("test-url", "", "Scrape a single product page and exit")
		dryRun  = flag.Bool("dry-run", false, "Extract and log records without writing anything")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if *dryRun {
		cfg.ForDryRun()
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, *testURL, *dryRun, log); err != nil {
		log.Error("grid-scraper failed", "error", err)
		os.Exit(1)
	}
}

// run wires the service. With --test-url or --dry-run it performs one run and
// returns; otherwise it serves HTTP until SIGINT or SIGTERM.
func run(cfg *config.Config, testURL string, dryRun bool, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var redisClient *redis.Client
	if cfg.Storage.Backend == blobstore.BackendRedis || (cfg.Relay.Enabled && cfg.Database.Enabled && !dryRun) {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	rawStore, imageStore, closeStores, err := openStores(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStores()

	deps := scraper.Deps{
		Parser:   parser.NewGenericParser(cfg.Scraper.MaxImages),
		RawStore: rawStore,
		Metrics:  m,
	}

	var (
		productStore api.ProductStore
		outboxCounts api.OutboxCounter
	)

	if cfg.Database.Enabled && !dryRun {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare schema: %w", err)
		}

		products := database.NewProductRepository(db)
		outbox := database.NewOutboxRepository(db)
		deps.Products = products
		deps.Events = events.NewPublisher(db, log)
		productStore = products
		outboxCounts = outbox

		if cfg.Relay.Enabled {
			relay := database.NewRelay(db, redisClient, log, database.RelayConfig{
				PollInterval: cfg.Relay.PollInterval,
				BatchSize:    cfg.Relay.BatchSize,
				StreamMaxLen: cfg.Relay.StreamMaxLen,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("relay stopped with error", "error", err)
				}
			}()
		}
	} else {
		log.Warn("running without database; products will not be persisted", "dry_run", dryRun)
	}

	bopts := browser.DefaultOptions()
	bopts.Headless = cfg.Browser.Headless
	bopts.Timeout = cfg.Scraper.Timeout
	bopts.UserAgent = cfg.Scraper.UserAgent
	bopts.Locale = cfg.Browser.Locale
	bopts.ProxyServer = cfg.Browser.ProxyServer

	b, err := browser.New(bopts, log)
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer b.Close()

	deps.Pages = b
	deps.Images = scraper.NewPipeline(
		fetch.NewHTTPFetcher(cfg.Scraper.ImageFetchTimeout, cfg.Scraper.UserAgent),
		imageStore,
		cfg.Scraper.ImageWorkers,
		m,
		log,
	)

	runner := scraper.NewRunner(deps, scraper.Options{
		Sources:  scraper.DefaultSources(),
		MaxLinks: cfg.Scraper.MaxLinks,
		DelayMin: cfg.Scraper.DelayMin,
		DelayMax: cfg.Scraper.DelayMax,
	}, log)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	if testURL != "" || dryRun {
		summary, err := runner.Run(ctx, scraper.RunOptions{TestURL: testURL, DryRun: dryRun})
		if err != nil {
			return err
		}
		log.Info("local run complete", "stored", summary.Stored, "skipped", summary.Skipped, "failed", summary.Failed)
		return nil
	}

	handlers := api.NewHandlers(ctx, runner, deps.Parser, productStore, outboxCounts, log)
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, reg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr, "project", cfg.Project, "storage", cfg.Storage.Backend)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// openStores opens the raw HTML and image buckets on the configured backend.
func openStores(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (raw, images blobstore.Store, closeFn func(), err error) {
	closeFn = func() {}

	opts := blobstore.Options{
		Backend: cfg.Storage.Backend,
		Dir:     cfg.Storage.Dir,
		Redis:   redisClient,
	}

	if cfg.Storage.Backend == blobstore.BackendGCS {
		var clientOpts []option.ClientOption
		if cfg.Project != "" {
			clientOpts = append(clientOpts, option.WithQuotaProject(cfg.Project))
		}
		client, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		opts.GCS = client
		closeFn = func() { client.Close() }
	}

	opts.Bucket = cfg.Storage.RawBucket
	raw, err = blobstore.Open(opts)
	if err != nil {
		closeFn()
		return nil, nil, nil, fmt.Errorf("failed to open raw html store: %w", err)
	}

	opts.Bucket = cfg.Storage.ImageBucket
	images, err = blobstore.Open(opts)
	if err != nil {
		closeFn()
		return nil, nil, nil, fmt.Errorf("failed to open image store: %w", err)
	}

	return raw, images, closeFn, nil
}
