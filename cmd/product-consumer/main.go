package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/grid-scraper/internal/config"
	"github.com/maltedev/grid-scraper/internal/events"
	"github.com/maltedev/grid-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// product-consumer tails the products stream and logs every relayed
// PRODUCT_SCRAPED event. Useful for checking the outbox relay end to end.
func main() {
	var (
		stream = flag.String("stream", events.ProductsStream, "Redis stream to consume")
		group  = flag.String("group", "product-consumer-group", "Consumer group name")
		name   = flag.String("name", "consumer-1", "Consumer name within the group")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis", "addr", cfg.Redis.Addr)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("shutting down...")
		cancel()
	}()

	consumer := events.NewConsumer(rdb, events.ConsumerConfig{
		Stream: *stream,
		Group:  *group,
		Name:   *name,
	}, func(_ context.Context, msgID string, p *events.ProductScrapedPayload) error {
		log.Info("product scraped",
			"message_id", msgID,
			"product_id", p.ProductID,
			"run_id", p.RunID,
			"title", p.Title,
			"price", p.Price.String(),
			"currency", p.Currency,
			"images", len(p.ImageHashes))
		return nil
	}, log)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}
