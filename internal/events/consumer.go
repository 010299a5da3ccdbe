package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/grid-scraper/internal/database"
	"github.com/redis/go-redis/v9"
)

// StreamClient is the subset of the Redis client a Consumer uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// ProductHandler receives each decoded PRODUCT_SCRAPED event. A returned
// error leaves the message unacknowledged in the group's pending list; it is
// replayed the next time a consumer with the same name starts.
type ProductHandler func(ctx context.Context, msgID string, payload *ProductScrapedPayload) error

type ConsumerConfig struct {
	Stream string
	Group  string
	Name   string
	Count  int64
	Block  time.Duration
}

// Consumer reads relayed product events from a Redis stream in a consumer
// group.
type Consumer struct {
	redis   StreamClient
	cfg     ConsumerConfig
	handler ProductHandler
	logger  *slog.Logger
}

func NewConsumer(client StreamClient, cfg ConsumerConfig, handler ProductHandler, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = ProductsStream
	}
	if cfg.Group == "" {
		cfg.Group = "product-consumer-group"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}

	return &Consumer{
		redis:   client,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "event_consumer", "stream", cfg.Stream),
	}
}

// Run creates the consumer group if needed, replays this consumer's pending
// messages and then processes new messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "group", c.cfg.Group, "name", c.cfg.Name)

	replayed, err := c.drainPending(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("failed to replay pending messages", "error", err)
	} else if replayed > 0 {
		c.logger.Info("replayed pending messages", "acked", replayed)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// drainPending walks the messages delivered to this consumer but never
// acknowledged, oldest first, and returns how many were acknowledged now.
// Messages whose handler fails again stay pending.
func (c *Consumer) drainPending(ctx context.Context) (int, error) {
	acked := 0
	start := "0"
	for ctx.Err() == nil {
		msgs, err := c.read(ctx, start, -1)
		if err != nil {
			return acked, err
		}
		if len(msgs) == 0 {
			return acked, nil
		}
		acked += c.process(ctx, msgs)
		start = msgs[len(msgs)-1].ID
	}
	return acked, ctx.Err()
}

// poll reads one batch of new messages and returns how many were acknowledged.
func (c *Consumer) poll(ctx context.Context) (int, error) {
	msgs, err := c.read(ctx, ">", c.cfg.Block)
	if err != nil {
		return 0, err
	}
	return c.process(ctx, msgs), nil
}

// read issues one XREADGROUP from start. A negative block omits BLOCK, which
// history reads ignore anyway.
func (c *Consumer) read(ctx context.Context, start string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, start},
		Count:    c.cfg.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []redis.XMessage
	for _, stream := range streams {
		msgs = append(msgs, stream.Messages...)
	}
	return msgs, nil
}

func (c *Consumer) process(ctx context.Context, msgs []redis.XMessage) int {
	acked := 0
	for _, msg := range msgs {
		if err := c.handle(ctx, msg); err != nil {
			c.logger.Error("failed to process message", "id", msg.ID, "error", err)
			continue
		}
		if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
			c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
			continue
		}
		acked++
	}
	return acked
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	payload, err := DecodeProductScraped(msg)
	if err != nil {
		return err
	}
	if payload == nil {
		// Other event types share the stream; acknowledge and move on.
		return nil
	}
	return c.handler(ctx, msg.ID, payload)
}

// DecodeProductScraped unwraps the relay envelope of a stream message. It
// returns nil without error for events of another type.
func DecodeProductScraped(msg redis.XMessage) (*ProductScrapedPayload, error) {
	eventType, _ := msg.Values[database.FieldEventType].(string)
	if eventType != string(EventTypeProductScraped) {
		return nil, nil
	}

	data, ok := msg.Values[database.FieldData].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no data field", msg.ID)
	}

	var envelope database.StreamEnvelope
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if len(envelope.Payload) == 0 || string(envelope.Payload) == "null" {
		return nil, fmt.Errorf("message %s has an empty payload", msg.ID)
	}

	var payload ProductScrapedPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	return &payload, nil
}
