package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Source identifies this service in relayed stream metadata.
const Source = "grid-scraper"

// Stream entry fields written by the relay. Consumers read the event type
// from FieldEventType and decode FieldData as a StreamEnvelope.
const (
	FieldData      = "data"
	FieldEventType = "event_type"
	FieldProductID = "product_id"
	FieldOutboxID  = "outbox_id"
	FieldQueuedAt  = "queued_at"
)

// StreamEnvelope is the JSON document stored under FieldData.
type StreamEnvelope struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	AggregateType string           `json:"aggregate_type"`
	AggregateID   string           `json:"aggregate_id"`
	QueuedAt      time.Time        `json:"queued_at"`
	Payload       json.RawMessage  `json:"payload"`
	Metadata      EnvelopeMetadata `json:"metadata"`
}

type EnvelopeMetadata struct {
	Source       string `json:"source"`
	Attempt      int    `json:"attempt"`
	TargetStream string `json:"target_stream"`
}

type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

// Relay moves product events from the outbox table onto their Redis streams.
// Delivery is at-least-once: an append that succeeds but fails to be marked
// processed is appended again on a later pass.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxLen    int64
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen trims each stream to roughly this many entries. Zero keeps
	// every entry.
	StreamMaxLen int64
}

func NewRelay(db *DB, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Relay{
		redis:     redisClient,
		outbox:    NewOutboxRepository(db),
		logger:    logger.With("component", "outbox_relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		maxLen:    config.StreamMaxLen,
	}
}

// Start relays the backlog, then polls every interval until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("outbox relay started",
		"interval", r.interval,
		"batch_size", r.batchSize,
		"stream_max_len", r.maxLen)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.drain(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain relays full batches back to back, stopping after a short batch or a
// batch in which nothing could be delivered.
func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		delivered, err := r.relayBatch(ctx)
		if err != nil {
			r.logger.Error("failed to read outbox", "error", err)
			return
		}
		if delivered < r.batchSize {
			return
		}
	}
}

// relayBatch delivers one batch of due events and returns how many reached
// their stream.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	delivered := 0
	for _, event := range events {
		if err := r.deliver(ctx, event); err != nil {
			r.logger.Warn("product event not relayed",
				"event_id", event.ID,
				"event_type", event.EventType,
				"product_id", event.AggregateID,
				"attempt", event.RetryCount+1,
				"error", err)
			continue
		}
		delivered++
	}

	if len(events) > 0 {
		r.logger.Debug("outbox batch relayed", "due", len(events), "delivered", delivered)
	}
	return delivered, nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	if event.TargetStream == "" {
		event.TargetStream = DefaultTargetStream
	}

	values, err := streamValues(event)
	if err == nil {
		args := &redis.XAddArgs{Stream: event.TargetStream, Values: values}
		if r.maxLen > 0 {
			args.MaxLen = r.maxLen
			args.Approx = true
		}
		if err = r.redis.XAdd(ctx, args).Err(); err != nil {
			err = fmt.Errorf("failed to append to %s: %w", event.TargetStream, err)
		}
	}
	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to record relay failure", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("appended but not marked processed: %w", err)
	}

	r.logger.Info("product event relayed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"product_id", event.AggregateID,
		"stream", event.TargetStream)
	return nil
}

// streamValues renders event as the field map of one stream entry.
func streamValues(event *OutboxEvent) (map[string]interface{}, error) {
	data, err := json.Marshal(StreamEnvelope{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		QueuedAt:      event.CreatedAt.UTC(),
		Payload:       event.Payload,
		Metadata: EnvelopeMetadata{
			Source:       Source,
			Attempt:      event.RetryCount + 1,
			TargetStream: event.TargetStream,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope for event %s: %w", event.ID, err)
	}

	return map[string]interface{}{
		FieldData:      string(data),
		FieldEventType: event.EventType,
		FieldProductID: event.AggregateID,
		FieldOutboxID:  event.ID.String(),
		FieldQueuedAt:  strconv.FormatInt(event.CreatedAt.UnixMilli(), 10),
	}, nil
}
