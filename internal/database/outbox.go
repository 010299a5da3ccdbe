package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox row states. Pending and failed rows are picked up by the relay;
// processed and dead-lettered rows are never touched again.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of failed deliveries after which an event
	// is dead-lettered.
	MaxRetryCount = 5

	// DefaultTargetStream receives events that name no stream of their own.
	DefaultTargetStream = "stream:products"

	// AggregateProduct is the aggregate type of every product event.
	AggregateProduct = "product"

	maxRetryBackoff = 300 * time.Second
)

// ErrOutboxEventNotFound is returned when a status change targets an unknown row.
var ErrOutboxEventNotFound = errors.New("outbox event not found")

// OutboxEvent is one row of the transactional outbox.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

// NewProductEvent marshals payload into an outbox event keyed by productID.
func NewProductEvent(productID, eventType, stream string, payload any) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &OutboxEvent{
		AggregateType: AggregateProduct,
		AggregateID:   productID,
		EventType:     eventType,
		Payload:       data,
		TargetStream:  stream,
	}, nil
}

const outboxColumns = `id, aggregate_type, aggregate_id, event_type,
	payload, target_stream, status, retry_count,
	error_message, created_at, processed_at, next_retry_at`

func scanOutboxEvent(row pgx.Row) (*OutboxEvent, error) {
	e := &OutboxEvent{}
	err := row.Scan(
		&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType,
		&e.Payload, &e.TargetStream, &e.Status, &e.RetryCount,
		&e.ErrorMessage, &e.CreatedAt, &e.ProcessedAt, &e.NextRetryAt,
	)
	return e, err
}

// OutboxRepository stores events next to the product rows they describe.
type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx queues event inside tx, so it commits or rolls back together
// with the caller's writes. Missing ID, status, stream and schedule are filled in.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.AggregateType == "" || event.EventType == "" || len(event.Payload) == 0 {
		return fmt.Errorf("outbox event is missing required fields")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultTargetStream
	}
	event.CreatedAt = time.Now()
	if event.NextRetryAt == nil {
		due := event.CreatedAt
		event.NextRetryAt = &due
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (`+outboxColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9, NULL, $10)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to queue %s for %s: %w", event.EventType, event.AggregateID, err)
	}
	return nil
}

// GetPending returns up to limit deliverable events, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= now()
		ORDER BY created_at
		LIMIT $3`,
		OutboxStatusPending, OutboxStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkProcessed records a successful stream append.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		"UPDATE outbox_event SET status = $1, processed_at = now(), error_message = NULL WHERE id = $2",
		OutboxStatusProcessed, id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrOutboxEventNotFound, id)
	}
	return nil
}

// MarkFailed bumps the retry count of a failed delivery and reschedules it,
// dead-lettering the event once MaxRetryCount is reached. The row is locked
// for the update so concurrent relays cannot lose an increment.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, deliveryErr error) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var retryCount int
		err := tx.QueryRow(ctx,
			"SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE", id).Scan(&retryCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrOutboxEventNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock event %s: %w", id, err)
		}

		retryCount++
		status := OutboxStatusFailed
		if retryCount >= MaxRetryCount {
			status = OutboxStatusDeadLetter
		}

		_, err = tx.Exec(ctx, `
			UPDATE outbox_event
			SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
			WHERE id = $5`,
			status, retryCount, deliveryErr.Error(), calculateNextRetryTime(retryCount), id)
		if err != nil {
			return fmt.Errorf("failed to mark event %s failed: %w", id, err)
		}
		return nil
	})
}

// Counts returns how many events await delivery and how many were dead-lettered.
func (r *OutboxRepository) Counts(ctx context.Context) (pending, deadLetter int64, err error) {
	err = r.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM outbox_event`,
		OutboxStatusPending, OutboxStatusFailed, OutboxStatusDeadLetter,
	).Scan(&pending, &deadLetter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return pending, deadLetter, nil
}

// calculateNextRetryTime backs off exponentially from 2s, capped at five minutes.
func calculateNextRetryTime(retryCount int) time.Time {
	backoff := maxRetryBackoff
	if retryCount < 9 {
		backoff = min(time.Duration(1<<retryCount)*time.Second, maxRetryBackoff)
	}
	return time.Now().Add(backoff)
}
