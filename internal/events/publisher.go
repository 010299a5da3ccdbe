package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/grid-scraper/internal/database"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	// EventTypeProductScraped is published after a product document is stored
	EventTypeProductScraped EventType = "PRODUCT_SCRAPED"

	ProductsStream = "stream:products"
)

// ProductScrapedPayload represents the payload for PRODUCT_SCRAPED events
type ProductScrapedPayload struct {
	EventID         string          `json:"event_id"`
	EventType       string          `json:"event_type"`
	Timestamp       time.Time       `json:"timestamp"`
	RunID           string          `json:"run_id,omitempty"`
	ProductID       string          `json:"product_id"`
	SourceURL       string          `json:"source_url"`
	SourceDomain    string          `json:"source_domain"`
	SourceProductID string          `json:"source_product_id,omitempty"`
	Title           string          `json:"title"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	CategorySlug    string          `json:"category_slug,omitempty"`
	ImageHashes     []string        `json:"image_hashes,omitempty"`
	ListingStatus   string          `json:"listing_status"`
	Source          string          `json:"source"`
}

type transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes events to the transactional outbox; the relay moves them
// to Redis streams.
type Publisher struct {
	db     transactor
	outbox outboxWriter
	logger *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishProductScraped queues payload in a transaction of its own. Use
// PublishWithTx to queue it together with the product row.
func (p *Publisher) PublishProductScraped(ctx context.Context, payload *ProductScrapedPayload) error {
	err := p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.PublishWithTx(ctx, tx, payload)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// PublishWithTx stamps missing event metadata on payload and queues it for
// the products stream inside tx. The event commits or rolls back with tx.
func (p *Publisher) PublishWithTx(ctx context.Context, tx pgx.Tx, payload *ProductScrapedPayload) error {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeProductScraped)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if payload.Source == "" {
		payload.Source = database.Source
	}

	event, err := database.NewProductEvent(payload.ProductID, string(EventTypeProductScraped), ProductsStream, payload)
	if err != nil {
		return err
	}
	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return err
	}

	p.logger.Debug("product event queued",
		"event_id", payload.EventID,
		"outbox_id", event.ID,
		"product_id", payload.ProductID)
	return nil
}
