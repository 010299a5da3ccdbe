package scraper

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/grid-scraper/internal/database"
	"github.com/maltedev/grid-scraper/internal/events"
	"github.com/maltedev/grid-scraper/internal/models"
)

var (
	ErrMissingRequiredFields = errors.New("record is missing title or price")
	ErrRunInProgress         = errors.New("a scrape run is already in progress")
)

// PageSource renders product pages and finds product links on listing pages.
type PageSource interface {
	FetchHTML(ctx context.Context, pageURL string) (string, error)
	DiscoverLinks(ctx context.Context, source models.SeedSource, max int) ([]string, error)
}

// ImageFetcher downloads raw image bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type ProductRepository interface {
	SaveProduct(ctx context.Context, doc *models.ProductDocument, hooks ...database.TxHook) (string, error)
	SetScraperStatus(ctx context.Context, status database.ScraperStatus) error
}

// EventPublisher queues events in the transaction that stores the product.
type EventPublisher interface {
	PublishWithTx(ctx context.Context, tx pgx.Tx, payload *events.ProductScrapedPayload) error
}
