package database

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id                 UUID PRIMARY KEY,
		source_domain      TEXT NOT NULL,
		source_url         TEXT NOT NULL,
		source_product_id  TEXT,
		title              TEXT NOT NULL,
		normalized_title   TEXT NOT NULL,
		description        TEXT,
		price              NUMERIC(14, 2) NOT NULL,
		currency           TEXT NOT NULL,
		images             TEXT[] NOT NULL DEFAULT '{}',
		image_hashes       TEXT[] NOT NULL DEFAULT '{}',
		seller_name        TEXT,
		seller_rating      DOUBLE PRECISION,
		reviews_count      INTEGER,
		trust_score        DOUBLE PRECISION NOT NULL,
		trend_score        DOUBLE PRECISION NOT NULL,
		category_name      TEXT,
		category_slug      TEXT,
		listing_status     TEXT NOT NULL,
		provenance_raw_key TEXT,
		shopify_product_id TEXT,
		enriched_fields    JSONB NOT NULL DEFAULT '{}',
		rejection_reason   TEXT,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_source ON products (source_domain, source_product_id)`,
	`CREATE INDEX IF NOT EXISTS idx_products_category ON products (category_slug)`,
	`CREATE TABLE IF NOT EXISTS categories (
		slug          TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		product_count INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS scraper_status (
		id          TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		run_id      TEXT,
		last_start  TIMESTAMPTZ,
		last_finish TIMESTAMPTZ,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL,
		retry_count    INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at)`,
}

// EnsureSchema creates the tables the scraper writes to. It is idempotent.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
