package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/grid-scraper/internal/models"
)

// TxHook runs extra writes inside a repository transaction. Returning an
// error rolls the whole transaction back.
type TxHook func(ctx context.Context, tx pgx.Tx) error

// ProductRepository persists product documents and their category counters.
type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// SaveProduct inserts doc and bumps its category's product count in the same
// transaction, then runs hooks in that transaction with doc.ID already set.
// A missing ID is generated. It returns the stored ID.
func (r *ProductRepository) SaveProduct(ctx context.Context, doc *models.ProductDocument, hooks ...TxHook) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	enriched := doc.EnrichedFields
	if enriched == nil {
		enriched = map[string]string{}
	}
	enrichedJSON, err := json.Marshal(enriched)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched fields: %w", err)
	}

	err = r.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := insertProduct(ctx, tx, doc, enrichedJSON); err != nil {
			return err
		}
		if doc.CategorySlug != nil && *doc.CategorySlug != "" {
			if err := upsertCategory(ctx, tx, *doc.CategorySlug, models.StringValue(doc.CategoryName)); err != nil {
				return err
			}
		}
		for _, hook := range hooks {
			if err := hook(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return doc.ID, nil
}

func insertProduct(ctx context.Context, tx pgx.Tx, doc *models.ProductDocument, enrichedJSON []byte) error {
	query := `
		INSERT INTO products (
			id, source_domain, source_url, source_product_id,
			title, normalized_title, description, price, currency,
			images, image_hashes, seller_name, seller_rating, reviews_count,
			trust_score, trend_score, category_name, category_slug,
			listing_status, provenance_raw_key, shopify_product_id,
			enriched_fields, rejection_reason, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)`

	_, err := tx.Exec(ctx, query,
		doc.ID, doc.SourceDomain, doc.SourceURL, doc.SourceProductID,
		doc.Title, doc.NormalizedTitle, doc.Description, doc.Price.String(), doc.Currency,
		doc.Images, doc.ImageHashes, doc.Seller.Name, doc.Seller.Rating, doc.ReviewsCount,
		doc.TrustScore, doc.TrendScore, doc.CategoryName, doc.CategorySlug,
		doc.ListingStatus, doc.ProvenanceRawKey, doc.ShopifyProductID,
		enrichedJSON, doc.RejectionReason, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func upsertCategory(ctx context.Context, tx pgx.Tx, slug, name string) error {
	query := `
		INSERT INTO categories (slug, name, product_count, created_at, updated_at)
		VALUES ($1, $2, 1, now(), now())
		ON CONFLICT (slug) DO UPDATE SET
			product_count = categories.product_count + 1,
			updated_at = now()`

	if _, err := tx.Exec(ctx, query, slug, name); err != nil {
		return fmt.Errorf("failed to upsert category %s: %w", slug, err)
	}
	return nil
}

// CategoryCount returns the product count recorded for slug, or 0.
func (r *ProductRepository) CategoryCount(ctx context.Context, slug string) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx,
		"SELECT product_count FROM categories WHERE slug = $1", slug).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get category count: %w", err)
	}
	return count, nil
}

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrInvalidListingStatus = errors.New("listing status must be approved or rejected")
)

// UpdateListingStatus records a moderation decision for product id. Only
// approved and rejected are accepted. reason is kept for rejections and
// cleared on approval.
func (r *ProductRepository) UpdateListingStatus(ctx context.Context, id, status, reason string) error {
	if !models.IsModerationStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidListingStatus, status)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}

	var rejection *string
	if status == models.ListingStatusRejected && reason != "" {
		rejection = &reason
	}

	tag, err := r.db.pool.Exec(ctx,
		"UPDATE products SET listing_status = $1, rejection_reason = $2, updated_at = now() WHERE id = $3",
		status, rejection, id)
	if err != nil {
		return fmt.Errorf("failed to update listing status of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return nil
}
