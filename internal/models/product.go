package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductRecord is the structured result of extracting one product page.
// Optional fields are nil when no strategy produced a value.
type ProductRecord struct {
	Title           *string          `json:"title"`
	NormalizedTitle *string          `json:"normalized_title"`
	Description     *string          `json:"description"`
	Price           *decimal.Decimal `json:"price"`
	Currency        *string          `json:"currency"`
	Images          []string         `json:"images"`
	Seller          Seller           `json:"seller"`
	ReviewsCount    *int             `json:"reviews_count"`
	CategoryName    *string          `json:"category_name"`
	CategorySlug    *string          `json:"category_slug"`
	SourceProductID *string          `json:"source_product_id"`
	SourceDomain    string           `json:"source_domain"`
}

type Seller struct {
	Name   *string  `json:"name"`
	Rating *float64 `json:"rating"`
}

// ImageAsset describes one content-addressed image. StorageURI is empty until
// the asset has been stored.
type ImageAsset struct {
	SourceURL   string `json:"source_url,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Format      string `json:"format"`
	StorageKey  string `json:"storage_key"`
	StorageURI  string `json:"storage_uri,omitempty"`
}

// ListingStatus values for stored product documents. Scraped products start
// as drafts; a moderator approves or rejects them.
const (
	ListingStatusDraft    = "draft"
	ListingStatusApproved = "approved"
	ListingStatusRejected = "rejected"
)

// IsModerationStatus reports whether status is a decision a moderator may set.
func IsModerationStatus(status string) bool {
	return status == ListingStatusApproved || status == ListingStatusRejected
}

// ProductDocument is the persisted form of a product: the extracted record
// plus provenance, ingested images and scoring added by the scrape run.
type ProductDocument struct {
	ID               string            `json:"id"`
	SourceDomain     string            `json:"source_domain"`
	SourceURL        string            `json:"source_url"`
	SourceProductID  *string           `json:"source_product_id"`
	Title            string            `json:"title"`
	NormalizedTitle  string            `json:"normalized_title"`
	Description      *string           `json:"description"`
	Price            decimal.Decimal   `json:"price"`
	Currency         string            `json:"currency"`
	Images           []string          `json:"images"`
	ImageHashes      []string          `json:"image_hashes"`
	Seller           Seller            `json:"seller"`
	ReviewsCount     *int              `json:"reviews_count"`
	TrustScore       float64           `json:"trust_score"`
	TrendScore       float64           `json:"trend_score"`
	CategoryName     *string           `json:"category_name"`
	CategorySlug     *string           `json:"category_slug"`
	ListingStatus    string            `json:"listing_status"`
	ProvenanceRawKey *string           `json:"provenance_raw_key"`
	ShopifyProductID *string           `json:"shopify_product_id"`
	EnrichedFields   map[string]string `json:"enriched_fields"`
	RejectionReason  *string           `json:"rejection_reason"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func NewProductRecord(sourceDomain string) *ProductRecord {
	return &ProductRecord{
		SourceDomain: sourceDomain,
		Images:       make([]string, 0),
	}
}

// HasRequiredFields reports whether the record carries a title and a non-zero
// price, the minimum a scrape run needs to persist it.
func (r *ProductRecord) HasRequiredFields() bool {
	return r.Title != nil && *r.Title != "" && r.Price != nil && !r.Price.IsZero()
}

// NewProductDocument assembles a draft document from a record and the assets
// that were successfully ingested for it.
func NewProductDocument(sourceURL string, r *ProductRecord, assets []ImageAsset) *ProductDocument {
	now := time.Now()
	doc := &ProductDocument{
		SourceDomain:    r.SourceDomain,
		SourceURL:       sourceURL,
		SourceProductID: r.SourceProductID,
		Title:           StringValue(r.Title),
		NormalizedTitle: StringValue(r.NormalizedTitle),
		Description:     r.Description,
		Currency:        StringValue(r.Currency),
		Images:          make([]string, 0, len(assets)),
		ImageHashes:     make([]string, 0, len(assets)),
		Seller:          r.Seller,
		ReviewsCount:    r.ReviewsCount,
		CategoryName:    r.CategoryName,
		CategorySlug:    r.CategorySlug,
		ListingStatus:   ListingStatusDraft,
		EnrichedFields:  map[string]string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if r.Price != nil {
		doc.Price = *r.Price
	}
	for _, a := range assets {
		doc.Images = append(doc.Images, a.StorageURI)
		doc.ImageHashes = append(doc.ImageHashes, a.Fingerprint)
	}
	return doc
}

func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func StringPtr(s string) *string {
	return &s
}
