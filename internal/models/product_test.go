package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestHasRequiredFields(t *testing.T) {
	price := decimal.RequireFromString("19.99")
	zero := decimal.Zero

	tests := []struct {
		name     string
		record   *ProductRecord
		expected bool
	}{
		{"empty record", NewProductRecord("example.com"), false},
		{"title only", &ProductRecord{Title: StringPtr("Mouse")}, false},
		{"price only", &ProductRecord{Price: &price}, false},
		{"blank title", &ProductRecord{Title: StringPtr(""), Price: &price}, false},
		{"zero price", &ProductRecord{Title: StringPtr("Mouse"), Price: &zero}, false},
		{"title and price", &ProductRecord{Title: StringPtr("Mouse"), Price: &price}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.record.HasRequiredFields())
		})
	}
}

func TestNewProductDocument(t *testing.T) {
	price := decimal.RequireFromString("19.99")
	record := &ProductRecord{
		Title:           StringPtr("Wireless Mouse"),
		NormalizedTitle: StringPtr("wireless-mouse"),
		Price:           &price,
		Currency:        StringPtr("USD"),
		CategoryName:    StringPtr("Electronics"),
		CategorySlug:    StringPtr("electronics"),
		SourceDomain:    "example.com",
	}
	assets := []ImageAsset{
		{Fingerprint: "aaa", Format: "png", StorageKey: "aaa.png", StorageURI: "gs://img/aaa.png"},
		{Fingerprint: "bbb", Format: "jpeg", StorageKey: "bbb.jpeg", StorageURI: "gs://img/bbb.jpeg"},
	}

	doc := NewProductDocument("https://example.com/p/1", record, assets)

	assert.Equal(t, "Wireless Mouse", doc.Title)
	assert.Equal(t, "wireless-mouse", doc.NormalizedTitle)
	assert.True(t, doc.Price.Equal(price))
	assert.Equal(t, "USD", doc.Currency)
	assert.Equal(t, []string{"gs://img/aaa.png", "gs://img/bbb.jpeg"}, doc.Images)
	assert.Equal(t, []string{"aaa", "bbb"}, doc.ImageHashes)
	assert.Equal(t, ListingStatusDraft, doc.ListingStatus)
	assert.NotNil(t, doc.EnrichedFields)
	assert.False(t, doc.CreatedAt.IsZero())
}

func TestStringValue(t *testing.T) {
	assert.Equal(t, "", StringValue(nil))
	assert.Equal(t, "x", StringValue(StringPtr("x")))
}

func TestIsModerationStatus(t *testing.T) {
	assert.True(t, IsModerationStatus(ListingStatusApproved))
	assert.True(t, IsModerationStatus(ListingStatusRejected))
	assert.False(t, IsModerationStatus(ListingStatusDraft))
	assert.False(t, IsModerationStatus("enriched"))
	assert.False(t, IsModerationStatus(""))
	assert.False(t, IsModerationStatus("APPROVED"))
}
