package parser

import (
	"github.com/maltedev/grid-scraper/internal/models"
)

// Parser turns a fetched product page into a structured record. Missing
// fields are left nil; implementations never fail.
type Parser interface {
	Extract(markup string, sourceURL string) *models.ProductRecord
}
