package parser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/grid-scraper/internal/models"
)

// DefaultMaxImages caps the number of image URLs kept per record.
const DefaultMaxImages = 5

// Selector chains, most site-specific first.
var (
	titleSelectors = []string{
		"#productTitle",
		"h1.product-title",
		`h1[class*="title"]`,
		"h1",
	}

	descriptionSelectors = []string{
		"#feature-bullets",
		"#productDescription",
		`div[class*="description"]`,
	}

	priceSelectors = []string{
		".a-price .a-offscreen",
		`[class*="price"]`,
		`[class*="Price"]`,
		"#price",
		".price",
	}

	imageSelectors = []string{
		"#imgTagWrapperId img",
		"#imgBlkFront",
		"#landingImage",
		`img[class*="product-image"]`,
		`div[class*="gallery"] img`,
	}

	breadcrumbSelectors = []string{
		"#wayfinding-breadcrumbs_feature_div ul a",
		"#nav-breadcrumbs a",
		`[class*="breadcrumb"] a`,
		".a-breadcrumb a",
	}

	sellerNameSelectors = []string{
		"#sellerProfileTriggerId",
		"#merchant-info a",
		`[class*="seller-name"]`,
		`[class*="store-name"]`,
	}

	sellerRatingSelectors = []string{
		"#seller-rating",
		`[class*="seller-rating"]`,
		`[class*="store-rating"]`,
	}

	reviewCountSelectors = []string{
		"#acrCustomerReviewText",
		`[data-hook="total-review-count"]`,
		`[class*="review-count"]`,
		`[class*="reviews-count"]`,
	}
)

// Breadcrumb labels that never name a category.
var categoryStoplist = map[string]bool{
	"home":            true,
	"products":        true,
	"back to results": true,
}

var nonRasterSuffixes = []string{".gif", ".svg", ".ico"}

var trackingFragments = []string{
	"facebook.com/tr",
	"/pixel.",
	"-pixel.",
	"_pixel.",
	"/spacer.",
	"/1x1.",
	"/blank.",
	"/beacon",
	"/tracking/",
}

type productIDPattern struct {
	domain  string
	pattern *regexp.Regexp
	group   int
}

// GenericParser extracts product fields from arbitrary storefront markup by
// trying fixed selector chains; the first strategy that yields a value wins.
type GenericParser struct {
	maxImages         int
	productIDPatterns []productIDPattern
	ratingPatterns    []*regexp.Regexp
	countPattern      *regexp.Regexp
}

func NewGenericParser(maxImages int) *GenericParser {
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	return &GenericParser{
		maxImages: maxImages,
		productIDPatterns: []productIDPattern{
			{domain: "amazon", pattern: regexp.MustCompile(`/(dp|gp/product)/([A-Z0-9]{10})`), group: 2},
			{domain: "aliexpress", pattern: regexp.MustCompile(`/item/(\d+)\.html`), group: 1},
		},
		ratingPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:out of|von|/)\s*5`),
			regexp.MustCompile(`^(\d(?:[.,]\d+)?)$`),
		},
		countPattern: regexp.MustCompile(`\d+`),
	}
}

func (p *GenericParser) Extract(markup string, sourceURL string) *models.ProductRecord {
	record := models.NewProductRecord(hostOf(sourceURL))
	record.SourceProductID = p.extractProductID(record.SourceDomain, sourceURL)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return record
	}

	if title, ok := firstText(doc, titleSelectors); ok {
		record.Title = &title
		slug := Slugify(title)
		record.NormalizedTitle = &slug
	}

	if description, ok := firstText(doc, descriptionSelectors); ok {
		record.Description = &description
	}

	p.extractPrice(doc, record)
	record.Images = p.extractImages(doc)

	if name, ok := extractCategory(doc); ok {
		record.CategoryName = &name
		slug := Slugify(name)
		record.CategorySlug = &slug
	}

	if name, ok := firstText(doc, sellerNameSelectors); ok {
		record.Seller.Name = &name
	}
	if rating, ok := firstValue(doc, sellerRatingSelectors, p.parseRating); ok {
		record.Seller.Rating = &rating
	}
	if count, ok := firstValue(doc, reviewCountSelectors, p.parseCount); ok {
		record.ReviewsCount = &count
	}

	return record
}

func (p *GenericParser) extractProductID(domain, sourceURL string) *string {
	for _, candidate := range p.productIDPatterns {
		if !strings.Contains(domain, candidate.domain) {
			continue
		}
		if m := candidate.pattern.FindStringSubmatch(sourceURL); m != nil {
			id := m[candidate.group]
			return &id
		}
		return nil
	}
	return nil
}

// extractPrice scans the price chain until a non-zero amount is found. A zero
// amount is kept only when no later selector produces a better one.
func (p *GenericParser) extractPrice(doc *goquery.Document, record *models.ProductRecord) {
	for _, selector := range priceSelectors {
		node := doc.Find(selector).First()
		if node.Length() == 0 {
			continue
		}

		match, ok := MatchPrice(cleanText(node.Text()))
		if !ok {
			continue
		}

		amount := match.Amount
		currency := ResolveCurrency(match.Token, record.SourceDomain)
		record.Price = &amount
		record.Currency = &currency

		if !amount.IsZero() {
			return
		}
	}
}

func (p *GenericParser) extractImages(doc *goquery.Document) []string {
	images := make([]string, 0, p.maxImages)
	seen := make(map[string]struct{})

	for _, selector := range imageSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			src := strings.TrimSpace(s.AttrOr("src", ""))
			if src == "" {
				src = strings.TrimSpace(s.AttrOr("data-src", ""))
			}
			if !acceptImageURL(src) {
				return
			}
			if _, dup := seen[src]; dup {
				return
			}
			seen[src] = struct{}{}
			images = append(images, src)
		})
	}

	if len(images) > p.maxImages {
		images = images[:p.maxImages]
	}
	return images
}

// extractCategory takes the second-to-last breadcrumb link of the first chain
// entry with more than one link; the last link is the current page.
func extractCategory(doc *goquery.Document) (string, bool) {
	for _, selector := range breadcrumbSelectors {
		links := doc.Find(selector)
		if links.Length() < 2 {
			continue
		}

		name := cleanText(links.Eq(links.Length() - 2).Text())
		if name == "" || categoryStoplist[strings.ToLower(name)] {
			continue
		}
		return name, true
	}
	return "", false
}

func (p *GenericParser) parseRating(text string) (float64, bool) {
	for _, pattern := range p.ratingPatterns {
		m := pattern.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		rating, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err == nil && rating >= 0 && rating <= 5 {
			return rating, true
		}
	}
	return 0, false
}

// parseCount reads "1,234 ratings" or "1.234 Bewertungen" as 1234.
func (p *GenericParser) parseCount(text string) (int, bool) {
	text = strings.NewReplacer(",", "", ".", "", " ", "", "\u00a0", "").Replace(text)
	match := p.countPattern.FindString(text)
	if match == "" {
		return 0, false
	}
	count, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return count, true
}

func acceptImageURL(src string) bool {
	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}

	path := strings.ToLower(u.Path)
	for _, suffix := range nonRasterSuffixes {
		if strings.HasSuffix(path, suffix) {
			return false
		}
	}

	target := strings.ToLower(u.Host + u.Path)
	for _, fragment := range trackingFragments {
		if strings.Contains(target, fragment) {
			return false
		}
	}
	return true
}

func firstText(doc *goquery.Document, selectors []string) (string, bool) {
	return firstValue(doc, selectors, func(text string) (string, bool) {
		return text, text != ""
	})
}

// firstValue walks a selector chain and returns the first value read reports
// as present. Only the first node matching each selector is considered.
func firstValue[T any](doc *goquery.Document, selectors []string, read func(string) (T, bool)) (T, bool) {
	for _, selector := range selectors {
		node := doc.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		if v, ok := read(cleanText(node.Text())); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
