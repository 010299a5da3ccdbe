package parser

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_TitleAndPrice(t *testing.T) {
	parser := NewGenericParser(DefaultMaxImages)

	html := `<html><body>
		<h1 id="productTitle">  Wireless   Mouse </h1>
		<span class="a-price"><span class="a-offscreen">$19.99</span></span>
	</body></html>`

	record := parser.Extract(html, "https://example.com/products/wireless-mouse")

	require.NotNil(t, record.Title)
	assert.Equal(t, "Wireless Mouse", *record.Title)
	require.NotNil(t, record.NormalizedTitle)
	assert.Equal(t, "wireless-mouse", *record.NormalizedTitle)
	require.NotNil(t, record.Price)
	assert.Equal(t, "19.99", record.Price.String())
	require.NotNil(t, record.Currency)
	assert.Equal(t, "USD", *record.Currency)
	assert.Equal(t, "example.com", record.SourceDomain)
	assert.Nil(t, record.SourceProductID)
}

func TestExtract_TitleFallbacks(t *testing.T) {
	parser := NewGenericParser(DefaultMaxImages)

	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "id wins over heading",
			html:     `<h1>Generic</h1><span id="productTitle">Specific</span>`,
			expected: "Specific",
		},
		{
			name:     "class substring title heading",
			html:     `<h1 class="main-title-text">Desk Lamp</h1>`,
			expected: "Desk Lamp",
		},
		{
			name:     "empty id node falls through",
			html:     `<span id="productTitle">   </span><h1>Bare Heading</h1>`,
			expected: "Bare Heading",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := parser.Extract(tt.html, "https://shop.example.com/p/1")
			require.NotNil(t, record.Title)
			assert.Equal(t, tt.expected, *record.Title)
			require.NotNil(t, record.NormalizedTitle)
			assert.Equal(t, Slugify(tt.expected), *record.NormalizedTitle)
		})
	}
}

func TestExtract_NoFieldsFound(t *testing.T) {
	parser := NewGenericParser(DefaultMaxImages)

	record := parser.Extract(`<div>nothing to see</div>`, "https://example.com/x")

	assert.Nil(t, record.Title)
	assert.Nil(t, record.NormalizedTitle)
	assert.Nil(t, record.Description)
	assert.Nil(t, record.Price)
	assert.Nil(t, record.Currency)
	assert.Nil(t, record.CategoryName)
	assert.Nil(t, record.CategorySlug)
	assert.Nil(t, record.Seller.Name)
	assert.Nil(t, record.ReviewsCount)
	assert.NotNil(t, record.Images)
	assert.Empty(t, record.Images)
	assert.Equal(t, "example.com", record.SourceDomain)
}

func TestExtract_Description(t *testing.T) {
	parser := NewGenericParser(DefaultMaxImages)

	html := `<div id="feature-bullets"><ul>
		<li>Ergonomic   shape</li>
		<li>2.4GHz wireless</li>
	</ul></div>
	<div class="product-description">ignored</div>`

	record := parser.Extract(html, "https://example.com/p")

	require.NotNil(t, record.Description)
	assert.Equal(t, "Ergonomic shape 2.4GHz wireless", *record.Description)
}

func TestExtract_PriceCurrency(t *testing.T) {
	parser := NewGenericParser(DefaultMaxImages)

	tests := []struct {
		name             string
		html             string
		url              string
		expectedPrice    string
		expectedCurrency string
	}{
		{
			name:             "dollar symbol",
			html:             `<span class="a-price"><span class="a-offscreen">$19.99</span></span>`,
			url:              "https://example.com/p",
			expectedPrice:    "19.99",
			expectedCurrency: "USD",
		},
		{
			name:             "euro with continental separators",
			html:             `<div class="product-price">€1.234,56</div>`,
			url:              "https://shop.example.com/p",
			expectedPrice:    "1234.56",
			expectedCurrency: "EUR",
		},
		{
			name:             "pound with thousands comma",
			html:             `<span id="price">£1,234.56</span>`,
			url:              "https://shop.example.com/p",
			expectedPrice:    "1234.56",
			expectedCurrency: "GBP",
		},
		{
			name:             "trailing currency code",
			html:             `<span class="price">1999 CHF</span>`,
			url:              "https://shop.example.ch/p",
			expectedPrice:    "1999",
			expectedCurrency: "CHF",
		},
		{
			name:             "no symbol on amazon.de",
			html:             `<span class="a-price"><span class="a-offscreen">24,99</span></span>`,
			url:              "https://www.amazon.de/dp/B0ABCDEFGH",
			expectedPrice:    "24.99",
			expectedCurrency: "EUR",
		},
		{
			name:             "no symbol on amazon.co.uk",
			html:             `<span class="a-price"><span class="a-offscreen">24.99</span></span>`,
			url:              "https://www.amazon.co.uk/dp/B0ABCDEFGH",
			expectedPrice:    "24.99",
			expectedCurrency: "GBP",
		},
		{
			name:             "lone thousands group keeps two decimals",
			html:             `<span class="price">1.234</span>`,
			url:              "https://example.com/p",
			expectedPrice:    "1.23",
			expectedCurrency: "USD",
		},
		{
			name:             "zero price is superseded by a later selector",
			html:             `<span class="a-price"><span class="a-offscreen">$0.00</span></span><span id="price">$5.00</span>`,
			url:              "https://example.com/p",
			expectedPrice:    "5",
			expectedCurrency: "USD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := parser.Extract(tt.html, tt.url)
			require.NotNil(t, record.Price)
			assert.Equal(t, tt.expectedPrice, record.Price.String())
			require.NotNil(t, record.Currency)
			assert.Equal(t, tt.expectedCurrency, *record.Currency)
		})
	}
}

func TestExtract_MalformedPrice(t *testing.T) {
	parser := NewGenericParser(DefaultMaxImages)

	record := parser.Extract(`<span class="price">Call for price</span>`, "https://example.com/p")

	assert.Nil(t, record.Price)
	assert.Nil(t, record.Currency)
}

func TestExtract_Images(t *testing.T) {
	html := `
		<div id="imgTagWrapperId"><img src="https://cdn.example.com/a.jpg"></div>
		<img id="landingImage" src="https://cdn.example.com/a.jpg">
		<img class="product-image main" src="https://cdn.example.com/spinner.gif">
		<img class="product-image" src="//cdn.example.com/relative.jpg">
		<img class="product-image" data-src="https://cdn.example.com/b.jpg">
		<img class="product-image" src="https://cdn.example.com/logo.SVG">
		<img class="product-image" src="https://www.facebook.com/tr?id=1&ev=PageView">
		<div class="gallery-strip">
			<img src="https://cdn.example.com/c.jpg">
			<img src="https://cdn.example.com/d.png">
			<img src="https://cdn.example.com/e.webp">
			<img src="https://cdn.example.com/f.jpg">
		</div>`

	t.Run("default cap", func(t *testing.T) {
		record := NewGenericParser(DefaultMaxImages).Extract(html, "https://example.com/p")
		assert.Equal(t, []string{
			"https://cdn.example.com/a.jpg",
			"https://cdn.example.com/b.jpg",
			"https://cdn.example.com/c.jpg",
			"https://cdn.example.com/d.png",
			"https://cdn.example.com/e.webp",
		}, record.Images)
	})

	t.Run("custom cap", func(t *testing.T) {
		record := NewGenericParser(2).Extract(html, "https://example.com/p")
		assert.Equal(t, []string{
			"https://cdn.example.com/a.jpg",
			"https://cdn.example.com/b.jpg",
		}, record.Images)
	})

	t.Run("never exceeds cap and stays unique", func(t *testing.T) {
		record := NewGenericParser(0).Extract(html, "https://example.com/p")
		assert.LessOrEqual(t, len(record.Images), DefaultMaxImages)
		seen := map[string]bool{}
		for _, img := range record.Images {
			assert.False(t, seen[img], "duplicate %s", img)
			seen[img] = true
		}
	})
}

func TestExtract_Category(t *testing.T) {
	parser := NewGenericParser(DefaultMaxImages)

	tests := []struct {
		name         string
		html         string
		expectedName string
		expectedSlug string
		expectNil    bool
	}{
		{
			name: "second to last breadcrumb",
			html: `<div id="wayfinding-breadcrumbs_feature_div"><ul>
				<li><a href="/">Home</a></li>
				<li><a href="/electronics">Electronics</a></li>
				<li><a href="/mice">Mice</a></li>
			</ul></div>`,
			expectedName: "Electronics",
			expectedSlug: "electronics",
		},
		{
			name: "generic breadcrumb class",
			html: `<nav class="site-breadcrumbs">
				<a href="/">Shop</a><a href="/c/home-garden">Home &amp; Garden</a><a href="/p/1">Planter</a>
			</nav>`,
			expectedName: "Home & Garden",
			expectedSlug: "home-garden",
		},
		{
			name:      "stoplisted label",
			html:      `<div id="nav-breadcrumbs"><a>Back to results</a><a>Thing</a></div>`,
			expectNil: true,
		},
		{
			name:      "single link is the current page",
			html:      `<div id="nav-breadcrumbs"><a>Thing</a></div>`,
			expectNil: true,
		},
		{
			name: "stoplist falls through to next chain entry",
			html: `<div id="nav-breadcrumbs"><a>Home</a><a>Thing</a></div>
				<div class="a-breadcrumb"><a>Toys</a><a>Thing</a></div>`,
			expectedName: "Toys",
			expectedSlug: "toys",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := parser.Extract(tt.html, "https://example.com/p")
			if tt.expectNil {
				assert.Nil(t, record.CategoryName)
				assert.Nil(t, record.CategorySlug)
				return
			}
			require.NotNil(t, record.CategoryName)
			assert.Equal(t, tt.expectedName, *record.CategoryName)
			require.NotNil(t, record.CategorySlug)
			assert.Equal(t, tt.expectedSlug, *record.CategorySlug)
		})
	}
}

func TestExtract_SourceProductID(t *testing.T) {
	parser := NewGenericParser(DefaultMaxImages)

	tests := []struct {
		url      string
		expected string
	}{
		{"https://www.amazon.com/Some-Mouse/dp/B07FZ8S74R?ref=x", "B07FZ8S74R"},
		{"https://www.amazon.de/gp/product/B0ABCDEFGH/", "B0ABCDEFGH"},
		{"https://www.aliexpress.com/item/1005006123456789.html", "1005006123456789"},
		{"https://www.amazon.com/bestsellers", ""},
		{"https://example.com/dp/B07FZ8S74R", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			record := parser.Extract("<html></html>", tt.url)
			if tt.expected == "" {
				assert.Nil(t, record.SourceProductID)
				return
			}
			require.NotNil(t, record.SourceProductID)
			assert.Equal(t, tt.expected, *record.SourceProductID)
		})
	}
}

func TestExtract_SellerAndReviews(t *testing.T) {
	parser := NewGenericParser(DefaultMaxImages)

	html := `<a id="sellerProfileTriggerId"> Acme  Store </a>
		<span id="seller-rating">4.6 out of 5 stars</span>
		<span id="acrCustomerReviewText">1,234 ratings</span>`

	record := parser.Extract(html, "https://www.amazon.com/dp/B07FZ8S74R")

	require.NotNil(t, record.Seller.Name)
	assert.Equal(t, "Acme Store", *record.Seller.Name)
	require.NotNil(t, record.Seller.Rating)
	assert.InDelta(t, 4.6, *record.Seller.Rating, 0.0001)
	require.NotNil(t, record.ReviewsCount)
	assert.Equal(t, 1234, *record.ReviewsCount)
}

func TestExtract_SlugInvariant(t *testing.T) {
	parser := NewGenericParser(DefaultMaxImages)
	slugShape := regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

	titles := []string{
		"Wireless Mouse",
		"  USB-C Cable (2m) -- Braided!!",
		"ÜBER Kühlschrank 300L",
		"4K UHD 55\" Smart TV",
	}

	for _, title := range titles {
		t.Run(title, func(t *testing.T) {
			record := parser.Extract(`<h1 id="productTitle">`+title+`</h1>`, "https://example.com/p")
			require.NotNil(t, record.Title)
			require.NotNil(t, record.NormalizedTitle)
			assert.Regexp(t, slugShape, *record.NormalizedTitle)
		})
	}
}
