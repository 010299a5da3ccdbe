package scraper

import "github.com/maltedev/grid-scraper/internal/models"

// DefaultSources are the listing pages a full run starts from.
func DefaultSources() []models.SeedSource {
	return []models.SeedSource{
		{
			Name:         "AliExpress Trending",
			URL:          "https://www.aliexpress.com/category/100003109/computer-office.html",
			LinkSelector: `a[href*="/item/"]`,
		},
		{
			Name:         "Amazon Bestsellers",
			URL:          "https://www.amazon.com/bestsellers",
			LinkSelector: `a.a-link-normal[href*="/dp/"]`,
		},
	}
}
