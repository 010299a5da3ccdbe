package models

// SeedSource is a listing page whose links lead to product pages.
type SeedSource struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	LinkSelector string `json:"link_selector"`
}
