package viewmodel

// OpenGraph holds the og: meta tags for a page
type OpenGraph struct {
	Title       string
	Description string
	URL         string
	Image       string
}
