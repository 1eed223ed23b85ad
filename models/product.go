// Package models defines data structures for the scraper.
package models

import "time"

// Record is a single item written to a feed store.
type Record interface {
	// Key identifies the record for de-duplication. An empty key is never de-duplicated.
	Key() string
	// Fields flattens the record into column name -> value pairs.
	Fields() map[string]string
}

// Product core column names, in CSV order.
const (
	FieldID       = "id"
	FieldName     = "name"
	FieldURL      = "url"
	FieldImageURL = "image_url"
)

// CoreFields lists the fixed product columns.
var CoreFields = []string{FieldID, FieldName, FieldURL, FieldImageURL}

// Product is one catalogue item scraped from a detail page.
type Product struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	URL      string            `json:"url"`
	Details  map[string]string `json:"details"`
	ImageURL string            `json:"image_url,omitempty"`
}

// Key returns the product id.
func (p *Product) Key() string {
	return p.ID
}

// Fields merges the detail attributes with the core fields. Core fields win on
// a name clash.
func (p *Product) Fields() map[string]string {
	out := make(map[string]string, len(p.Details)+len(CoreFields))
	for k, v := range p.Details {
		out[k] = v
	}
	out[FieldID] = p.ID
	out[FieldName] = p.Name
	out[FieldURL] = p.URL
	out[FieldImageURL] = p.ImageURL
	return out
}

// MetricsRow is one data row of a reference table keyed by header text.
type MetricsRow map[string]string

// Key is empty: identical rows in a table are kept.
func (m MetricsRow) Key() string {
	return ""
}

// Fields returns a copy of the row.
func (m MetricsRow) Fields() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HasData reports whether any value in the row is non-empty.
func (m MetricsRow) HasData() bool {
	for _, v := range m {
		if v != "" {
			return true
		}
	}
	return false
}

// ScraperResult holds the overall result of scraping one feed.
type ScraperResult struct {
	Feed         string
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	PageCount    int
}
