package types

import (
	"net/url"
	"time"
)

// TargetKind labels the role of a URL discovered during traversal.
type TargetKind string

const (
	// TargetCategory is a paginated category listing page.
	TargetCategory TargetKind = "category-listing"
	// TargetBook is a single book detail page.
	TargetBook TargetKind = "detail-page"
)

// CrawlTarget is a URL queued for fetching together with its role.
type CrawlTarget struct {
	URL  *url.URL
	Kind TargetKind
}

// Document is the raw result of fetching one page.
type Document struct {
	URL        *url.URL
	Body       []byte
	StatusCode int
	FetchedAt  time.Time
}

// Book holds the structured fields extracted from a detail page.
// SourceURL is the natural key; a surrogate ID is assigned on first persist.
type Book struct {
	Name              string    `json:"name"`
	Description       *string   `json:"description,omitempty"`
	Category          string    `json:"category"`
	PriceIncludingTax float64   `json:"price_including_tax"`
	PriceExcludingTax float64   `json:"price_excluding_tax"`
	Availability      string    `json:"availability"`
	NumberOfReviews   int       `json:"number_of_reviews"`
	ImageURL          string    `json:"image_url,omitempty"`
	Rating            int       `json:"rating"`
	SourceURL         string    `json:"source_url"`
	FetchedAt         time.Time `json:"crawl_timestamp"`
	RawHTML           string    `json:"-"`
}

// StoredBook is a Book as persisted by the repository.
type StoredBook struct {
	Book
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	DataHash    string    `json:"-"`
	LastCrawlAt time.Time `json:"last_crawl_at"`
}

// CrawlReport aggregates the outcome of one crawl run. Partial runs are
// valid reports: failures are counted, never fatal past category discovery.
type CrawlReport struct {
	Books           []Book         `json:"-"`
	TotalBooks      int            `json:"total_items_found"`
	PermanentMisses int            `json:"total_permanent_misses"`
	ParseFailures   int            `json:"total_parse_failures"`
	FetchFailures   int            `json:"total_fetch_failures"`
	Changes         []ChangeRecord `json:"change_records,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	Duration        time.Duration  `json:"-"`
}
