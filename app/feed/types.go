package feed

import (
	"time"
)

type Dialect string

const (
	DialectRSS  Dialect = "rss"
	DialectAtom Dialect = "atom"
)

type Metadata struct {
	Dialect     Dialect
	Title       string
	Link        string
	Description string
	Language    string
}

// Item is a normalized entry from either dialect. Items are transient until
// the deduplicator accepts them and a content record is created.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string // raw HTML
	Author      string
	PublishedAt time.Time
	Categories  []string
	Enclosures  []Enclosure

	FeedID      int64
	SourceSite  string
	ContentHash string
}

type Enclosure struct {
	URL    string `json:"url"`
	Type   string `json:"type"`
	Length int64  `json:"length"`
}

func (i Item) HasMedia() bool {
	return len(i.Enclosures) > 0
}

// Settings is the per-feed settings blob.
type Settings struct {
	ExtractContent bool `mapstructure:"extract_content"`
	MaxItems       int  `mapstructure:"max_items"`
	Timeout        int  `mapstructure:"timeout"` // seconds
}

type FetchKind string

const (
	FetchNotModified FetchKind = "not_modified"
	FetchSuccess     FetchKind = "success"
	FetchFailure     FetchKind = "failure"
)

type FetchOutcome struct {
	Kind         FetchKind
	StatusCode   int
	Body         []byte
	ETag         string
	LastModified string
	Err          *FetchError
}
