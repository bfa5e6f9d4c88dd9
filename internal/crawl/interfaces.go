package crawl

import (
	"context"
	"io"
	"time"
)

// Store persists crawl records in the shared registry and manages the
// per-crawl status indices read by the execution cluster.
type Store interface {
	GetCrawl(ctx context.Context, id string) (*Crawl, error)
	ListCrawls(ctx context.Context) ([]*Crawl, error)
	SaveCrawl(ctx context.Context, c *Crawl) (*Crawl, error)
	DeleteCrawl(ctx context.Context, c *Crawl) (*Crawl, error)
	AddToStatusIndex(ctx context.Context, c *Crawl, urls []string) error
	ClearStatusIndex(ctx context.Context, c *Crawl) error
}

// SearchQuery is one seed URL lookup against an external search provider.
type SearchQuery struct {
	Text     string
	Language string
	Limit    int
}

// SearchProvider returns result URLs for a query, best match first.
type SearchProvider interface {
	Search(ctx context.Context, q SearchQuery) ([]string, error)
}

// Translator translates a short text between two language codes.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// BlobStore writes archived crawl snapshots and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
