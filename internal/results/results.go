// Package results exposes the documents the execution cluster writes back
// for each crawl: listing, counting, labelling, deletion and export.
package results

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
)

// ErrUnfiltered guards DeleteResults against wiping every crawl's results.
var ErrUnfiltered = errors.New("refusing to delete results without a crawl or query filter")

// ErrInvalidLabel signals a classify call without a label or URLs.
var ErrInvalidLabel = errors.New("classify needs a label and at least one url")

// Document is one fetched page.
type Document struct {
	ID        string    `json:"id"`
	CrawlID   string    `json:"crawlId"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	Label     string    `json:"label,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Query filters results. A zero Query matches everything.
type Query struct {
	CrawlIDs []string
	Text     string
	// Languages, when set, restricts each crawl's results to the listed
	// languages. Crawls missing from the map are unrestricted.
	Languages map[string][]string
}

// Unfiltered reports whether q would match every document.
func (q Query) Unfiltered() bool {
	return len(q.CrawlIDs) == 0 && strings.TrimSpace(q.Text) == ""
}

// Page is one window of a result listing.
type Page struct {
	Items []Document `json:"items"`
	Total int64      `json:"total"`
	Page  int        `json:"page"`
	Size  int        `json:"size"`
}

// Store reads and mutates the results index.
type Store interface {
	SearchResults(ctx context.Context, q Query, from, size int) ([]Document, int64, error)
	CountResults(ctx context.Context, q Query) (map[string]int64, error)
	DeleteResults(ctx context.Context, q Query) (int64, error)
	ClassifyResults(ctx context.Context, urls []string, label string) (int64, error)
}

// CrawlGetter resolves crawl records for language restriction.
type CrawlGetter interface {
	GetCrawl(ctx context.Context, id string) (*crawl.Crawl, error)
}

const (
	// DefaultPageSize applies when a listing asks for no size.
	DefaultPageSize = 20
	// MaxPageSize caps a single listing window.
	MaxPageSize = 1000
)

// Service applies request-level rules on top of a Store.
type Service struct {
	store  Store
	crawls CrawlGetter
}

// NewService constructs a Service.
func NewService(store Store, crawls CrawlGetter) *Service {
	return &Service{store: store, crawls: crawls}
}

// Search returns one page of results. With onlyCrawlLanguages each crawl's
// results are limited to the languages it was configured with.
func (s *Service) Search(ctx context.Context, q Query, onlyCrawlLanguages bool, page, size int) (Page, error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page < 0 {
		page = 0
	}
	if onlyCrawlLanguages {
		var err error
		if q, err = s.withCrawlLanguages(ctx, q); err != nil {
			return Page{}, err
		}
	}
	items, total, err := s.store.SearchResults(ctx, q, page*size, size)
	if err != nil {
		return Page{}, fmt.Errorf("search results: %w", err)
	}
	return Page{Items: items, Total: total, Page: page, Size: size}, nil
}

// Counts returns the number of results per crawl.
func (s *Service) Counts(ctx context.Context, q Query) (map[string]int64, error) {
	counts, err := s.store.CountResults(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count results: %w", err)
	}
	return counts, nil
}

// Delete removes the matching results. A query with neither crawl ids nor
// text is rejected before the store is touched.
func (s *Service) Delete(ctx context.Context, q Query) (int64, error) {
	if q.Unfiltered() {
		return 0, ErrUnfiltered
	}
	n, err := s.store.DeleteResults(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("delete results: %w", err)
	}
	return n, nil
}

// Classify sets label on every result with one of the given URLs.
func (s *Service) Classify(ctx context.Context, urls []string, label string) (int64, error) {
	label = strings.TrimSpace(label)
	if label == "" || len(urls) == 0 {
		return 0, ErrInvalidLabel
	}
	n, err := s.store.ClassifyResults(ctx, urls, label)
	if err != nil {
		return 0, fmt.Errorf("classify results: %w", err)
	}
	return n, nil
}

func (s *Service) withCrawlLanguages(ctx context.Context, q Query) (Query, error) {
	if s.crawls == nil || len(q.CrawlIDs) == 0 {
		return q, nil
	}
	q.Languages = make(map[string][]string, len(q.CrawlIDs))
	for _, id := range q.CrawlIDs {
		c, err := s.crawls.GetCrawl(ctx, id)
		if err != nil {
			return q, fmt.Errorf("resolve crawl languages: %w", err)
		}
		q.Languages[id] = append([]string(nil), c.Languages...)
	}
	return q, nil
}
