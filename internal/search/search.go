// Package search provides crawl.SearchProvider implementations used to find
// seed URLs.
package search

import (
	"context"
	"strings"
	"sync"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/guard"
)

// Static answers queries from a fixed table. Queries are matched on their
// text; a "<lang>:<text>" key takes precedence so tests can vary results by
// language. Unknown queries return Default.
type Static struct {
	mu      sync.RWMutex
	Results map[string][]string
	Default []string
}

// NewStatic builds a Static provider from a query table.
func NewStatic(results map[string][]string) *Static {
	return &Static{Results: results}
}

// Search implements crawl.SearchProvider.
func (s *Static) Search(ctx context.Context, q crawl.SearchQuery) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	urls, ok := s.Results[q.Language+":"+q.Text]
	if !ok {
		urls, ok = s.Results[q.Text]
	}
	if !ok {
		urls = s.Default
	}
	if q.Limit > 0 && len(urls) > q.Limit {
		urls = urls[:q.Limit]
	}
	return append([]string(nil), urls...), nil
}

// Set replaces the answer for a query.
func (s *Static) Set(query string, urls ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Results == nil {
		s.Results = make(map[string][]string)
	}
	s.Results[strings.TrimSpace(query)] = urls
}

// Guarded runs a provider through a guard.Guard.
type Guarded struct {
	next  crawl.SearchProvider
	guard *guard.Guard
}

// NewGuarded wraps next.
func NewGuarded(next crawl.SearchProvider, g *guard.Guard) *Guarded {
	return &Guarded{next: next, guard: g}
}

// Search implements crawl.SearchProvider.
func (g *Guarded) Search(ctx context.Context, q crawl.SearchQuery) ([]string, error) {
	return guard.Do(ctx, g.guard, func(ctx context.Context) ([]string, error) {
		return g.next.Search(ctx, q)
	})
}
