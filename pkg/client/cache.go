package client

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

const (
	keyCrawls    = "crawls"
	keyLanguages = "languages"
	keyCountries = "countries"
	prefixResult = "results?"
	prefixCounts = "counts?"
)

// Cache memoizes read calls on a Client. Every read takes a refresh flag:
// false serves a cached value when one exists, true always reloads. Writes
// made through the Cache invalidate the entries they affect; writes made
// elsewhere need an explicit Invalidate. Concurrent non-refresh loads of the
// same key share one request. Callers receive copies and may modify them.
type Cache struct {
	client *Client
	group  singleflight.Group

	mu      sync.RWMutex
	entries map[string]any
	// gen is bumped by every invalidation; loads started under an older
	// generation are returned but not stored.
	gen uint64
}

// NewCache wraps client.
func NewCache(client *Client) *Cache {
	return &Cache{client: client, entries: make(map[string]any)}
}

// Client returns the wrapped client for uncached calls.
func (c *Cache) Client() *Client {
	return c.client
}

func cached[T any](
	ctx context.Context,
	c *Cache,
	key string,
	refresh bool,
	clone func(T) T,
	load func(context.Context) (T, error),
) (T, error) {
	var zero T
	if !refresh {
		c.mu.RLock()
		v, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return clone(v.(T)), nil
		}
	}

	fetch := func() (any, error) {
		c.mu.RLock()
		gen := c.gen
		c.mu.RUnlock()
		out, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.entries[key] = out
		}
		c.mu.Unlock()
		return out, nil
	}

	// A refresh must observe state after the call, so it never joins a load
	// that may have started before an invalidation.
	if refresh {
		v, err := fetch()
		if err != nil {
			return zero, err
		}
		return clone(v.(T)), nil
	}
	v, err, _ := c.group.Do(key, fetch)
	if err != nil {
		return zero, err
	}
	return clone(v.(T)), nil
}

func cloneCrawls(in []Crawl) []Crawl {
	if in == nil {
		return nil
	}
	out := make([]Crawl, len(in))
	for i := range in {
		out[i] = *in[i].Clone()
	}
	return out
}

func clonePage(p Page) Page {
	p.Items = slices.Clone(p.Items)
	return p
}

// Crawls lists crawls.
func (c *Cache) Crawls(ctx context.Context, refresh bool) ([]Crawl, error) {
	return cached(ctx, c, keyCrawls, refresh, cloneCrawls, c.client.ListCrawls)
}

// Results returns one page of results, keyed by the full parameter set.
func (c *Cache) Results(ctx context.Context, p ResultParams, refresh bool) (Page, error) {
	return cached(ctx, c, prefixResult+p.values().Encode(), refresh, clonePage, func(ctx context.Context) (Page, error) {
		return c.client.Results(ctx, p)
	})
}

// ResultCounts returns per-crawl result counts.
func (c *Cache) ResultCounts(ctx context.Context, p ResultParams, refresh bool) (map[string]int64, error) {
	return cached(ctx, c, prefixCounts+p.values().Encode(), refresh, maps.Clone[map[string]int64], func(ctx context.Context) (map[string]int64, error) {
		return c.client.ResultCounts(ctx, p)
	})
}

// Languages lists supported languages.
func (c *Cache) Languages(ctx context.Context, refresh bool) ([]string, error) {
	return cached(ctx, c, keyLanguages, refresh, slices.Clone[[]string], c.client.Languages)
}

// Countries lists supported countries.
func (c *Cache) Countries(ctx context.Context, refresh bool) ([]string, error) {
	return cached(ctx, c, keyCountries, refresh, slices.Clone[[]string], c.client.Countries)
}

// CreateCrawl creates a crawl and invalidates the crawl list.
func (c *Cache) CreateCrawl(ctx context.Context, req *Crawl) (*Crawl, error) {
	out, err := c.client.CreateCrawl(ctx, req)
	if err == nil {
		c.InvalidateCrawls()
	}
	return out, err
}

// StopCrawl stops a crawl and invalidates the crawl list.
func (c *Cache) StopCrawl(ctx context.Context, id string) (*Crawl, error) {
	out, err := c.client.StopCrawl(ctx, id)
	if err == nil {
		c.InvalidateCrawls()
	}
	return out, err
}

// DeleteCrawl deletes a crawl record and invalidates the crawl list.
func (c *Cache) DeleteCrawl(ctx context.Context, id string) error {
	err := c.client.DeleteCrawl(ctx, id)
	if err == nil {
		c.InvalidateCrawls()
	}
	return err
}

// DeleteResults deletes results and invalidates cached results and counts.
// The unfiltered guard applies as on Client.
func (c *Cache) DeleteResults(ctx context.Context, p ResultParams) (int64, error) {
	n, err := c.client.DeleteResults(ctx, p)
	if err == nil {
		c.InvalidateResults()
	}
	return n, err
}

// ClassifyResults labels results and invalidates cached result pages.
func (c *Cache) ClassifyResults(ctx context.Context, urls []string, label string) (int64, error) {
	n, err := c.client.ClassifyResults(ctx, urls, label)
	if err == nil {
		c.invalidatePrefix(prefixResult)
	}
	return n, err
}

// InvalidateCrawls drops the cached crawl list.
func (c *Cache) InvalidateCrawls() {
	c.mu.Lock()
	c.gen++
	delete(c.entries, keyCrawls)
	c.mu.Unlock()
}

// InvalidateResults drops cached result pages and counts.
func (c *Cache) InvalidateResults() {
	c.invalidatePrefix(prefixResult)
	c.invalidatePrefix(prefixCounts)
}

// Invalidate drops everything.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.entries = make(map[string]any)
	c.mu.Unlock()
}

func (c *Cache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}
