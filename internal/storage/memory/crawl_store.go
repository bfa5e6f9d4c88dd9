package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/id/uuid"
)

// CrawlStore implements crawl.Store in memory. Status indices are kept per
// index name with one document per URL, mirroring the Elasticsearch layout.
type CrawlStore struct {
	mu       sync.RWMutex
	crawls   map[string]*crawl.Crawl
	seq      map[string]int64
	next     int64
	indices  map[string]map[string]crawl.WorkItem
	now      func() time.Time
	ids      *uuid.Generator
	maxItems int
}

// NewCrawlStore constructs an empty CrawlStore.
func NewCrawlStore() *CrawlStore {
	return &CrawlStore{
		crawls:   make(map[string]*crawl.Crawl),
		seq:      make(map[string]int64),
		indices:  make(map[string]map[string]crawl.WorkItem),
		now:      func() time.Time { return time.Now().UTC() },
		ids:      uuid.New(),
		maxItems: 9999,
	}
}

// GetCrawl returns a copy of the stored crawl.
func (s *CrawlStore) GetCrawl(_ context.Context, id string) (*crawl.Crawl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.crawls[id]
	if !ok {
		return nil, fmt.Errorf("crawl %s: %w", id, crawl.ErrNotFound)
	}
	return c.Clone(), nil
}

// ListCrawls returns copies of all crawls, most recently saved first.
func (s *CrawlStore) ListCrawls(context.Context) ([]*crawl.Crawl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*crawl.Crawl, 0, len(s.crawls))
	for _, c := range s.crawls {
		out = append(out, c.Clone())
	}
	sortBySeqDesc(out, s.seq)
	if len(out) > s.maxItems {
		out = out[:s.maxItems]
	}
	return out, nil
}

// SaveCrawl upserts c, assigning an id to new crawls.
func (s *CrawlStore) SaveCrawl(_ context.Context, c *crawl.Crawl) (*crawl.Crawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return nil, &crawl.StoreError{Op: "save crawl", Err: err}
		}
		c.ID = id
	}
	s.next++
	s.seq[c.ID] = s.next
	s.crawls[c.ID] = c.Clone()
	return c, nil
}

// DeleteCrawl removes the record and clears c.ID. Missing records are ignored.
func (s *CrawlStore) DeleteCrawl(_ context.Context, c *crawl.Crawl) (*crawl.Crawl, error) {
	if c.ID == "" {
		return c, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.crawls, c.ID)
	delete(s.seq, c.ID)
	c.ID = ""
	return c, nil
}

// AddToStatusIndex writes one DISCOVERED item per URL. Writing the same URL
// twice replaces the earlier item.
func (s *CrawlStore) AddToStatusIndex(_ context.Context, c *crawl.Crawl, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	if c.ID == "" {
		return fmt.Errorf("add to status index: %w", crawl.ErrMissingID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := crawl.StatusIndexName(c.ID)
	idx, ok := s.indices[name]
	if !ok {
		idx = make(map[string]crawl.WorkItem, len(urls))
		s.indices[name] = idx
	}
	now := s.now()
	for _, u := range urls {
		idx[u] = crawl.NewWorkItem(c, u, now)
	}
	return nil
}

// ClearStatusIndex drops the crawl's status index if it exists.
func (s *CrawlStore) ClearStatusIndex(_ context.Context, c *crawl.Crawl) error {
	if c.ID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indices, crawl.StatusIndexName(c.ID))
	return nil
}

// StatusIndex returns the items of a status index and whether it exists.
func (s *CrawlStore) StatusIndex(crawlID string) ([]crawl.WorkItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[crawl.StatusIndexName(crawlID)]
	if !ok {
		return nil, false
	}
	out := make([]crawl.WorkItem, 0, len(idx))
	for _, item := range idx {
		out = append(out, item)
	}
	return out, true
}

// StatusItems returns up to limit items of a status index ordered by URL.
func (s *CrawlStore) StatusItems(_ context.Context, crawlID string, limit int) ([]crawl.WorkItem, error) {
	items, ok := s.StatusIndex(crawlID)
	if !ok {
		return nil, fmt.Errorf("status index %s: %w", crawl.StatusIndexName(crawlID), crawl.ErrNotFound)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].URL < items[j].URL })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Ping always succeeds.
func (s *CrawlStore) Ping(context.Context) error {
	return nil
}

func sortBySeqDesc(crawls []*crawl.Crawl, seq map[string]int64) {
	sort.Slice(crawls, func(i, j int) bool {
		return seq[crawls[i].ID] > seq[crawls[j].ID]
	})
}
