package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/crawl-control-plane/internal/results"
)

// ResultStore implements results.Store over a slice. Text queries match
// case-insensitively on title and content.
type ResultStore struct {
	mu   sync.RWMutex
	docs []results.Document
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// Add inserts documents, assigning ids where missing.
func (s *ResultStore) Add(docs ...results.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		s.docs = append(s.docs, d)
	}
}

// SearchResults returns matches, newest first.
func (s *ResultStore) SearchResults(_ context.Context, q results.Query, from, size int) ([]results.Document, int64, error) {
	s.mu.RLock()
	var hits []results.Document
	for _, d := range s.docs {
		if matches(q, d) {
			hits = append(hits, d)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].FetchedAt.After(hits[j].FetchedAt) })
	total := int64(len(hits))
	if from >= len(hits) {
		return []results.Document{}, total, nil
	}
	end := min(from+size, len(hits))
	return hits[from:end], total, nil
}

// CountResults counts matches per crawl id.
func (s *ResultStore) CountResults(_ context.Context, q results.Query) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, id := range q.CrawlIDs {
		counts[id] = 0
	}
	for _, d := range s.docs {
		if matches(q, d) {
			counts[d.CrawlID]++
		}
	}
	return counts, nil
}

// DeleteResults removes matches. Callers enforce the unfiltered guard.
func (s *ResultStore) DeleteResults(_ context.Context, q results.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.docs[:0]
	var deleted int64
	for _, d := range s.docs {
		if matches(q, d) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	s.docs = kept
	return deleted, nil
}

// ClassifyResults labels every document with one of the URLs.
func (s *ResultStore) ClassifyResults(_ context.Context, urls []string, label string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for i := range s.docs {
		if slices.Contains(urls, s.docs[i].URL) {
			s.docs[i].Label = label
			updated++
		}
	}
	return updated, nil
}

func matches(q results.Query, d results.Document) bool {
	if len(q.CrawlIDs) > 0 && !slices.Contains(q.CrawlIDs, d.CrawlID) {
		return false
	}
	if langs, ok := q.Languages[d.CrawlID]; ok && !slices.Contains(langs, d.Language) {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return true
	}
	return strings.Contains(strings.ToLower(d.Title), text) || strings.Contains(strings.ToLower(d.Content), text)
}
