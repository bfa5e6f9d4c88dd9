package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeStore keeps crawls and status indices in maps and records calls.
type fakeStore struct {
	mu       sync.Mutex
	crawls   map[string]*Crawl
	indices  map[string][]WorkItem
	nextID   int
	calls    []string
	addErr   error
	clearErr error
	saveErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{crawls: make(map[string]*Crawl), indices: make(map[string][]WorkItem)}
}

func (s *fakeStore) GetCrawl(_ context.Context, id string) (*Crawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "get")
	c, ok := s.crawls[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *fakeStore) ListCrawls(context.Context) ([]*Crawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Crawl, 0, len(s.crawls))
	for _, c := range s.crawls {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (s *fakeStore) SaveCrawl(_ context.Context, c *Crawl) (*Crawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "save")
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	if c.ID == "" {
		s.nextID++
		c.ID = fmt.Sprintf("Crawl-%d", s.nextID)
	}
	s.crawls[c.ID] = c.Clone()
	return c, nil
}

func (s *fakeStore) DeleteCrawl(_ context.Context, c *Crawl) (*Crawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete")
	delete(s.crawls, c.ID)
	c.ID = ""
	return c, nil
}

func (s *fakeStore) AddToStatusIndex(_ context.Context, c *Crawl, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "add")
	if s.addErr != nil {
		return s.addErr
	}
	name := StatusIndexName(c.ID)
	for _, u := range urls {
		s.indices[name] = append(s.indices[name], NewWorkItem(c, u, testNow))
	}
	return nil
}

func (s *fakeStore) ClearStatusIndex(_ context.Context, c *Crawl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "clear")
	if s.clearErr != nil {
		return s.clearErr
	}
	delete(s.indices, StatusIndexName(c.ID))
	return nil
}

func (s *fakeStore) index(id string) ([]WorkItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.indices[StatusIndexName(id)]
	return items, ok
}

// fakeTranslator tags each keyword with its target language and fails for
// the languages listed in fail.
type fakeTranslator struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (t *fakeTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.fail[target] {
		return "", errors.New("translation backend unavailable")
	}
	return text + "@" + target, nil
}

// fakeProvider answers queries from a fixed table keyed by query text.
type fakeProvider struct {
	mu      sync.Mutex
	results map[string][]string
	fail    map[string]bool
	queries []SearchQuery
}

func (p *fakeProvider) Search(_ context.Context, q SearchQuery) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, q)
	if p.fail[q.Text] {
		return nil, errors.New("provider quota exceeded")
	}
	return append([]string(nil), p.results[q.Text]...), nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (b *fakeBlobs) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string]string)
	}
	b.objects[path] = string(data)
	return "memory://" + path, nil
}

func seededCrawl(id string, urls ...string) *Crawl {
	return &Crawl{
		ID:                id,
		Name:              "seeded",
		Languages:         []string{"en"},
		KeywordGroups:     []KeywordGroup{{Keywords: []string{"volcano"}}},
		ProcessedKeywords: []ProcessedKeywords{{Keywords: []string{"volcano"}, Language: "en"}},
		SeedURLs:          urls,
	}
}

func joined(pk []ProcessedKeywords) []string {
	out := make([]string, 0, len(pk))
	for _, p := range pk {
		out = append(out, p.Language+":"+strings.Join(p.Keywords, ","))
	}
	return out
}
