package elastic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/hash/sha256"
	"github.com/JakeFAU/crawl-control-plane/internal/results"
	"github.com/JakeFAU/crawl-control-plane/internal/schema"
)

func TestSaveGetRoundTrip(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	count := 500
	c := &crawl.Crawl{
		Name:      "volcanoes",
		Languages: []string{"en", "de"},
		CrawlOptions: crawl.Options{
			Recursion:               2,
			SeedURLsPerKeywordGroup: 5,
			DomainBlacklist:         []string{"spam.example"},
			TerminationCondition:    crawl.TerminationCondition{ResultCount: &count},
		},
		CommonKeywords:    crawl.KeywordGroup{Keywords: []string{"eruption"}},
		KeywordGroups:     []crawl.KeywordGroup{{Keywords: []string{"volcano"}, Translate: true}},
		ProcessedKeywords: []crawl.ProcessedKeywords{{Keywords: []string{"volcano", "eruption"}, Language: "en"}},
		SeedURLs:          []string{"https://volcano.si.edu/"},
		Started:           &started,
	}

	saved, err := store.SaveCrawl(ctx, c)
	require.NoError(t, err)
	require.Equal(t, "gen-1", saved.ID)
	require.Equal(t, 1, fake.count("PUT /crawls"), "registry index created once")

	got, err := store.GetCrawl(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, c, got)

	got.Name = "renamed"
	_, err = store.SaveCrawl(ctx, got)
	require.NoError(t, err)
	require.Equal(t, "gen-1", got.ID)
	require.Equal(t, 1, fake.count("PUT /crawls"))
	require.Equal(t, 1, fake.count("PUT /crawls/_doc/gen-1"))

	list, err := store.ListCrawls(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "renamed", list[0].Name)
}

func TestGetCrawlNotFound(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	_, err := store.GetCrawl(context.Background(), "missing")
	require.ErrorIs(t, err, crawl.ErrNotFound)

	fake.mu.Lock()
	fake.addIndex("crawls", 1)
	fake.mu.Unlock()
	_, err = store.GetCrawl(context.Background(), "missing")
	require.ErrorIs(t, err, crawl.ErrNotFound)
}

func TestListCrawlsNewestFirst(t *testing.T) {
	t.Parallel()

	_, store := newFakeES(t)
	ctx := context.Background()

	empty, err := store.ListCrawls(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	for _, name := range []string{"a", "b", "c"} {
		_, err := store.SaveCrawl(ctx, &crawl.Crawl{Name: name})
		require.NoError(t, err)
	}
	list, err := store.ListCrawls(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, []string{list[0].Name, list[1].Name, list[2].Name})
	require.Equal(t, "gen-3", list[0].ID)
}

func TestDeleteCrawl(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	ctx := context.Background()

	noID := &crawl.Crawl{Name: "unsaved"}
	_, err := store.DeleteCrawl(ctx, noID)
	require.NoError(t, err)
	require.Zero(t, fake.served())

	c, err := store.SaveCrawl(ctx, &crawl.Crawl{Name: "x"})
	require.NoError(t, err)
	id := c.ID
	_, err = store.DeleteCrawl(ctx, c)
	require.NoError(t, err)
	require.Empty(t, c.ID)
	_, err = store.GetCrawl(ctx, id)
	require.ErrorIs(t, err, crawl.ErrNotFound)

	gone := &crawl.Crawl{ID: id}
	_, err = store.DeleteCrawl(ctx, gone)
	require.NoError(t, err)
}

func TestAddToStatusIndex(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	ctx := context.Background()
	c := &crawl.Crawl{ID: "AbC123", Languages: []string{"en", "de"}, CrawlOptions: crawl.Options{Recursion: 3}}

	require.NoError(t, store.AddToStatusIndex(ctx, c, nil))
	require.Zero(t, fake.served())

	urls := []string{"https://Volcano.example/a", "https://b.example/"}
	require.NoError(t, store.AddToStatusIndex(ctx, c, urls))

	idx, ok := fake.index("crawlstatus-abc123")
	require.True(t, ok)
	require.Equal(t, schema.StatusIndexShards, idx.shards)
	require.Equal(t, []string{sha256.URLID(urls[0]), sha256.URLID(urls[1])}, idx.order)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(idx.docs[sha256.URLID(urls[0])], &raw))
	require.Equal(t, urls[0], raw["url"])
	require.Equal(t, "DISCOVERED", raw["status"])
	meta := raw["metadata"].(map[string]any)
	require.Contains(t, meta, "n52%2Ecrawl%2Eid")
	require.Contains(t, meta, "max%2Edepth")
	require.NotContains(t, meta, "n52.crawl.id")

	items, err := store.StatusItems(ctx, c.ID, 100)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, []string{"AbC123"}, items[0].Metadata[crawl.MetaCrawlID])
	require.Equal(t, []string{"en", "de"}, items[0].Metadata[crawl.MetaLanguages])
	require.Equal(t, []string{"volcano.example"}, items[0].Metadata[crawl.MetaHostname])
	require.Equal(t, []string{"3"}, items[0].Metadata[crawl.MetaMaxDepth])
	require.Equal(t, crawl.StatusDiscovered, items[0].Status)
}

func TestAddToStatusIndexReportsRejectedItems(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	fake.rejectURLs = map[string]string{sha256.URLID("https://bad.example/"): "failed to parse field [url]"}
	c := &crawl.Crawl{ID: "c1", Languages: []string{"en"}}

	err := store.AddToStatusIndex(context.Background(), c, []string{"https://good.example/", "https://bad.example/"})
	var bulkErr *crawl.BulkError
	require.ErrorAs(t, err, &bulkErr)
	require.Equal(t, 2, bulkErr.Total)
	require.Len(t, bulkErr.Failed, 1)
	require.Equal(t, "https://bad.example/", bulkErr.Failed[0].URL)
	require.Equal(t, 400, bulkErr.Failed[0].Status)
	require.Contains(t, bulkErr.Failed[0].Reason, "mapper_parsing_exception")

	idx, ok := fake.index("crawlstatus-c1")
	require.True(t, ok)
	require.Contains(t, idx.docs, sha256.URLID("https://good.example/"))
}

func TestClearStatusIndexIsIdempotent(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	ctx := context.Background()
	c := &crawl.Crawl{ID: "c2", Languages: []string{"en"}}

	require.NoError(t, store.ClearStatusIndex(ctx, c))
	require.NoError(t, store.AddToStatusIndex(ctx, c, []string{"https://a.example/"}))
	require.NoError(t, store.ClearStatusIndex(ctx, c))
	require.NoError(t, store.ClearStatusIndex(ctx, c))
	_, ok := fake.index("crawlstatus-c2")
	require.False(t, ok)

	// the index is recreated after a clear
	require.NoError(t, store.AddToStatusIndex(ctx, c, []string{"https://a.example/"}))
	_, ok = fake.index("crawlstatus-c2")
	require.True(t, ok)
	require.Equal(t, 2, fake.count("PUT /crawlstatus-c2"))
}

func TestEnsureIndexConcurrentCallers(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	idx := schema.StatusIndex("shared")

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.EnsureIndex(context.Background(), idx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, fake.count("PUT /crawlstatus-shared"))
	require.NoError(t, store.EnsureIndex(context.Background(), idx))
	require.Equal(t, 1, fake.count("PUT /crawlstatus-shared"))
}

func TestEnsureIndexLostRace(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	fake.raceOnCreate = true
	require.NoError(t, store.EnsureIndex(context.Background(), schema.StatusIndex("race")))
}

func TestEnsureIndexSurvivesCancelledCaller(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	fake.mu.Lock()
	fake.headDelay = 200 * time.Millisecond
	fake.mu.Unlock()
	idx := schema.CrawlRegistry("")

	cancelled, cancel := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() { errA <- store.EnsureIndex(cancelled, idx) }()
	time.Sleep(20 * time.Millisecond)

	errB := make(chan error, 1)
	go func() { errB <- store.EnsureIndex(context.Background(), idx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-errA, context.Canceled)
	require.NoError(t, <-errB)
	require.Equal(t, 1, fake.count("PUT /crawls"))
}

func TestEnsureIndexShardMismatch(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	fake.mu.Lock()
	fake.addIndex("crawlstatus-legacy", 5)
	fake.mu.Unlock()

	err := store.EnsureIndex(context.Background(), schema.StatusIndex("legacy"))
	require.ErrorIs(t, err, crawl.ErrSchemaMismatch)

	// the registry does not verify shards
	fake.mu.Lock()
	fake.addIndex("crawls", 3)
	fake.mu.Unlock()
	require.NoError(t, store.EnsureIndex(context.Background(), schema.CrawlRegistry("")))
}

func TestStoreErrorsAreTyped(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	fake.onResults = func(string, []byte) (int, any) {
		return http.StatusInternalServerError, esError(500, "search_phase_execution_exception", "all shards failed")
	}
	_, _, err := store.SearchResults(context.Background(), results.Query{}, 0, 10)
	var storeErr *crawl.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Contains(t, storeErr.Error(), "all shards failed")
}

func TestResultsQueries(t *testing.T) {
	t.Parallel()

	fake, store := newFakeES(t)
	var bodies []string
	fake.onResults = func(path string, body []byte) (int, any) {
		bodies = append(bodies, path+" "+string(body))
		switch {
		case strings.HasSuffix(path, "_delete_by_query"):
			return http.StatusOK, map[string]any{"deleted": 4}
		case strings.HasSuffix(path, "_update_by_query"):
			return http.StatusOK, map[string]any{"updated": 2}
		case strings.Contains(string(body), "by_crawl"):
			return http.StatusOK, map[string]any{"aggregations": map[string]any{"by_crawl": map[string]any{
				"buckets": []any{map[string]any{"key": "c1", "doc_count": 7}},
			}}}
		default:
			return http.StatusOK, map[string]any{"hits": map[string]any{
				"total": map[string]any{"value": 42},
				"hits": []any{map[string]any{"_id": "r1", "_source": map[string]any{
					"crawlId": "c1", "url": "https://a.example/", "title": "Volcano", "language": "en",
				}}},
			}}
		}
	}
	ctx := context.Background()
	q := results.Query{CrawlIDs: []string{"c1", "c2"}, Text: "lava", Languages: map[string][]string{"c1": {"en"}}}

	docs, total, err := store.SearchResults(ctx, q, 20, 10)
	require.NoError(t, err)
	require.Equal(t, int64(42), total)
	require.Equal(t, "r1", docs[0].ID)
	require.Equal(t, "Volcano", docs[0].Title)
	require.Contains(t, bodies[0], `"query_string"`)
	require.Contains(t, bodies[0], `"terms":{"crawlId":["c1","c2"]}`)
	require.Contains(t, bodies[0], `"minimum_should_match":1`)

	counts, err := store.CountResults(ctx, q)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"c1": 7, "c2": 0}, counts)

	deleted, err := store.DeleteResults(ctx, results.Query{CrawlIDs: []string{"c1"}})
	require.NoError(t, err)
	require.Equal(t, int64(4), deleted)

	updated, err := store.ClassifyResults(ctx, []string{"https://a.example/"}, "relevant")
	require.NoError(t, err)
	require.Equal(t, int64(2), updated)
	require.Contains(t, bodies[len(bodies)-1], `"label":"relevant"`)
}

func TestResultsQueryMatchAll(t *testing.T) {
	t.Parallel()

	q := resultsQuery(results.Query{})
	require.Contains(t, q, "match_all")
}

func TestPing(t *testing.T) {
	t.Parallel()

	_, store := newFakeES(t)
	require.NoError(t, store.Ping(context.Background()))
}
