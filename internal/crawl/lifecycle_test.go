package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateOf(t *testing.T) {
	t.Parallel()

	started := testNow
	cases := []struct {
		name string
		c    *Crawl
		want State
	}{
		{"created", &Crawl{}, StateCreated},
		{"processed", &Crawl{ProcessedKeywords: []ProcessedKeywords{{Language: "en"}}}, StateKeywordsProcessed},
		{"seeded", seededCrawl("a", "https://x.example"), StateSeeded},
		{"crawling", &Crawl{SeedURLs: []string{"u"}, Started: &started}, StateCrawling},
		{"stopped", &Crawl{Started: &started, Completed: &started}, StateStopped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, StateOf(tc.c))
		})
	}
}

func TestStartCrawlingLoadsStatusIndex(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	c := seededCrawl("", "https://a.example/1", "https://b.example/2")
	_, err := store.SaveCrawl(context.Background(), c)
	require.NoError(t, err)

	require.NoError(t, StartCrawling(context.Background(), store, fixedClock{now: testNow}, c))
	require.Equal(t, StateCrawling, StateOf(c))
	require.Equal(t, testNow, *c.Started)

	items, ok := store.index(c.ID)
	require.True(t, ok)
	require.Len(t, items, 2)
	for _, item := range items {
		require.Equal(t, StatusDiscovered, item.Status)
		require.Equal(t, []string{c.ID}, item.Metadata[MetaCrawlID])
		require.Equal(t, []string{"0"}, item.Metadata[MetaMaxDepth])
	}
	persisted, err := store.GetCrawl(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.Started)
}

func TestStartCrawlingRejectsReentry(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	c := seededCrawl("Crawl-9", "https://a.example/")
	require.NoError(t, StartCrawling(context.Background(), store, fixedClock{now: testNow}, c))

	err := StartCrawling(context.Background(), store, fixedClock{now: testNow.Add(time.Hour)}, c)
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	require.Equal(t, StateCrawling, pre.Actual)
	require.Equal(t, testNow, *c.Started)
	items, _ := store.index(c.ID)
	require.Len(t, items, 1)
}

func TestStartCrawlingNeedsID(t *testing.T) {
	t.Parallel()

	c := seededCrawl("", "https://a.example/")
	err := StartCrawling(context.Background(), newFakeStore(), fixedClock{now: testNow}, c)
	require.ErrorIs(t, err, ErrMissingID)
	require.Nil(t, c.Started)
}

func TestStartCrawlingLeavesStartedUnsetOnBulkFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addErr = &BulkError{Index: "crawlstatus-x", Total: 1, Failed: []BulkItemError{{URL: "u", Status: 400, Reason: "mapper_parsing_exception"}}}
	c := seededCrawl("X", "u")

	err := StartCrawling(context.Background(), store, fixedClock{now: testNow}, c)
	var bulk *BulkError
	require.ErrorAs(t, err, &bulk)
	require.Nil(t, c.Started)
}

func TestStopCrawling(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	c := seededCrawl("", "https://a.example/")
	_, err := store.SaveCrawl(context.Background(), c)
	require.NoError(t, err)
	require.NoError(t, StartCrawling(context.Background(), store, fixedClock{now: testNow}, c))

	later := testNow.Add(2 * time.Hour)
	stopped, err := StopCrawling(context.Background(), store, fixedClock{now: later}, c)
	require.NoError(t, err)
	require.True(t, stopped)

	_, ok := store.index(c.ID)
	require.False(t, ok)

	got, err := store.GetCrawl(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, later, *got.Completed)
	require.Equal(t, testNow, *got.Started)
	require.Equal(t, StateStopped, StateOf(got))

	again, err := StopCrawling(context.Background(), store, fixedClock{now: later.Add(time.Hour)}, got)
	require.NoError(t, err)
	require.False(t, again)
	require.Equal(t, later, *got.Completed)
}

func TestStopCrawlingNoopOutsideCrawling(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	c := seededCrawl("Crawl-1", "https://a.example/")
	stopped, err := StopCrawling(context.Background(), store, fixedClock{now: testNow}, c)
	require.NoError(t, err)
	require.False(t, stopped)
	require.Empty(t, store.calls)
}

func TestDeleteTearsDownIndexFirst(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	c := seededCrawl("", "https://a.example/")
	_, err := store.SaveCrawl(context.Background(), c)
	require.NoError(t, err)
	id := c.ID

	require.NoError(t, Delete(context.Background(), store, c))
	require.Empty(t, c.ID)
	require.Equal(t, []string{"save", "clear", "delete"}, store.calls)
	_, err = store.GetCrawl(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteWithoutIDIsNoop(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	require.NoError(t, Delete(context.Background(), store, &Crawl{}))
	require.Empty(t, store.calls)
}

func TestDeleteStopsOnTeardownError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.clearErr = &StoreError{Op: "delete index", Err: errors.New("connection refused")}
	c := seededCrawl("Crawl-3", "u")

	err := Delete(context.Background(), store, c)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, "Crawl-3", c.ID)
	require.NotContains(t, store.calls, "delete")
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	t.Parallel()

	k := newKeyedMutex()
	unlock := k.Lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Lock("a")()
	}()
	k.Lock("b")()
	unlock()
	<-done

	k.mu.Lock()
	defer k.mu.Unlock()
	require.Empty(t, k.locks)
}
