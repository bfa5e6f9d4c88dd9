package terminator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/results"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeCrawls struct {
	mu      sync.Mutex
	crawls  []*crawl.Crawl
	stopped []string
	stopErr map[string]error
	listErr error
}

func (f *fakeCrawls) List(context.Context) ([]*crawl.Crawl, error) {
	return f.crawls, f.listErr
}

func (f *fakeCrawls) Stop(_ context.Context, id string) (*crawl.Crawl, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.stopErr[id]; err != nil {
		return nil, err
	}
	f.stopped = append(f.stopped, id)
	return &crawl.Crawl{ID: id}, nil
}

type fakeCounter struct {
	counts map[string]int64
	err    error
	asked  []string
}

func (f *fakeCounter) Counts(_ context.Context, q results.Query) (map[string]int64, error) {
	f.asked = q.CrawlIDs
	return f.counts, f.err
}

func ptr(n int) *int { return &n }

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func running(id string, startedAgo time.Duration, cond crawl.TerminationCondition) *crawl.Crawl {
	started := now.Add(-startedAgo)
	return &crawl.Crawl{
		ID:                id,
		ProcessedKeywords: []crawl.ProcessedKeywords{{Keywords: []string{"etna"}, Language: "en"}},
		SeedURLs:          []string{"https://etna.example/"},
		Started:           &started,
		CrawlOptions:      crawl.Options{TerminationCondition: cond},
	}
}

func TestSweepStopsDueCrawls(t *testing.T) {
	t.Parallel()

	done := now.Add(-time.Hour)
	finished := running("finished", 2*time.Hour, crawl.TerminationCondition{Duration: ptr(1)})
	finished.Completed = &done

	crawls := &fakeCrawls{crawls: []*crawl.Crawl{
		running("expired", time.Hour, crawl.TerminationCondition{Duration: ptr(3600)}),
		running("young", time.Minute, crawl.TerminationCondition{Duration: ptr(3600)}),
		running("full", time.Minute, crawl.TerminationCondition{ResultCount: ptr(10)}),
		running("hungry", time.Minute, crawl.TerminationCondition{ResultCount: ptr(10)}),
		running("unbounded", 48*time.Hour, crawl.TerminationCondition{}),
		finished,
	}}
	counter := &fakeCounter{counts: map[string]int64{"full": 12, "hungry": 3}}

	term := New(crawls, counter, fixedClock{now: now}, zap.NewNop())
	n, err := term.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"expired", "full"}, crawls.stopped)
	require.ElementsMatch(t, []string{"full", "hungry"}, counter.asked)
}

func TestSweepWithoutRunningCrawls(t *testing.T) {
	t.Parallel()

	counter := &fakeCounter{}
	term := New(&fakeCrawls{}, counter, fixedClock{now: now}, nil)
	n, err := term.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Nil(t, counter.asked)
}

func TestSweepFallsBackToDurationsWhenCountsFail(t *testing.T) {
	t.Parallel()

	crawls := &fakeCrawls{crawls: []*crawl.Crawl{
		running("both", time.Hour, crawl.TerminationCondition{Duration: ptr(60), ResultCount: ptr(1)}),
		running("count-only", time.Hour, crawl.TerminationCondition{ResultCount: ptr(1)}),
	}}
	term := New(crawls, &fakeCounter{err: errors.New("cluster red")}, fixedClock{now: now}, zap.NewNop())
	n, err := term.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"both"}, crawls.stopped)
}

func TestSweepCollectsStopErrors(t *testing.T) {
	t.Parallel()

	crawls := &fakeCrawls{
		crawls: []*crawl.Crawl{
			running("a", time.Hour, crawl.TerminationCondition{Duration: ptr(1)}),
			running("gone", time.Hour, crawl.TerminationCondition{Duration: ptr(1)}),
			running("c", time.Hour, crawl.TerminationCondition{Duration: ptr(1)}),
		},
		stopErr: map[string]error{
			"a":    errors.New("store down"),
			"gone": crawl.ErrNotFound,
		},
	}
	term := New(crawls, nil, fixedClock{now: now}, zap.NewNop())
	n, err := term.Sweep(context.Background())
	require.Equal(t, 1, n)
	require.ErrorContains(t, err, "stop crawl a")
	require.Equal(t, []string{"c"}, crawls.stopped)

	crawls.listErr = errors.New("timeout")
	_, err = term.Sweep(context.Background())
	require.ErrorContains(t, err, "list crawls")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	term := New(&fakeCrawls{}, nil, fixedClock{now: now}, zap.NewNop())
	require.Error(t, term.Start("every minute please"))

	require.NoError(t, term.Start("@every 1h"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	term.Stop(ctx)
}
