package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/crawl-control-plane/internal/events"
)

func TestPrometheusSinkRecordsTransitions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	started := events.New("c1", events.StageStarted, now)
	started.Count = 3
	batch := []events.Event{
		events.New("c1", events.StageCreated, now),
		started,
		events.New("c1", events.StageStopped, now.Add(time.Minute)),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.transitions.WithLabelValues(string(events.StageStarted))))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.seedURLs))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.crawling))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "registering twice must fail")
}

func TestLogSinkWritesOneEntryPerEvent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	failed := events.New("c2", events.StageFailed, time.Now())
	failed.Note = "no seed urls resolved"

	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		events.New("c2", events.StageCreated, time.Now()),
		failed,
	}))
	require.Equal(t, 2, logs.Len())
	require.Equal(t, zap.WarnLevel, logs.All()[1].Level)
	require.Equal(t, "c2", logs.All()[0].ContextMap()["crawl_id"])
}

func TestStoreSinkForwardsBatch(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	sink := NewStoreSink(repo, nil)
	batch := []events.Event{events.New("c3", events.StageDeleted, time.Now())}

	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Len(t, repo.events, 1)

	repo.err = errors.New("db down")
	require.ErrorContains(t, sink.Consume(context.Background(), batch), "db down")
	require.NoError(t, sink.Consume(context.Background(), nil))
}

func TestPublishSinkFiltersStages(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sink := NewPublishSink(pub, "crawl-lifecycle", events.StageStarted, events.StageStopped)
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		events.New("c4", events.StageCreated, now),
		events.New("c4", events.StageStarted, now),
		events.New("c4", events.StageStopped, now),
	}))
	require.Len(t, pub.payloads, 2)
	require.Equal(t, "crawl-lifecycle", pub.topics[0])

	pub.err = errors.New("unavailable")
	err := sink.Consume(context.Background(), []events.Event{events.New("c4", events.StageStarted, now)})
	require.ErrorContains(t, err, "unavailable")
}

type fakeRepo struct {
	events []events.Event
	err    error
}

func (f *fakeRepo) AppendEvents(_ context.Context, batch []events.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, batch...)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return "id", nil
}
