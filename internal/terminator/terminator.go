// Package terminator stops running crawls once their termination condition
// is met.
package terminator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/metrics"
	"github.com/JakeFAU/crawl-control-plane/internal/results"
)

// Termination reasons reported in logs and metrics.
const (
	ReasonDuration    = "duration"
	ReasonResultCount = "resultCount"
)

// Crawls lists and stops crawls.
type Crawls interface {
	List(ctx context.Context) ([]*crawl.Crawl, error)
	Stop(ctx context.Context, id string) (*crawl.Crawl, error)
}

// Counter reports result counts per crawl.
type Counter interface {
	Counts(ctx context.Context, q results.Query) (map[string]int64, error)
}

// Terminator periodically sweeps crawling crawls.
type Terminator struct {
	crawls  Crawls
	counter Counter
	clock   crawl.Clock
	cron    *cron.Cron
	timeout time.Duration
	logger  *zap.Logger
}

// New constructs a Terminator. counter may be nil, in which case result
// count conditions are ignored.
func New(crawls Crawls, counter Counter, clock crawl.Clock, logger *zap.Logger) *Terminator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Terminator{
		crawls:  crawls,
		counter: counter,
		clock:   clock,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: time.Minute,
		logger:  logger,
	}
}

// Start schedules the sweep. schedule uses standard cron syntax or
// descriptors such as "@every 1m".
func (t *Terminator) Start(schedule string) error {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := t.cron.AddFunc(schedule, t.run); err != nil {
		return fmt.Errorf("schedule terminator %q: %w", schedule, err)
	}
	t.cron.Start()
	t.logger.Info("terminator started", zap.String("schedule", schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep up to ctx's deadline.
func (t *Terminator) Stop(ctx context.Context) {
	done := t.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		t.logger.Warn("terminator sweep still running at shutdown")
	}
}

func (t *Terminator) run() {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	stopped, err := t.Sweep(ctx)
	if err != nil {
		t.logger.Error("terminator sweep failed", zap.Error(err))
		return
	}
	if stopped > 0 {
		t.logger.Info("terminator sweep completed", zap.Int("stopped", stopped))
	}
}

// Sweep stops every crawling crawl whose duration has elapsed or whose
// result count has been reached, and returns how many were stopped. A
// failure to stop one crawl does not prevent the others.
func (t *Terminator) Sweep(ctx context.Context) (int, error) {
	all, err := t.crawls.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list crawls: %w", err)
	}
	now := t.clock.Now()
	var running []*crawl.Crawl
	var counted []string
	for _, c := range all {
		if crawl.StateOf(c) != crawl.StateCrawling {
			continue
		}
		running = append(running, c)
		if c.CrawlOptions.TerminationCondition.ResultCount != nil {
			counted = append(counted, c.ID)
		}
	}
	if len(running) == 0 {
		return 0, nil
	}

	var counts map[string]int64
	if len(counted) > 0 && t.counter != nil {
		if counts, err = t.counter.Counts(ctx, results.Query{CrawlIDs: counted}); err != nil {
			t.logger.Warn("result counts unavailable, checking durations only", zap.Error(err))
		}
	}

	stopped := 0
	var errs []error
	for _, c := range running {
		reason := due(c, now, counts)
		if reason == "" {
			continue
		}
		if _, err := t.crawls.Stop(ctx, c.ID); err != nil {
			if errors.Is(err, crawl.ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("stop crawl %s: %w", c.ID, err))
			continue
		}
		stopped++
		metrics.ObserveTermination(reason)
		t.logger.Info("crawl terminated", zap.String("crawl_id", c.ID), zap.String("reason", reason))
	}
	return stopped, errors.Join(errs...)
}

func due(c *crawl.Crawl, now time.Time, counts map[string]int64) string {
	cond := c.CrawlOptions.TerminationCondition
	if cond.Duration != nil && c.Started != nil {
		if !now.Before(c.Started.Add(time.Duration(*cond.Duration) * time.Second)) {
			return ReasonDuration
		}
	}
	if cond.ResultCount != nil {
		if n, ok := counts[c.ID]; ok && n >= int64(*cond.ResultCount) {
			return ReasonResultCount
		}
	}
	return ""
}
