package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-control-plane/internal/events"
)

// PrometheusSink counts lifecycle transitions and tracks the number of
// crawls with a live status index.
type PrometheusSink struct {
	transitions *prometheus.CounterVec
	seedURLs    prometheus.Counter
	crawling    prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlctl_lifecycle_transitions_total",
			Help: "Crawl lifecycle transitions partitioned by stage.",
		}, []string{"stage"}),
		seedURLs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlctl_seed_urls_total",
			Help: "Seed URLs handed to the execution cluster.",
		}),
		crawling: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawlctl_crawls_crawling",
			Help: "Crawls started by this process that have not been stopped or deleted.",
		}),
	}
	for _, collector := range []prometheus.Collector{s.transitions, s.seedURLs, s.crawling} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register lifecycle collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.transitions.WithLabelValues(string(evt.Stage)).Inc()
		switch evt.Stage {
		case events.StageStarted:
			s.crawling.Inc()
			s.seedURLs.Add(float64(evt.Count))
		case events.StageStopped:
			s.crawling.Dec()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
