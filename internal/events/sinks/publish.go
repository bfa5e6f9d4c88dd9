package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawl-control-plane/internal/events"
)

// Publisher pushes a payload to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublishSink publishes every event individually so subscribers (for example
// the execution cluster's operators) can react to crawls starting or stopping.
type PublishSink struct {
	publisher Publisher
	topic     string
	stages    map[events.Stage]bool
}

// NewPublishSink publishes events of the given stages, or all stages when
// none are listed.
func NewPublishSink(publisher Publisher, topic string, stages ...events.Stage) *PublishSink {
	var filter map[events.Stage]bool
	if len(stages) > 0 {
		filter = make(map[events.Stage]bool, len(stages))
		for _, st := range stages {
			filter[st] = true
		}
	}
	return &PublishSink{publisher: publisher, topic: topic, stages: filter}
}

// Consume publishes each selected event; all failures are joined.
func (s *PublishSink) Consume(ctx context.Context, batch []events.Event) error {
	var errs []error
	for _, evt := range batch {
		if s.stages != nil && !s.stages[evt.Stage] {
			continue
		}
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for crawl %s: %w", evt.Stage, evt.CrawlID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
