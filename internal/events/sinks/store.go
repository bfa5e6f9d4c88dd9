package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-control-plane/internal/events"
)

// Repository persists lifecycle events for auditing.
type Repository interface {
	AppendEvents(ctx context.Context, batch []events.Event) error
}

// StoreSink forwards batches to a Repository.
type StoreSink struct {
	repo   Repository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo Repository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes the batch and returns repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	if err := s.repo.AppendEvents(ctx, batch); err != nil {
		return fmt.Errorf("append lifecycle events: %w", err)
	}
	s.logger.Debug("lifecycle events stored", zap.Int("count", len(batch)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
