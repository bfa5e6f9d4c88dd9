package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-control-plane/internal/events"
)

// ServiceConfig tunes the crawl service.
type ServiceConfig struct {
	// SourceLanguage is the language keywords are written in.
	SourceLanguage string
	// ArchivePrefix is the blob path prefix for crawl snapshots.
	ArchivePrefix string
}

// Service runs the crawl creation flow and the stop/delete transitions on
// top of a Store and the external providers. Transitions of the same crawl
// are serialized within the process.
type Service struct {
	store      Store
	provider   SearchProvider
	translator Translator
	clock      Clock
	emitter    events.Emitter
	archive    BlobStore
	cfg        ServiceConfig
	logger     *zap.Logger
	locks      *keyedMutex
}

// NewService wires a Service. translator, emitter and archive are optional.
func NewService(
	store Store,
	provider SearchProvider,
	translator Translator,
	clock Clock,
	emitter events.Emitter,
	archive BlobStore,
	cfg ServiceConfig,
	logger *zap.Logger,
) *Service {
	if emitter == nil {
		emitter = events.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SourceLanguage == "" {
		cfg.SourceLanguage = "en"
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "crawls"
	}
	return &Service{
		store:      store,
		provider:   provider,
		translator: translator,
		clock:      clock,
		emitter:    emitter,
		archive:    archive,
		cfg:        cfg,
		logger:     logger,
		locks:      newKeyedMutex(),
	}
}

// Create persists a new crawl and drives it through keyword processing, seed
// resolution and status-index loading. On failure after the first save the
// partially created crawl is removed again and the original error returned.
func (s *Service) Create(ctx context.Context, req *Crawl) (*Crawl, error) {
	c := req.Clone()
	c.ID = ""
	c.ProcessedKeywords = nil
	c.SeedURLs = nil
	c.Started = nil
	c.Completed = nil

	if _, err := s.store.SaveCrawl(ctx, c); err != nil {
		return nil, fmt.Errorf("create crawl: %w", err)
	}
	log := s.logger.With(zap.String("crawl_id", c.ID), zap.String("name", c.Name))
	s.emit(c.ID, events.StageCreated, 0, "")
	unlock := s.locks.Lock(c.ID)
	defer unlock()

	if err := ProcessKeywords(ctx, c, s.translator, s.cfg.SourceLanguage); err != nil {
		if !IsPartial(err) {
			return nil, s.abort(ctx, c, err)
		}
		log.Warn("keyword translation degraded", zap.Error(err))
	}
	s.emit(c.ID, events.StageKeywordsProcessed, len(c.ProcessedKeywords), "")

	if err := ResolveSeedURLs(ctx, c, s.provider); err != nil {
		if !IsPartial(err) {
			return nil, s.abort(ctx, c, err)
		}
		log.Warn("seed resolution partially failed", zap.Error(err))
	}
	s.emit(c.ID, events.StageSeeded, len(c.SeedURLs), "")

	if err := StartCrawling(ctx, s.store, s.clock, c); err != nil {
		return nil, s.abort(ctx, c, err)
	}
	s.emit(c.ID, events.StageStarted, len(c.SeedURLs), "")
	log.Info("crawl started",
		zap.Int("keyword_sets", len(c.ProcessedKeywords)),
		zap.Int("seed_urls", len(c.SeedURLs)),
	)
	return c, nil
}

// abort removes a partially created crawl. Cleanup failures are logged; the
// cause is always returned.
func (s *Service) abort(ctx context.Context, c *Crawl, cause error) error {
	id := c.ID
	s.emit(id, events.StageFailed, 0, cause.Error())
	if err := Delete(context.WithoutCancel(ctx), s.store, c); err != nil {
		s.logger.Error("cleanup of failed crawl failed", zap.String("crawl_id", id), zap.Error(err))
	}
	return fmt.Errorf("create crawl %s: %w", id, cause)
}

// Get returns a single crawl.
func (s *Service) Get(ctx context.Context, id string) (*Crawl, error) {
	c, err := s.store.GetCrawl(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get crawl: %w", err)
	}
	return c, nil
}

// List returns all crawls, most recently indexed first.
func (s *Service) List(ctx context.Context) ([]*Crawl, error) {
	crawls, err := s.store.ListCrawls(ctx)
	if err != nil {
		return nil, fmt.Errorf("list crawls: %w", err)
	}
	return crawls, nil
}

// Stop ends a running crawl. Stopping a crawl that is not crawling returns it
// unchanged.
func (s *Service) Stop(ctx context.Context, id string) (*Crawl, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.GetCrawl(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("stop crawl: %w", err)
	}
	stopped, err := StopCrawling(ctx, s.store, s.clock, c)
	if err != nil {
		return nil, err
	}
	if stopped {
		s.emit(id, events.StageStopped, 0, "")
		s.archiveSnapshot(ctx, c, id)
		s.logger.Info("crawl stopped", zap.String("crawl_id", id))
	}
	return c, nil
}

// Delete tears down the crawl's status index and removes its record.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.GetCrawl(ctx, id)
	if err != nil {
		return fmt.Errorf("delete crawl: %w", err)
	}
	wasCrawling := StateOf(c) == StateCrawling
	s.archiveSnapshot(ctx, c, id)
	if err := Delete(ctx, s.store, c); err != nil {
		return err
	}
	if wasCrawling {
		s.emit(id, events.StageStopped, 0, "deleted while crawling")
	}
	s.emit(id, events.StageDeleted, 0, "")
	s.logger.Info("crawl deleted", zap.String("crawl_id", id))
	return nil
}

func (s *Service) archiveSnapshot(ctx context.Context, c *Crawl, id string) {
	if s.archive == nil {
		return
	}
	payload, err := json.Marshal(c)
	if err != nil {
		s.logger.Warn("marshal crawl snapshot failed", zap.String("crawl_id", id), zap.Error(err))
		return
	}
	objectPath := path.Join(s.cfg.ArchivePrefix, id+".json")
	uri, err := s.archive.PutObject(ctx, objectPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		s.logger.Warn("archive crawl snapshot failed", zap.String("crawl_id", id), zap.Error(err))
		return
	}
	s.logger.Debug("crawl snapshot archived", zap.String("crawl_id", id), zap.String("uri", uri))
}

func (s *Service) emit(id string, stage events.Stage, count int, note string) {
	evt := events.New(id, stage, s.clock.Now())
	evt.Count = count
	evt.Note = note
	s.emitter.Emit(evt)
}

// IsNotFound reports whether err means the crawl does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
