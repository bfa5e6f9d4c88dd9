package elastic

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/schema"
)

// ensureTimeout bounds one shared EnsureIndex round trip.
const ensureTimeout = 30 * time.Second

// EnsureIndex creates idx if it does not exist. Concurrent callers for the
// same index share one round trip, and losing a creation race to another
// process counts as success. An existing index that fails the schema's shard
// check yields crawl.ErrSchemaMismatch.
func (s *Store) EnsureIndex(ctx context.Context, idx schema.Index) error {
	if _, ok := s.ensured.Load(idx.Name); ok {
		return nil
	}
	// Shared work runs detached with its own deadline; each caller waits on
	// its own ctx.
	ch := s.ensure.DoChan(idx.Name, func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ensureTimeout)
		defer cancel()
		if err := s.ensureIndex(sharedCtx, idx); err != nil {
			return nil, err
		}
		s.ensured.Store(idx.Name, struct{}{})
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return storeErr("ensure index "+idx.Name, ctx.Err())
	}
}

func (s *Store) ensureIndex(ctx context.Context, idx schema.Index) error {
	exists, err := s.indexExists(ctx, idx.Name)
	if err != nil {
		return err
	}
	if exists {
		if idx.VerifyShards {
			return s.verifyShards(ctx, idx)
		}
		return nil
	}

	body, err := idx.Body()
	if err != nil {
		return err
	}
	res, err := s.es.Indices.Create(
		idx.Name,
		s.es.Indices.Create.WithBody(bytes.NewReader(body)),
		s.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return storeErr("create index "+idx.Name, err)
	}
	defer closeBody(res)
	if res.IsError() {
		apiErr := decodeError(res)
		if apiErr.Err.Type == "resource_already_exists_exception" {
			s.logger.Debug("index created concurrently", zap.String("index", idx.Name))
			if idx.VerifyShards {
				return s.verifyShards(ctx, idx)
			}
			return nil
		}
		return storeErr("create index "+idx.Name, apiErr)
	}
	s.logger.Info("index created", zap.String("index", idx.Name), zap.Int("shards", idx.Shards))
	return nil
}

func (s *Store) indexExists(ctx context.Context, name string) (bool, error) {
	res, err := s.es.Indices.Exists([]string{name}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, storeErr("index exists "+name, err)
	}
	defer closeBody(res)
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, storeErr("index exists "+name, decodeError(res))
	}
}

type indexSettings map[string]struct {
	Settings struct {
		Index struct {
			NumberOfShards string `json:"number_of_shards"`
		} `json:"index"`
	} `json:"settings"`
}

func (s *Store) verifyShards(ctx context.Context, idx schema.Index) error {
	res, err := s.es.Indices.GetSettings(
		s.es.Indices.GetSettings.WithIndex(idx.Name),
		s.es.Indices.GetSettings.WithContext(ctx),
	)
	if err != nil {
		return storeErr("get settings "+idx.Name, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return storeErr("get settings "+idx.Name, decodeError(res))
	}
	var settings indexSettings
	if err := decodeJSON(res, &settings); err != nil {
		return storeErr("get settings "+idx.Name, err)
	}
	entry, ok := settings[idx.Name]
	if !ok {
		return storeErr("get settings "+idx.Name, fmt.Errorf("index missing from settings response"))
	}
	shards, err := strconv.Atoi(entry.Settings.Index.NumberOfShards)
	if err != nil {
		return storeErr("get settings "+idx.Name, fmt.Errorf("parse shard count: %w", err))
	}
	if shards != idx.Shards {
		return fmt.Errorf("%w: index %s has %d shards, want %d", crawl.ErrSchemaMismatch, idx.Name, shards, idx.Shards)
	}
	return nil
}

// deleteIndex removes an index. A missing index is not an error.
func (s *Store) deleteIndex(ctx context.Context, name string) error {
	s.ensured.Delete(name)
	res, err := s.es.Indices.Delete([]string{name}, s.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return storeErr("delete index "+name, err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return storeErr("delete index "+name, decodeError(res))
	}
	return nil
}
