package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/hash/sha256"
	"github.com/JakeFAU/crawl-control-plane/internal/schema"
)

// The execution cluster stores metadata keys with dots escaped, since dotted
// field names would otherwise become object paths.
var (
	escapeKey   = strings.NewReplacer(".", "%2E")
	unescapeKey = strings.NewReplacer("%2E", ".", "%2e", ".")
)

type statusDoc struct {
	URL           string               `json:"url"`
	Status        crawl.WorkItemStatus `json:"status"`
	NextFetchDate time.Time            `json:"nextFetchDate"`
	Metadata      map[string][]string  `json:"metadata"`
}

func toStatusDoc(item crawl.WorkItem) statusDoc {
	meta := make(map[string][]string, len(item.Metadata))
	for k, v := range item.Metadata {
		meta[escapeKey.Replace(k)] = v
	}
	return statusDoc{URL: item.URL, Status: item.Status, NextFetchDate: item.NextFetchDate, Metadata: meta}
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// AddToStatusIndex writes one DISCOVERED document per URL into the crawl's
// status index in a single bulk request, creating the index first. Documents
// are keyed by sha256.URLID. Rejected documents are reported as
// *crawl.BulkError; the accepted ones stay indexed.
func (s *Store) AddToStatusIndex(ctx context.Context, c *crawl.Crawl, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	if c.ID == "" {
		return fmt.Errorf("add to status index: %w", crawl.ErrMissingID)
	}
	idx := schema.StatusIndex(c.ID)
	if err := s.EnsureIndex(ctx, idx); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	now := s.now()
	byID := make(map[string]string, len(urls))
	for _, u := range urls {
		id := sha256.URLID(u)
		byID[id] = u
		action := map[string]any{"index": map[string]any{"_index": idx.Name, "_id": id}}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(toStatusDoc(crawl.NewWorkItem(c, u, now))); err != nil {
			return fmt.Errorf("encode status document: %w", err)
		}
	}

	res, err := s.es.Bulk(
		&buf,
		s.es.Bulk.WithIndex(idx.Name),
		s.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return storeErr("bulk "+idx.Name, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return storeErr("bulk "+idx.Name, decodeError(res))
	}
	var out bulkResponse
	if err := decodeJSON(res, &out); err != nil {
		return storeErr("bulk "+idx.Name, err)
	}
	if !out.Errors {
		s.logger.Debug("status index loaded", zap.String("index", idx.Name), zap.Int("documents", len(urls)))
		return nil
	}
	bulkErr := &crawl.BulkError{Index: idx.Name, Total: len(urls)}
	for _, item := range out.Items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			u, ok := byID[result.ID]
			if !ok {
				u = result.ID
			}
			bulkErr.Failed = append(bulkErr.Failed, crawl.BulkItemError{
				URL:    u,
				Status: result.Status,
				Reason: result.Error.Type + ": " + result.Error.Reason,
			})
		}
	}
	if len(bulkErr.Failed) == 0 {
		return nil
	}
	return bulkErr
}

// ClearStatusIndex deletes the crawl's status index. Deleting an index that
// does not exist succeeds.
func (s *Store) ClearStatusIndex(ctx context.Context, c *crawl.Crawl) error {
	if c.ID == "" {
		return nil
	}
	return s.deleteIndex(ctx, crawl.StatusIndexName(c.ID))
}

type statusSearchResponse struct {
	Hits struct {
		Hits []struct {
			Source struct {
				URL           string                     `json:"url"`
				Status        crawl.WorkItemStatus       `json:"status"`
				NextFetchDate time.Time                  `json:"nextFetchDate"`
				Metadata      map[string]json.RawMessage `json:"metadata"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// StatusItems reads back up to limit documents of a crawl's status index
// with metadata keys unescaped. The execution cluster may write single
// metadata values as plain strings; both forms are accepted.
func (s *Store) StatusItems(ctx context.Context, crawlID string, limit int) ([]crawl.WorkItem, error) {
	name := crawl.StatusIndexName(crawlID)
	res, err := s.es.Search(
		s.es.Search.WithIndex(name),
		s.es.Search.WithSize(limit),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, storeErr("search "+name, err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("status index %s: %w", name, crawl.ErrNotFound)
	}
	if res.IsError() {
		return nil, storeErr("search "+name, decodeError(res))
	}
	var out statusSearchResponse
	if err := decodeJSON(res, &out); err != nil {
		return nil, storeErr("search "+name, err)
	}
	items := make([]crawl.WorkItem, 0, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		meta := make(map[string][]string, len(hit.Source.Metadata))
		for k, raw := range hit.Source.Metadata {
			values, err := metaValues(raw)
			if err != nil {
				return nil, storeErr("search "+name, fmt.Errorf("metadata %s: %w", k, err))
			}
			meta[unescapeKey.Replace(k)] = values
		}
		items = append(items, crawl.WorkItem{
			URL:           hit.Source.URL,
			Status:        hit.Source.Status,
			NextFetchDate: hit.Source.NextFetchDate,
			Metadata:      meta,
		})
	}
	return items, nil
}

func metaValues(raw json.RawMessage) ([]string, error) {
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("decode metadata value: %w", err)
	}
	return []string{one}, nil
}
