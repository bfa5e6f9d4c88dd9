package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/crawl-control-plane/internal/results"
	"github.com/JakeFAU/crawl-control-plane/internal/schema"
)

// EnsureResultsIndex creates the results index for setups where the
// execution cluster does not provision it.
func (s *Store) EnsureResultsIndex(ctx context.Context) error {
	return s.EnsureIndex(ctx, schema.Results(s.results))
}

// resultsQuery translates a results.Query into an Elasticsearch query.
func resultsQuery(q results.Query) map[string]any {
	var filter, must []any
	if len(q.CrawlIDs) > 0 {
		filter = append(filter, map[string]any{"terms": map[string]any{"crawlId": q.CrawlIDs}})
	}
	if len(q.Languages) > 0 {
		should := make([]any, 0, len(q.Languages))
		for id, langs := range q.Languages {
			should = append(should, map[string]any{"bool": map[string]any{"filter": []any{
				map[string]any{"term": map[string]any{"crawlId": id}},
				map[string]any{"terms": map[string]any{"language": langs}},
			}}})
		}
		filter = append(filter, map[string]any{"bool": map[string]any{"should": should, "minimum_should_match": 1}})
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		must = append(must, map[string]any{"query_string": map[string]any{
			"query":            text,
			"fields":           []string{"title", "content", "url"},
			"default_operator": "AND",
		}})
	}
	if len(filter) == 0 && len(must) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	b := map[string]any{}
	if len(filter) > 0 {
		b["filter"] = filter
	}
	if len(must) > 0 {
		b["must"] = must
	}
	return map[string]any{"bool": b}
}

func encodeBody(v any) (*bytes.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	return bytes.NewReader(raw), nil
}

type resultsSearchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string           `json:"_id"`
			Source results.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchResults returns one window of matching results, newest first.
func (s *Store) SearchResults(ctx context.Context, q results.Query, from, size int) ([]results.Document, int64, error) {
	body, err := encodeBody(map[string]any{
		"query": resultsQuery(q),
		"sort":  []any{map[string]any{"fetchedAt": map[string]any{"order": "desc", "unmapped_type": "date"}}},
	})
	if err != nil {
		return nil, 0, err
	}
	res, err := s.es.Search(
		s.es.Search.WithIndex(s.results),
		s.es.Search.WithBody(body),
		s.es.Search.WithFrom(from),
		s.es.Search.WithSize(size),
		s.es.Search.WithTrackTotalHits(true),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, 0, storeErr("search results", err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		return []results.Document{}, 0, nil
	}
	if res.IsError() {
		return nil, 0, storeErr("search results", decodeError(res))
	}
	var out resultsSearchResponse
	if err := decodeJSON(res, &out); err != nil {
		return nil, 0, storeErr("search results", err)
	}
	docs := make([]results.Document, 0, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		d := hit.Source
		d.ID = hit.ID
		docs = append(docs, d)
	}
	return docs, out.Hits.Total.Value, nil
}

type countResponse struct {
	Aggregations struct {
		ByCrawl struct {
			Buckets []struct {
				Key      string `json:"key"`
				DocCount int64  `json:"doc_count"`
			} `json:"buckets"`
		} `json:"by_crawl"`
	} `json:"aggregations"`
}

// CountResults returns the number of matching results per crawl. Requested
// crawls without results are reported with zero.
func (s *Store) CountResults(ctx context.Context, q results.Query) (map[string]int64, error) {
	buckets := MaxListedCrawls
	if len(q.CrawlIDs) > 0 {
		buckets = len(q.CrawlIDs)
	}
	body, err := encodeBody(map[string]any{
		"query": resultsQuery(q),
		"aggs": map[string]any{
			"by_crawl": map[string]any{"terms": map[string]any{"field": "crawlId", "size": buckets}},
		},
	})
	if err != nil {
		return nil, err
	}
	res, err := s.es.Search(
		s.es.Search.WithIndex(s.results),
		s.es.Search.WithBody(body),
		s.es.Search.WithSize(0),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, storeErr("count results", err)
	}
	defer closeBody(res)
	counts := make(map[string]int64, len(q.CrawlIDs))
	for _, id := range q.CrawlIDs {
		counts[id] = 0
	}
	if res.StatusCode == http.StatusNotFound {
		return counts, nil
	}
	if res.IsError() {
		return nil, storeErr("count results", decodeError(res))
	}
	var out countResponse
	if err := decodeJSON(res, &out); err != nil {
		return nil, storeErr("count results", err)
	}
	for _, b := range out.Aggregations.ByCrawl.Buckets {
		counts[b.Key] = b.DocCount
	}
	return counts, nil
}

type byQueryResponse struct {
	Deleted int64 `json:"deleted"`
	Updated int64 `json:"updated"`
}

// DeleteResults deletes matching results. Callers enforce the unfiltered
// guard; this method deletes whatever the query matches.
func (s *Store) DeleteResults(ctx context.Context, q results.Query) (int64, error) {
	body, err := encodeBody(map[string]any{"query": resultsQuery(q)})
	if err != nil {
		return 0, err
	}
	res, err := s.es.DeleteByQuery(
		[]string{s.results},
		body,
		s.es.DeleteByQuery.WithRefresh(true),
		s.es.DeleteByQuery.WithConflicts("proceed"),
		s.es.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return 0, storeErr("delete results", err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, storeErr("delete results", decodeError(res))
	}
	var out byQueryResponse
	if err := decodeJSON(res, &out); err != nil {
		return 0, storeErr("delete results", err)
	}
	return out.Deleted, nil
}

// ClassifyResults sets label on every result whose url is listed.
func (s *Store) ClassifyResults(ctx context.Context, urls []string, label string) (int64, error) {
	body, err := encodeBody(map[string]any{
		"query": map[string]any{"terms": map[string]any{"url": urls}},
		"script": map[string]any{
			"source": "ctx._source.label = params.label",
			"lang":   "painless",
			"params": map[string]any{"label": label},
		},
	})
	if err != nil {
		return 0, err
	}
	res, err := s.es.UpdateByQuery(
		[]string{s.results},
		s.es.UpdateByQuery.WithBody(body),
		s.es.UpdateByQuery.WithRefresh(true),
		s.es.UpdateByQuery.WithConflicts("proceed"),
		s.es.UpdateByQuery.WithContext(ctx),
	)
	if err != nil {
		return 0, storeErr("classify results", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return 0, storeErr("classify results", decodeError(res))
	}
	var out byQueryResponse
	if err := decodeJSON(res, &out); err != nil {
		return 0, storeErr("classify results", err)
	}
	return out.Updated, nil
}
