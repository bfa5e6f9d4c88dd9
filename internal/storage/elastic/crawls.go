package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
)

type getResponse struct {
	ID     string      `json:"_id"`
	Found  bool        `json:"found"`
	Source crawl.Crawl `json:"_source"`
}

type crawlHit struct {
	ID     string      `json:"_id"`
	Source crawl.Crawl `json:"_source"`
}

type crawlSearchResponse struct {
	Hits struct {
		Hits []crawlHit `json:"hits"`
	} `json:"hits"`
}

type indexResponse struct {
	ID     string `json:"_id"`
	Result string `json:"result"`
}

// GetCrawl loads a crawl by id.
func (s *Store) GetCrawl(ctx context.Context, id string) (*crawl.Crawl, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("crawl %q: %w", id, crawl.ErrNotFound)
	}
	res, err := s.es.Get(s.registry.Name, id, s.es.Get.WithContext(ctx))
	if err != nil {
		return nil, storeErr("get crawl", err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("crawl %s: %w", id, crawl.ErrNotFound)
	}
	if res.IsError() {
		return nil, storeErr("get crawl", decodeError(res))
	}
	var doc getResponse
	if err := decodeJSON(res, &doc); err != nil {
		return nil, storeErr("get crawl", err)
	}
	if !doc.Found {
		return nil, fmt.Errorf("crawl %s: %w", id, crawl.ErrNotFound)
	}
	c := doc.Source
	c.ID = doc.ID
	return &c, nil
}

// ListCrawls returns up to MaxListedCrawls crawls, most recently indexed
// first. A missing registry index yields an empty list.
func (s *Store) ListCrawls(ctx context.Context) ([]*crawl.Crawl, error) {
	body := `{"query":{"match_all":{}},"sort":["_doc"]}`
	res, err := s.es.Search(
		s.es.Search.WithIndex(s.registry.Name),
		s.es.Search.WithBody(strings.NewReader(body)),
		s.es.Search.WithSize(MaxListedCrawls),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, storeErr("list crawls", err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		return []*crawl.Crawl{}, nil
	}
	if res.IsError() {
		return nil, storeErr("list crawls", decodeError(res))
	}
	var out crawlSearchResponse
	if err := decodeJSON(res, &out); err != nil {
		return nil, storeErr("list crawls", err)
	}
	crawls := make([]*crawl.Crawl, 0, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		c := hit.Source
		c.ID = hit.ID
		crawls = append(crawls, &c)
	}
	slices.Reverse(crawls)
	return crawls, nil
}

// SaveCrawl indexes c under its id, or under a new id assigned by
// Elasticsearch. The registry is refreshed so the write is visible to the
// next read.
func (s *Store) SaveCrawl(ctx context.Context, c *crawl.Crawl) (*crawl.Crawl, error) {
	if err := s.EnsureIndex(ctx, s.registry); err != nil {
		return nil, err
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal crawl: %w", err)
	}
	opts := []func(*esapi.IndexRequest){
		s.es.Index.WithRefresh("true"),
		s.es.Index.WithContext(ctx),
	}
	if c.ID != "" {
		opts = append(opts, s.es.Index.WithDocumentID(c.ID))
	}
	res, err := s.es.Index(s.registry.Name, bytes.NewReader(body), opts...)
	if err != nil {
		return nil, storeErr("save crawl", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return nil, storeErr("save crawl", decodeError(res))
	}
	var out indexResponse
	if err := decodeJSON(res, &out); err != nil {
		return nil, storeErr("save crawl", err)
	}
	if out.ID == "" {
		return nil, storeErr("save crawl", fmt.Errorf("response carries no document id"))
	}
	c.ID = out.ID
	return c, nil
}

// DeleteCrawl removes the registry entry and clears c.ID. A crawl without
// an id is returned unchanged and a missing document is not an error.
func (s *Store) DeleteCrawl(ctx context.Context, c *crawl.Crawl) (*crawl.Crawl, error) {
	if c.ID == "" {
		return c, nil
	}
	res, err := s.es.Delete(
		s.registry.Name,
		c.ID,
		s.es.Delete.WithRefresh("true"),
		s.es.Delete.WithContext(ctx),
	)
	if err != nil {
		return nil, storeErr("delete crawl", err)
	}
	defer closeBody(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return nil, storeErr("delete crawl", decodeError(res))
	}
	c.ID = ""
	return c, nil
}
