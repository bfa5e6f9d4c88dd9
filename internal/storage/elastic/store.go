// Package elastic implements the crawl registry, the per-crawl status
// indices and the results index on Elasticsearch 8.
package elastic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/schema"
)

// MaxListedCrawls caps ListCrawls.
const MaxListedCrawls = 9999

// Config captures the connection and index settings.
type Config struct {
	Addresses     []string
	Username      string
	Password      string
	APIKey        string
	RegistryIndex string
	ResultsIndex  string
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Store talks to Elasticsearch. It is safe for concurrent use.
type Store struct {
	es       *elasticsearch.Client
	registry schema.Index
	results  string
	logger   *zap.Logger
	now      func() time.Time

	ensure  singleflight.Group
	ensured sync.Map
}

// New creates a Store. No request is made until the first call.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch addresses are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	resultsIndex := cfg.ResultsIndex
	if resultsIndex == "" {
		resultsIndex = schema.DefaultResultsIndex
	}
	return &Store{
		es:       es,
		registry: schema.CrawlRegistry(cfg.RegistryIndex),
		results:  resultsIndex,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ping checks that the cluster answers.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return &crawl.StoreError{Op: "ping", Err: err}
	}
	defer closeBody(res)
	if res.IsError() {
		return &crawl.StoreError{Op: "ping", Err: fmt.Errorf("status %d", res.StatusCode)}
	}
	return nil
}

// apiError is the error envelope Elasticsearch returns for failed requests.
type apiError struct {
	Status int `json:"status"`
	Err    struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func (e *apiError) Error() string {
	if e.Err.Type == "" {
		return fmt.Sprintf("elasticsearch status %d", e.Status)
	}
	return fmt.Sprintf("elasticsearch status %d: %s: %s", e.Status, e.Err.Type, e.Err.Reason)
}

// decodeError reads the error envelope of a failed response.
func decodeError(res *esapi.Response) *apiError {
	out := &apiError{Status: res.StatusCode}
	if res.Body == nil {
		return out
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil || len(body) == 0 {
		return out
	}
	// Some endpoints answer with a plain string error.
	if err := json.Unmarshal(body, out); err != nil {
		out.Err.Reason = strings.TrimSpace(string(body))
	}
	out.Status = res.StatusCode
	return out
}

func decodeJSON(res *esapi.Response, dst any) error {
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func closeBody(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
}

func storeErr(op string, err error) error {
	return &crawl.StoreError{Op: op, Err: err}
}
