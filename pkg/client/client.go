// Package client is a typed Go client for the crawl control plane HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/results"
)

// Types shared with the server.
type (
	Crawl    = crawl.Crawl
	Document = results.Document
	Page     = results.Page
)

// ErrUnfiltered is returned by DeleteResults when neither crawl ids nor a
// query are set. The request is never sent.
var ErrUnfiltered = errors.New("refusing to delete all results without a crawl or query filter")

// ErrNotFound matches APIErrors with status 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client calls the control plane API.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 2 * time.Minute}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ResultParams filters result calls.
type ResultParams struct {
	CrawlIDs           []string
	Query              string
	OnlyCrawlLanguages bool
	Page               int
	Size               int
}

// Unfiltered reports whether p would match every result.
func (p ResultParams) Unfiltered() bool {
	return len(p.CrawlIDs) == 0 && strings.TrimSpace(p.Query) == ""
}

func (p ResultParams) values() url.Values {
	v := url.Values{}
	if len(p.CrawlIDs) > 0 {
		v.Set("crawls[]", strings.Join(p.CrawlIDs, ","))
	}
	if q := strings.TrimSpace(p.Query); q != "" {
		v.Set("query", q)
	}
	if p.OnlyCrawlLanguages {
		v.Set("onlyCrawlLanguages", "true")
	}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.Size > 0 {
		v.Set("size", strconv.Itoa(p.Size))
	}
	return v
}

// ListCrawls returns every crawl, newest first.
func (c *Client) ListCrawls(ctx context.Context) ([]Crawl, error) {
	var out []Crawl
	if err := c.do(ctx, http.MethodGet, "/crawls", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCrawl returns one crawl.
func (c *Client) GetCrawl(ctx context.Context, id string) (*Crawl, error) {
	var out Crawl
	if err := c.do(ctx, http.MethodGet, "/crawls/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCrawl submits a new crawl and returns it once started.
func (c *Client) CreateCrawl(ctx context.Context, req *Crawl) (*Crawl, error) {
	var out Crawl
	if err := c.do(ctx, http.MethodPut, "/crawls", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopCrawl stops a running crawl.
func (c *Client) StopCrawl(ctx context.Context, id string) (*Crawl, error) {
	var out Crawl
	if err := c.do(ctx, http.MethodDelete, "/crawls/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCrawl removes a crawl record.
func (c *Client) DeleteCrawl(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/crawls/"+url.PathEscape(id)+"/record", nil, nil, nil)
}

// Results returns one page of results.
func (c *Client) Results(ctx context.Context, p ResultParams) (Page, error) {
	var out Page
	if err := c.do(ctx, http.MethodGet, "/results", p.values(), nil, &out); err != nil {
		return Page{}, err
	}
	return out, nil
}

// ResultCounts returns the number of results per crawl.
func (c *Client) ResultCounts(ctx context.Context, p ResultParams) (map[string]int64, error) {
	var out map[string]int64
	if err := c.do(ctx, http.MethodGet, "/results/counts", p.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteResults deletes the matching results and returns how many were
// removed.
func (c *Client) DeleteResults(ctx context.Context, p ResultParams) (int64, error) {
	if p.Unfiltered() {
		return 0, ErrUnfiltered
	}
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, "/results", p.values(), nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// ClassifyResults labels the results with the given URLs.
func (c *Client) ClassifyResults(ctx context.Context, urls []string, label string) (int64, error) {
	body := map[string]any{"urls": urls, "label": label}
	var out struct {
		Updated int64 `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPost, "/results/classify", nil, body, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

// ExportURL is the download link for the matching results in format
// (csv, xlsx or json).
func (c *Client) ExportURL(p ResultParams, format string) string {
	v := p.values()
	v.Set("format", format)
	v.Set("download", "true")
	return c.endpoint("/results", v)
}

// ExportResults streams an export into w and returns the bytes written.
func (c *Client) ExportResults(ctx context.Context, p ResultParams, format string, w io.Writer) (int64, error) {
	v := p.values()
	v.Set("format", format)
	res, err := c.send(ctx, http.MethodGet, "/results", v, nil)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	n, err := io.Copy(w, res.Body)
	if err != nil {
		return n, fmt.Errorf("read export: %w", err)
	}
	return n, nil
}

// Languages lists the languages the server supports.
func (c *Client) Languages(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/capabilities/languages", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Countries lists the countries the server supports.
func (c *Client) Countries(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/capabilities/countries", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	res, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if out == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		defer res.Body.Close()
		return nil, decodeAPIError(res)
	}
	return res, nil
}

func decodeAPIError(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(res.StatusCode)
	}
	return &APIError{StatusCode: res.StatusCode, Message: msg}
}
