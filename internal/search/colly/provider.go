// Package collysearch implements crawl.SearchProvider by scraping an HTML
// search results page with gocolly.
package collysearch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
)

// Config controls how result pages are requested and parsed.
type Config struct {
	// Endpoint is the results page URL. {query}, {lang} and {limit} are
	// replaced with the escaped query text, language code and quota.
	Endpoint string
	// LinkSelector selects the result anchors.
	LinkSelector string
	// RedirectParam names the query parameter that holds the target URL when
	// the engine wraps results in its own redirect links.
	RedirectParam string
	UserAgent     string
	Timeout       time.Duration
}

// Provider queries a search engine's HTML interface.
type Provider struct {
	cfg           Config
	endpointHost  string
	baseCollector *colly.Collector
}

// New builds a Provider.
func New(cfg Config) (*Provider, error) {
	if !strings.Contains(cfg.Endpoint, "{query}") {
		return nil, fmt.Errorf("search endpoint must contain {query}")
	}
	if cfg.LinkSelector == "" {
		return nil, fmt.Errorf("search link selector is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	u, err := url.Parse(strings.NewReplacer("{query}", "q", "{lang}", "en", "{limit}", "1").Replace(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Provider{cfg: cfg, endpointHost: strings.ToLower(u.Hostname()), baseCollector: c}, nil
}

// Search implements crawl.SearchProvider.
func (p *Provider) Search(ctx context.Context, q crawl.SearchQuery) ([]string, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	target := strings.NewReplacer(
		"{query}", url.QueryEscape(q.Text),
		"{lang}", url.QueryEscape(q.Language),
		"{limit}", strconv.Itoa(q.Limit),
	).Replace(p.cfg.Endpoint)

	var (
		found    []string
		seen     = make(map[string]struct{})
		fetchErr error
	)
	collector := p.baseCollector.Clone()
	collector.Context = ctx
	collector.OnHTML(p.cfg.LinkSelector, func(e *colly.HTMLElement) {
		if len(found) >= q.Limit {
			return
		}
		link, ok := p.resultURL(e.Request.AbsoluteURL(e.Attr("href")))
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		found = append(found, link)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	// Visit is synchronous and its request carries ctx, so it returns as
	// soon as ctx is done and no callback outlives this call.
	err := collector.Visit(target)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("search %q canceled: %w", q.Text, ctxErr)
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("search %q: %w", q.Text, fetchErr)
	}
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Text, err)
	}
	return found, nil
}

// resultURL unwraps redirect links and drops links that are not external
// http(s) results.
func (p *Provider) resultURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if p.cfg.RedirectParam != "" {
		if wrapped := u.Query().Get(p.cfg.RedirectParam); wrapped != "" {
			if u, err = url.Parse(wrapped); err != nil {
				return "", false
			}
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if strings.EqualFold(u.Hostname(), p.endpointHost) {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
