// Package libre implements crawl.Translator against a LibreTranslate
// compatible HTTP API.
package libre

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-control-plane/internal/guard"
)

// Config holds the endpoint and credentials.
type Config struct {
	// URL is the service base URL, e.g. http://libretranslate:5000.
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client calls POST /translate.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	guard    *guard.Guard
}

// New builds a Client. g may be nil to call the service unguarded.
func New(cfg Config, g *guard.Guard) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("translate url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/translate",
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout},
		guard:    g,
	}, nil
}

type request struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type response struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

// Translate implements crawl.Translator.
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	if c.guard == nil {
		return c.translate(ctx, text, source, target)
	}
	return guard.Do(ctx, c.guard, func(ctx context.Context) (string, error) {
		return c.translate(ctx, text, source, target)
	})
}

func (c *Client) translate(ctx context.Context, text, source, target string) (string, error) {
	body, err := json.Marshal(request{Q: text, Source: source, Target: target, Format: "text", APIKey: c.apiKey})
	if err != nil {
		return "", fmt.Errorf("marshal translate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate %s->%s: %w", source, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read translate response: %w", err)
	}
	var out response
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("decode translate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("translate %s->%s: status %d: %s", source, target, resp.StatusCode, msg)
	}
	if out.TranslatedText == "" {
		return "", fmt.Errorf("translate %s->%s: empty translation", source, target)
	}
	return out.TranslatedText, nil
}
