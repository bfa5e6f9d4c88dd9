// Package translate provides crawl.Translator implementations and a cache
// in front of them.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/metrics"
)

// Identity returns its input unchanged. It backs deployments without a
// translation service; keyword groups are then searched untranslated.
type Identity struct{}

// Translate implements crawl.Translator.
func (Identity) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}

// DefaultCacheTTL bounds how long cached translations are reused.
const DefaultCacheTTL = 30 * 24 * time.Hour

// DefaultLocalEntries bounds the in-process cache tier.
const DefaultLocalEntries = 10000

// Cached memoizes translations in Redis with a bounded in-process tier that
// also serves reads while Redis is unavailable. Cache failures never fail a
// translation.
type Cached struct {
	next   crawl.Translator
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *zap.Logger

	local *ristretto.Cache[string, string]
}

// CacheConfig configures Cached.
type CacheConfig struct {
	// TTL defaults to DefaultCacheTTL.
	TTL time.Duration
	// Prefix namespaces keys; defaults to "crawlctl:translate".
	Prefix string
	// LocalEntries caps the in-process tier; defaults to DefaultLocalEntries.
	LocalEntries int64
}

// NewCached wraps next. rdb may be nil.
func NewCached(next crawl.Translator, rdb redis.Cmdable, cfg CacheConfig, logger *zap.Logger) *Cached {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "crawlctl:translate"
	}
	if cfg.LocalEntries <= 0 {
		cfg.LocalEntries = DefaultLocalEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cached{
		next:   next,
		rdb:    rdb,
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		logger: logger,
	}
	local, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters:        cfg.LocalEntries * 10,
		MaxCost:            cfg.LocalEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		logger.Warn("in-process translation cache disabled", zap.Error(err))
	} else {
		c.local = local
	}
	return c
}

// Close releases the in-process tier.
func (c *Cached) Close() {
	if c.local != nil {
		c.local.Close()
	}
}

func (c *Cached) key(text, source, target string) string {
	return fmt.Sprintf("%s:%s:%s:%s", c.prefix, strings.ToLower(source), strings.ToLower(target), text)
}

// Translate implements crawl.Translator.
func (c *Cached) Translate(ctx context.Context, text, source, target string) (string, error) {
	key := c.key(text, source, target)
	if out, ok := c.lookup(ctx, key); ok {
		metrics.ObserveTranslationCache(true)
		return out, nil
	}
	metrics.ObserveTranslationCache(false)
	out, err := c.next.Translate(ctx, text, source, target)
	if err != nil {
		return "", err
	}
	c.store(ctx, key, out)
	return out, nil
}

func (c *Cached) lookup(ctx context.Context, key string) (string, bool) {
	if c.rdb == nil {
		return c.localGet(key)
	}
	out, err := c.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false
	case err != nil:
		c.logger.Warn("translation cache read failed", zap.String("key", key), zap.Error(err))
		return c.localGet(key)
	}
	return out, true
}

func (c *Cached) store(ctx context.Context, key, value string) {
	c.localSet(key, value)
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("translation cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cached) localGet(key string) (string, bool) {
	if c.local == nil {
		return "", false
	}
	return c.local.Get(key)
}

// localSet blocks until the entry is admitted so the next lookup sees it.
func (c *Cached) localSet(key, value string) {
	if c.local == nil {
		return
	}
	c.local.SetWithTTL(key, value, 1, c.ttl)
	c.local.Wait()
}

// NewRedisClient parses a redis:// URL or a host:port address and checks
// the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	var rdb *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}
