// Package guard protects calls to external providers with a circuit breaker
// and a client-side rate limit.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawl-control-plane/internal/metrics"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("provider circuit open")

// Config tunes a Guard. Zero values fall back to the defaults below.
type Config struct {
	// Name labels logs and metrics.
	Name string
	// RequestsPerSecond is the sustained call rate; <= 0 disables limiting.
	RequestsPerSecond float64
	// Burst is the limiter bucket size.
	Burst int
	// MinRequests is how many calls the breaker sees before it may trip.
	MinRequests uint32
	// FailureRatio trips the breaker once reached.
	FailureRatio float64
	// Interval resets the closed-state counts.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed when half-open.
	HalfOpenRequests uint32
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "provider"
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MinRequests == 0 {
		c.MinRequests = 3
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.6
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 60 * time.Second
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	return c
}

// Guard runs provider calls through a rate limiter and a circuit breaker.
type Guard struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// New builds a Guard.
func New(cfg Config, logger *zap.Logger) *Guard {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{name: cfg.Name}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the provider's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker changed state",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, int(to))
		},
	})
	metrics.SetBreakerState(cfg.Name, int(gobreaker.StateClosed))
	return g
}

// Name returns the provider label.
func (g *Guard) Name() string {
	return g.name
}

// State reports the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

// Do waits for a rate-limit token and runs fn through the breaker.
func Do[T any](ctx context.Context, g *Guard, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if g.limiter != nil {
		start := time.Now()
		if err := g.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("%s rate limit: %w", g.name, err)
		}
		if waited := time.Since(start); waited > time.Millisecond {
			metrics.ObserveRateLimitDelay(g.name, waited)
		}
	}
	start := time.Now()
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ObserveProviderCall(g.name, "rejected", 0)
		return zero, fmt.Errorf("%s: %w", g.name, ErrOpen)
	case err != nil:
		metrics.ObserveProviderCall(g.name, "error", time.Since(start))
		return zero, err
	}
	metrics.ObserveProviderCall(g.name, "success", time.Since(start))
	return out.(T), nil
}
