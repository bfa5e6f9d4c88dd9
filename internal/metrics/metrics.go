// Package metrics exposes Prometheus collectors for the crawl control plane.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	providerCallsTotal          *prometheus.CounterVec
	providerCallDurationSeconds *prometheus.HistogramVec
	providerRateLimitDelays     *prometheus.HistogramVec
	breakerState                *prometheus.GaugeVec
	translationCacheTotal       *prometheus.CounterVec
	terminationsTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"method", "route"},
		)

		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlctl_provider_calls_total",
				Help: "Calls to external search and translation providers, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		providerCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawlctl_provider_call_duration_seconds",
				Help:    "Histogram of external provider call latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		)

		providerRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawlctl_provider_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations before provider calls.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawlctl_provider_breaker_state",
				Help: "Circuit breaker state per provider: 0 closed, 1 half-open, 2 open.",
			},
			[]string{"provider"},
		)

		translationCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlctl_translation_cache_total",
				Help: "Translation cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		terminationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlctl_terminations_total",
				Help: "Crawls stopped by the terminator, labeled by reason.",
			},
			[]string{"reason"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProviderCall records one external provider call. Outcome is
// "success", "error" or "rejected" (breaker open).
func ObserveProviderCall(provider, outcome string, duration time.Duration) {
	Init()
	providerCallsTotal.WithLabelValues(provider, outcome).Inc()
	if outcome != "rejected" {
		providerCallDurationSeconds.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(provider string, duration time.Duration) {
	Init()
	providerRateLimitDelays.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetBreakerState publishes a provider's circuit breaker state.
func SetBreakerState(provider string, state int) {
	Init()
	breakerState.WithLabelValues(provider).Set(float64(state))
}

// ObserveTranslationCache counts a cache hit or miss.
func ObserveTranslationCache(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	translationCacheTotal.WithLabelValues(result).Inc()
}

// ObserveTermination counts a crawl stopped by the terminator.
func ObserveTermination(reason string) {
	Init()
	terminationsTotal.WithLabelValues(reason).Inc()
}
