// Package api hosts the HTTP server, middleware, and REST handlers of the
// crawl control plane. Notable routes:
//   - PUT /crawls creates a crawl and starts it; GET /crawls and
//     GET /crawls/{crawlId} read the registry.
//   - DELETE /crawls/{crawlId} stops a crawl; DELETE /crawls/{crawlId}/record
//     removes it entirely.
//   - GET /results (json, csv or xlsx), GET /results/counts, DELETE /results
//     and POST /results/classify operate on crawl results.
//   - GET /capabilities/languages and /capabilities/countries.
//   - GET /healthz, /readyz for Kubernetes probes and /metrics for Prometheus.
package api
