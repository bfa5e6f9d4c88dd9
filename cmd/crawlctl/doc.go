// Package main hosts the crawl control plane entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes crawl management (/crawls), result browsing and export (/results),
//     capabilities, health probes and /metrics. Requests are validated before reaching the crawl service.
//   - Crawl lifecycle: internal/crawl.Service saves a new crawl, processes and translates its keywords, resolves
//     seed URLs through the search provider and loads them into the crawl's status index, which starts the crawl.
//     Stopping clears the status index and stamps the completion time; deleting removes the record.
//   - Storage: Elasticsearch holds the crawl registry, per-crawl status indices and the results index that the
//     external fetch cluster fills. With elastic.enabled=false everything runs on in-memory stores.
//   - Providers: search (Colly HTML scrape or a static table) and translation (LibreTranslate or identity) are
//     wrapped in a rate limiter and circuit breaker. Translations are cached in Redis when redis.addr is set.
//   - Events: lifecycle transitions are batched by internal/events.Hub and fanned out to zap, Prometheus, an
//     optional Postgres audit table and Pub/Sub. Crawl snapshots are archived to GCS when a bucket is configured.
//   - Terminator: a cron sweep stops crawls whose duration or result count condition has been reached.
//
// Quick checklist:
//   - Configure env vars: CRAWLCTL_SERVER_PORT, CRAWLCTL_ELASTIC_ADDRESSES, CRAWLCTL_SEARCH_PROVIDER,
//     CRAWLCTL_TRANSLATE_PROVIDER and CRAWLCTL_TRANSLATE_URL, CRAWLCTL_REDIS_ADDR, CRAWLCTL_DATABASE_DSN,
//     CRAWLCTL_PUBSUB_PROJECT_ID and CRAWLCTL_STORAGE_GCS_BUCKET as needed.
//   - Run locally: go run ./cmd/crawlctl -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGINT/SIGTERM by draining HTTP requests, stopping the terminator and flushing events.
package main
