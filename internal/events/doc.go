// Package events carries crawl lifecycle transitions (created, seeded,
// started, stopped, ...) from the crawl service to pluggable sinks. Emit never
// blocks the lifecycle; a background goroutine batches events and fans them
// out to sinks such as logs, Prometheus, Postgres or Pub/Sub.
package events
