// Package sinks implements lifecycle event consumers: structured logs,
// Prometheus counters, a persistent audit repository and a message publisher.
// Each sink satisfies events.Sink.
package sinks
