// Package progress carries crawl run events from the orchestrator to sinks.
// Emit never blocks the crawl; a background goroutine batches events and
// fans them out to the log, Prometheus, the Postgres outcome table and
// Pub/Sub notifications.
package progress
