// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, the Postgres outcome table and Pub/Sub run notifications.
package sinks
