// Package api hosts the HTTP server for operator access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status, /v1/todo, /v1/ledger and /v1/sessions for ledger and
//     session state.
//   - POST /v1/crawl to start a run in the background.
//   - GET /v1/runs for the run audit table when a Postgres store is configured.
package api
