// Package api hosts the operator HTTP surface of a crawl process. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs and /api/runs/{run_id} for live crawl status.
//   - GET /api/checkpoint for the latest persisted progress record.
package api
