// Package api hosts the admin HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs, /v1/runs/current and /v1/runs/{run_id} for run reports.
package api
