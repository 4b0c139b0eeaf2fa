// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET/POST /v1/operations/{kind}/... to observe, start, cancel and reset
//     backups and restores.
//   - POST /v1/catalog/... and /v1/bacpac/preview for the collaborators a
//     run depends on (database listing, connection test, bacpac preview).
//   - GET /v1/runs and /v1/runs/{run_id} for run history via the
//     RunRepository interface.
package api
