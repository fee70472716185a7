// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/records, /v1/issues and /v1/summary/... for reading stored records.
//   - GET /v1/runs/last and POST /v1/runs for run status and manual triggers.
package api
