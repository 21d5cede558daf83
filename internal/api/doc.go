// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /api/analyze, /api/formats and /api/download call the gateway
//     behind the per-client rate limiter.
//   - GET /api/download-file/{filename} serves finished downloads.
//   - GET / and /* serve the static frontend.
//   - GET /healthz / readyz for health checks and /metrics for Prometheus scraping.
package api
