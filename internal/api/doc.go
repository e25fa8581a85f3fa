// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /health and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/auth/signup, POST /v1/auth/login and GET /v1/auth/profile for accounts.
//   - POST, GET /v1/summaries and GET, DELETE /v1/summaries/{id} for summarization jobs.
package api
