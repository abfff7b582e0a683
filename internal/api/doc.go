// Package api hosts the HTTP server, middleware, and REST handlers for job
// submission and retrieval. Notable routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit a seed listing URL.
//   - GET /v1/jobs/{job_id} for status and progress.
//   - GET /v1/jobs/{job_id}/result?format=csv|json for the dataset.
//   - POST /v1/jobs/{job_id}/cancel for cooperative cancellation.
package api
