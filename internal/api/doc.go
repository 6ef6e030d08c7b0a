// Package api hosts the HTTP server over the published routine index.
// Notable routes:
//   - GET /api/health for probes.
//   - GET /api/routines/db for the wrapped index.
//   - GET /api/view/{type}/{ref} and /api/download/{type}/{ref} for artifacts.
//   - GET and POST /api/runs for recent pipeline runs and manual triggers.
//   - GET /metrics for Prometheus scraping.
package api
