// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - POST /fetch-meta-tags resolves a sitemap index and returns page metadata.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
