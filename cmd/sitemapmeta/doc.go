// Package main hosts the sitemap metadata service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes POST /fetch-meta-tags plus health and metrics endpoints. The body
//     carries a single sitemapIndexUrl; the response is a JSON array of {url, title, description}.
//   - Resolution: internal/sitemap.Resolver fetches the index, then each child sitemap, and flattens every <loc>
//     into one ordered list. A failing child contributes nothing; a failing index yields an empty list.
//   - Extraction: internal/batch.Runner fans out one internal/extract.Extractor call per URL, bounded by
//     config.Batch.Concurrency, and writes each result into its input slot so order is preserved.
//   - Fetching: the Colly-based fetcher serves both stages. When headless is enabled, pages the heuristic detector
//     flags as client-rendered are re-fetched through Chromedp.
//   - Notification: a compact batch summary is published to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: PORT or SITEMETA_SERVER_PORT, SITEMETA_HTTP_TIMEOUT_SECONDS, SITEMETA_BATCH_CONCURRENCY,
//     SITEMETA_SITEMAP_MAX_DEPTH, SITEMETA_HEADLESS_ENABLED, SITEMETA_PUBSUB_PROJECT_ID and SITEMETA_PUBSUB_TOPIC_NAME.
//   - Run locally: go run ./cmd/sitemapmeta -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGTERM with a graceful drain bounded at 10 seconds.
package main
