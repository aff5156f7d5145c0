// Package metrics exposes Prometheus collectors for the sitemap metadata service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sitemapDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitemap_documents_total",
			Help: "Sitemap documents processed, labeled by expected kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	metadataPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_pages_total",
			Help: "Pages processed by the metadata extractor, labeled by site and status.",
		},
		[]string{"site", "status"},
	)

	metadataBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_bytes_total",
			Help: "Total number of page bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	headlessPromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metadata_headless_promotions_total",
			Help: "Headless re-fetches attempted after a probe, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	extractionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metadata_extractions_in_flight",
			Help: "Number of page extractions currently running.",
		},
	)

	batchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metadata_batch_duration_seconds",
			Help:    "Wall time of a full resolve-and-extract batch.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	batchPages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metadata_batch_pages",
			Help:    "Number of page URLs resolved per batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method", "route"},
	)
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSitemap counts one sitemap document. kind is "index" or "urlset"; outcome is
// "ok", "fetch_failed", "decode_failed", "shape_mismatch", "depth_exceeded" or "cycle".
func ObserveSitemap(kind, outcome string) {
	sitemapDocumentsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObservePage increments the page counters for one extraction.
func ObservePage(pageURL string, status string, bytesFetched int) {
	site := SanitizeSite(pageURL)
	metadataPagesTotal.WithLabelValues(site, status).Inc()
	if bytesFetched > 0 {
		metadataBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveHeadlessPromotion records a headless re-fetch attempt.
func ObserveHeadlessPromotion(outcome string) {
	headlessPromotionsTotal.WithLabelValues(outcome).Inc()
}

// IncExtractionsInFlight increments the in-flight extraction gauge.
func IncExtractionsInFlight() {
	extractionsInFlight.Inc()
}

// DecExtractionsInFlight decrements the in-flight extraction gauge.
func DecExtractionsInFlight() {
	extractionsInFlight.Dec()
}

// ObserveBatch records the duration and size of a completed batch.
func ObserveBatch(pages int, duration time.Duration) {
	batchPages.Observe(float64(pages))
	batchDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
