package crawler

import (
	"net/http"
	"time"
)

// PageStatus records how a single page extraction ended. It is kept off the wire so
// that "element missing" and "fetch failed" stay indistinguishable to callers.
type PageStatus string

// Page status values used for logging and metrics.
const (
	PageStatusOK          PageStatus = "ok"
	PageStatusFetchFailed PageStatus = "fetch_failed"
	PageStatusParseFailed PageStatus = "parse_failed"
)

// PageMetadata is the per-URL record returned to callers. Title and Description are
// nil when the element is absent or the page could not be fetched.
type PageMetadata struct {
	URL          string     `json:"url"`
	Title        *string    `json:"title"`
	Description  *string    `json:"description"`
	Status       PageStatus `json:"-"`
	UsedHeadless bool       `json:"-"`
}

// Failed reports whether the record was produced without a usable page body.
func (m PageMetadata) Failed() bool {
	return m.Status == PageStatusFetchFailed || m.Status == PageStatusParseFailed
}

// EmptyMetadata returns the record used when a page yields nothing.
func EmptyMetadata(url string, status PageStatus) PageMetadata {
	return PageMetadata{URL: url, Status: status}
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	// BodyUTF8 reports that Body was already converted to UTF-8 from the charset named
	// in Content-Type, so any encoding declared inside the document no longer applies.
	BodyUTF8 bool
}

// BatchSummary describes one completed resolve-and-extract run. It is published as a
// notification and never stored.
type BatchSummary struct {
	ID         string    `json:"id"`
	IndexURL   string    `json:"index_url"`
	Pages      int       `json:"pages"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Rendered   int       `json:"rendered"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}
