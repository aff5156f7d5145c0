package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Any transport failure,
// timeout, or non-success status is returned as an error.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a probe page should be re-fetched with a browser.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse, meta PageMetadata) bool
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
