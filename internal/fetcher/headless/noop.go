package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/sitemap-meta/internal/crawler"
)

// ErrNotConfigured is returned by Noop.
var ErrNotConfigured = errors.New("headless fetcher not configured")

// Noop implements Fetcher but always fails, so promotion falls back to the probe.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always returns ErrNotConfigured.
func (Noop) Fetch(_ context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrNotConfigured
}
