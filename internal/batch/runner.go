// Package batch runs metadata extraction over a list of URLs with bounded
// concurrency, returning one record per URL in input order.
package batch

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-meta/internal/crawler"
	"github.com/JakeFAU/sitemap-meta/internal/metrics"
)

// Extractor turns one URL into a metadata record without failing.
type Extractor interface {
	Extract(ctx context.Context, url string) crawler.PageMetadata
}

// Runner fans extraction out across URLs. Concurrency <= 0 starts every extraction at
// once.
type Runner struct {
	extractor   Extractor
	concurrency int
	logger      *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(extractor Extractor, concurrency int, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		extractor:   extractor,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run extracts metadata for every URL and blocks until all extractions finish. The
// result has the same length and order as urls; it is empty, not nil, for no input.
func (r *Runner) Run(ctx context.Context, urls []string) []crawler.PageMetadata {
	results := make([]crawler.PageMetadata, len(urls))
	if len(urls) == 0 {
		return results
	}

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, url := range urls {
		g.Go(func() error {
			results[i] = r.extractOne(ctx, url)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Debug("batch finished", zap.Int("urls", len(urls)), zap.Int("concurrency", r.concurrency))
	return results
}

func (r *Runner) extractOne(ctx context.Context, url string) (meta crawler.PageMetadata) {
	metrics.IncExtractionsInFlight()
	defer metrics.DecExtractionsInFlight()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("extraction panicked", zap.String("url", url), zap.Any("panic", rec))
			meta = crawler.EmptyMetadata(url, crawler.PageStatusFetchFailed)
		}
	}()
	return r.extractor.Extract(ctx, url)
}
