// Package pipeline orchestrates one resolve-and-extract batch: it resolves the sitemap
// index into page URLs, extracts metadata for each page, and announces the completed
// batch to the configured topic.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-meta/internal/crawler"
	"github.com/JakeFAU/sitemap-meta/internal/metrics"
)

// ErrBatchMismatch reports that the batch runner returned a different number of
// results than URLs it was given.
var ErrBatchMismatch = errors.New("batch result count does not match url count")

const defaultPublishTimeout = 10 * time.Second

// Resolver flattens a sitemap index into page URLs.
type Resolver interface {
	ResolveIndex(ctx context.Context, indexURL string) []string
}

// BatchRunner extracts metadata for every URL, one result per input in input order.
type BatchRunner interface {
	Run(ctx context.Context, urls []string) []crawler.PageMetadata
}

// Config controls Pipeline behavior.
type Config struct {
	// Topic receives a BatchSummary after each run. Empty disables publishing.
	Topic          string
	PublishTimeout time.Duration
}

// Pipeline runs Resolver then BatchRunner.
type Pipeline struct {
	resolver  Resolver
	runner    BatchRunner
	publisher crawler.Publisher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	publishing sync.WaitGroup
}

// New constructs a Pipeline. publisher may be nil when no topic is configured.
func New(
	resolver Resolver,
	runner BatchRunner,
	publisher crawler.Publisher,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Pipeline{
		resolver:  resolver,
		runner:    runner,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}
}

// Run resolves indexURL and extracts metadata for every page found. Individual sitemap
// and page failures never fail the batch; only an internal inconsistency does.
func (p *Pipeline) Run(ctx context.Context, indexURL string) ([]crawler.PageMetadata, error) {
	started := p.clock.Now()

	urls := p.resolver.ResolveIndex(ctx, indexURL)
	p.logger.Info("sitemap index resolved",
		zap.String("index_url", indexURL),
		zap.Int("urls", len(urls)),
	)

	results := p.runner.Run(ctx, urls)
	if len(results) != len(urls) {
		return nil, fmt.Errorf("%w: %d urls, %d results", ErrBatchMismatch, len(urls), len(results))
	}

	finished := p.clock.Now()
	metrics.ObserveBatch(len(results), finished.Sub(started))

	summary := p.summarize(indexURL, results, started, finished)
	p.logger.Info("batch completed",
		zap.String("batch_id", summary.ID),
		zap.String("index_url", indexURL),
		zap.Int("pages", summary.Pages),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("rendered", summary.Rendered),
		zap.Int64("duration_ms", summary.DurationMs),
	)
	p.startPublish(ctx, summary)

	return results, nil
}

// Drain waits for in-flight summary publishes to finish or for ctx to end.
func (p *Pipeline) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.publishing.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain summary publishes: %w", ctx.Err())
	}
}

// startPublish sends the summary in the background so the caller's response does not
// wait on the broker.
func (p *Pipeline) startPublish(ctx context.Context, summary crawler.BatchSummary) {
	if p.cfg.Topic == "" || p.publisher == nil {
		return
	}
	// Detached from the request: the response is already determined.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PublishTimeout)
	p.publishing.Add(1)
	go func() {
		defer p.publishing.Done()
		defer cancel()
		p.publishSummary(pubCtx, summary)
	}()
}

func (p *Pipeline) summarize(
	indexURL string,
	results []crawler.PageMetadata,
	started time.Time,
	finished time.Time,
) crawler.BatchSummary {
	summary := crawler.BatchSummary{
		IndexURL:   indexURL,
		Pages:      len(results),
		StartedAt:  started,
		FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(),
	}
	if p.ids != nil {
		id, err := p.ids.NewID()
		if err != nil {
			p.logger.Warn("batch id generation failed", zap.Error(err))
		}
		summary.ID = id
	}
	for _, r := range results {
		if r.Failed() {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
		if r.UsedHeadless {
			summary.Rendered++
		}
	}
	return summary
}

func (p *Pipeline) publishSummary(ctx context.Context, summary crawler.BatchSummary) {
	msgID, err := p.publisher.Publish(ctx, p.cfg.Topic, summary)
	if err != nil {
		p.logger.Warn("batch summary publish failed",
			zap.String("batch_id", summary.ID),
			zap.String("topic", p.cfg.Topic),
			zap.Error(err),
		)
		return
	}
	p.logger.Info("batch summary published",
		zap.String("batch_id", summary.ID),
		zap.String("topic", p.cfg.Topic),
		zap.String("message_id", msgID),
	)
}
