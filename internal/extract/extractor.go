// Package extract fetches a page and reads its title and meta description.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-meta/internal/crawler"
	"github.com/JakeFAU/sitemap-meta/internal/metrics"
)

// Extractor produces a PageMetadata record for a URL. It never fails: fetch and parse
// errors are logged and collapse to a record with absent title and description.
type Extractor struct {
	probe    crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

// Option configures optional Extractor collaborators.
type Option func(*Extractor)

// WithHeadless enables re-fetching pages through a browser when the detector flags the
// probe response.
func WithHeadless(fetcher crawler.Fetcher, detector crawler.HeadlessDetector) Option {
	return func(e *Extractor) {
		e.headless = fetcher
		e.detector = detector
	}
}

// New constructs an Extractor around the probe fetcher.
func New(probe crawler.Fetcher, logger *zap.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{
		probe:  probe,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract fetches url and returns its metadata.
func (e *Extractor) Extract(ctx context.Context, url string) crawler.PageMetadata {
	resp, err := e.probe.Fetch(ctx, crawler.FetchRequest{URL: url})
	if err != nil {
		e.logger.Warn("page fetch failed", zap.String("url", url), zap.Error(err))
		metrics.ObservePage(url, string(crawler.PageStatusFetchFailed), 0)
		return crawler.EmptyMetadata(url, crawler.PageStatusFetchFailed)
	}

	meta, err := Parse(url, resp.Body)
	if err != nil {
		e.logger.Warn("page parse failed", zap.String("url", url), zap.Error(err))
		metrics.ObservePage(url, string(crawler.PageStatusParseFailed), len(resp.Body))
		return crawler.EmptyMetadata(url, crawler.PageStatusParseFailed)
	}

	if rendered, ok := e.maybePromote(ctx, url, resp, meta); ok {
		meta = rendered
	}

	metrics.ObservePage(url, string(meta.Status), len(resp.Body))
	e.logger.Debug("page metadata extracted",
		zap.String("url", url),
		zap.Bool("has_title", meta.Title != nil),
		zap.Bool("has_description", meta.Description != nil),
		zap.Bool("headless", meta.UsedHeadless),
	)
	return meta
}

func (e *Extractor) maybePromote(
	ctx context.Context,
	url string,
	probe crawler.FetchResponse,
	meta crawler.PageMetadata,
) (crawler.PageMetadata, bool) {
	if e.headless == nil || e.detector == nil || !e.detector.ShouldPromote(probe, meta) {
		return meta, false
	}

	resp, err := e.headless.Fetch(ctx, crawler.FetchRequest{URL: url})
	if err != nil {
		e.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		metrics.ObserveHeadlessPromotion("fetch_failed")
		return meta, false
	}
	rendered, err := Parse(url, resp.Body)
	if err != nil {
		e.logger.Warn("headless parse failed", zap.String("url", url), zap.Error(err))
		metrics.ObserveHeadlessPromotion("parse_failed")
		return meta, false
	}
	rendered.UsedHeadless = true
	metrics.ObserveHeadlessPromotion("ok")
	return rendered, true
}

// Parse reads the first <title> text and the content of the first
// <meta name="description"> from an HTML body.
func Parse(url string, body []byte) (crawler.PageMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.PageMetadata{}, fmt.Errorf("parse html: %w", err)
	}

	meta := crawler.PageMetadata{URL: url, Status: crawler.PageStatusOK}
	if title := doc.Find("title").First(); title.Length() > 0 {
		text := strings.TrimSpace(title.Text())
		meta.Title = &text
	}
	if content, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		meta.Description = &content
	}
	return meta, nil
}
