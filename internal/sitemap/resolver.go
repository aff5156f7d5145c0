package sitemap

import (
	"context"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-meta/internal/crawler"
	"github.com/JakeFAU/sitemap-meta/internal/metrics"
)

// Config controls how deep and how wide the resolver walks.
//   - MaxDepth: number of index levels expanded below the root (default 1, meaning the
//     root index's children must be urlsets).
//   - Concurrency: child sitemaps of one index resolved at once (default 1).
type Config struct {
	MaxDepth    int
	Concurrency int
}

// Resolver flattens a sitemap hierarchy into page URLs. Every failure is absorbed:
// a sitemap that cannot be fetched, decoded, or has the wrong shape contributes no URLs.
type Resolver struct {
	fetcher crawler.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(fetcher crawler.Fetcher, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
	}
}

// ResolveIndex fetches a sitemap index and returns the concatenation, in index order,
// of the page URLs of every child sitemap. The result is never nil.
func (r *Resolver) ResolveIndex(ctx context.Context, indexURL string) []string {
	doc, ok := r.load(ctx, indexURL, KindIndex)
	if !ok {
		return []string{}
	}
	return r.resolveChildren(ctx, doc.Locations, 1, []string{indexURL})
}

// ResolveURLSet fetches one sitemap and returns its page URLs in document order. The
// result is never nil.
func (r *Resolver) ResolveURLSet(ctx context.Context, sitemapURL string) []string {
	return r.resolveURLSet(ctx, sitemapURL, 1, nil)
}

func (r *Resolver) resolveURLSet(ctx context.Context, sitemapURL string, depth int, ancestors []string) []string {
	if slices.Contains(ancestors, sitemapURL) {
		r.logger.Warn("sitemap cycle detected", zap.String("url", sitemapURL), zap.Int("depth", depth))
		metrics.ObserveSitemap(KindURLSet.String(), "cycle")
		return []string{}
	}

	doc, ok := r.load(ctx, sitemapURL, KindUnknown)
	if !ok {
		return []string{}
	}

	switch doc.Kind {
	case KindURLSet:
		metrics.ObserveSitemap(KindURLSet.String(), "ok")
		return doc.Locations
	case KindIndex:
		if depth >= r.cfg.MaxDepth {
			r.logger.Warn("nested sitemap index ignored",
				zap.String("url", sitemapURL),
				zap.Int("depth", depth),
				zap.Int("max_depth", r.cfg.MaxDepth),
			)
			metrics.ObserveSitemap(KindURLSet.String(), "depth_exceeded")
			return []string{}
		}
		metrics.ObserveSitemap(KindIndex.String(), "ok")
		path := append(slices.Clone(ancestors), sitemapURL)
		return r.resolveChildren(ctx, doc.Locations, depth+1, path)
	default:
		r.logger.Warn("sitemap has no urlset root", zap.String("url", sitemapURL), zap.String("root", doc.Root))
		metrics.ObserveSitemap(KindURLSet.String(), "shape_mismatch")
		return []string{}
	}
}

// resolveChildren resolves child sitemaps, possibly concurrently, and concatenates
// their URLs in the order the children were listed.
func (r *Resolver) resolveChildren(ctx context.Context, children []string, depth int, ancestors []string) []string {
	parts := make([][]string, len(children))

	if r.cfg.Concurrency == 1 || len(children) < 2 {
		for i, child := range children {
			parts[i] = r.resolveURLSet(ctx, child, depth, ancestors)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.cfg.Concurrency)
		for i, child := range children {
			g.Go(func() error {
				parts[i] = r.resolveURLSet(ctx, child, depth, ancestors)
				return nil
			})
		}
		_ = g.Wait()
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	urls := make([]string, 0, total)
	for _, p := range parts {
		urls = append(urls, p...)
	}
	return urls
}

// load fetches and decodes one sitemap. When want is KindIndex the document must be an
// index; KindUnknown accepts any successfully decoded document.
func (r *Resolver) load(ctx context.Context, sitemapURL string, want Kind) (Document, bool) {
	kindLabel := KindURLSet.String()
	if want == KindIndex {
		kindLabel = KindIndex.String()
	}

	resp, err := r.fetcher.Fetch(ctx, crawler.FetchRequest{URL: sitemapURL})
	if err != nil {
		r.logger.Warn("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		metrics.ObserveSitemap(kindLabel, "fetch_failed")
		return Document{}, false
	}

	decodeBody := Decode
	if resp.BodyUTF8 {
		decodeBody = DecodeUTF8
	}
	doc, err := decodeBody(resp.Body)
	if err != nil {
		r.logger.Warn("sitemap decode failed", zap.String("url", sitemapURL), zap.Error(err))
		metrics.ObserveSitemap(kindLabel, "decode_failed")
		return Document{}, false
	}
	if doc.Skipped > 0 {
		r.logger.Debug("sitemap entries without loc skipped",
			zap.String("url", sitemapURL),
			zap.Int("skipped", doc.Skipped),
		)
	}

	if want == KindIndex {
		if doc.Kind != KindIndex {
			r.logger.Warn("document is not a sitemap index", zap.String("url", sitemapURL), zap.String("root", doc.Root))
			metrics.ObserveSitemap(kindLabel, "shape_mismatch")
			return Document{}, false
		}
		metrics.ObserveSitemap(kindLabel, "ok")
	}
	r.logger.Debug("sitemap loaded",
		zap.String("url", sitemapURL),
		zap.Stringer("kind", doc.Kind),
		zap.Int("locations", len(doc.Locations)),
	)
	return doc, true
}
