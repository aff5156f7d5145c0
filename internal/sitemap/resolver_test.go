package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-meta/internal/crawler"
	collyfetcher "github.com/JakeFAU/sitemap-meta/internal/fetcher/colly"
)

func TestResolver_ResolveURLSet_ReturnsAllInOrder(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies["https://example.com/s1.xml"] = urlSetXML("https://example.com/1", "https://example.com/2", "https://example.com/3")

	r := NewResolver(fetcher, Config{}, zap.NewNop())
	urls := r.ResolveURLSet(context.Background(), "https://example.com/s1.xml")

	require.Equal(t, []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"}, urls)
}

func TestResolver_ResolveURLSet_FailuresYieldEmpty(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies["https://example.com/bad.xml"] = "<urlset><url>"
	fetcher.bodies["https://example.com/feed.xml"] = "<rss></rss>"
	fetcher.errs["https://example.com/down.xml"] = errors.New("connection refused")

	r := NewResolver(fetcher, Config{}, zap.NewNop())
	for _, u := range []string{
		"https://example.com/bad.xml",
		"https://example.com/feed.xml",
		"https://example.com/down.xml",
		"https://example.com/missing.xml",
	} {
		urls := r.ResolveURLSet(context.Background(), u)
		require.NotNil(t, urls, u)
		require.Empty(t, urls, u)
	}
}

func TestResolver_ResolveIndex_ConcatenatesChildrenInOrder(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies["https://example.com/index.xml"] = indexXML("https://example.com/s1.xml", "https://example.com/s2.xml")
	fetcher.bodies["https://example.com/s1.xml"] = urlSetXML("https://example.com/a", "https://example.com/b", "https://example.com/c")
	fetcher.bodies["https://example.com/s2.xml"] = urlSetXML("https://example.com/d", "https://example.com/e")

	r := NewResolver(fetcher, Config{}, zap.NewNop())
	urls := r.ResolveIndex(context.Background(), "https://example.com/index.xml")

	require.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
		"https://example.com/e",
	}, urls)
}

func TestResolver_ResolveIndex_IsolatesFailingChild(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies["https://example.com/index.xml"] = indexXML(
		"https://example.com/s1.xml",
		"https://unreachable.invalid/s2.xml",
		"https://example.com/s3.xml",
	)
	fetcher.bodies["https://example.com/s1.xml"] = urlSetXML("https://example.com/a")
	fetcher.errs["https://unreachable.invalid/s2.xml"] = errors.New("no such host")
	fetcher.bodies["https://example.com/s3.xml"] = urlSetXML("https://example.com/b", "https://example.com/c")

	r := NewResolver(fetcher, Config{}, zap.NewNop())
	urls := r.ResolveIndex(context.Background(), "https://example.com/index.xml")

	require.Equal(t, []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}, urls)
}

func TestResolver_ResolveIndex_RootFailures(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies["https://example.com/urlset.xml"] = urlSetXML("https://example.com/a")
	fetcher.bodies["https://example.com/broken.xml"] = "<sitemapindex><sitemap>"
	fetcher.errs["https://example.com/down.xml"] = errors.New("timeout")

	r := NewResolver(fetcher, Config{}, zap.NewNop())
	for _, u := range []string{
		"https://example.com/urlset.xml",
		"https://example.com/broken.xml",
		"https://example.com/down.xml",
	} {
		urls := r.ResolveIndex(context.Background(), u)
		require.NotNil(t, urls, u)
		require.Empty(t, urls, u)
	}
}

func TestResolver_NestedIndexIgnoredAtDefaultDepth(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies["https://example.com/index.xml"] = indexXML("https://example.com/nested.xml", "https://example.com/s1.xml")
	fetcher.bodies["https://example.com/nested.xml"] = indexXML("https://example.com/s2.xml")
	fetcher.bodies["https://example.com/s1.xml"] = urlSetXML("https://example.com/a")
	fetcher.bodies["https://example.com/s2.xml"] = urlSetXML("https://example.com/b")

	r := NewResolver(fetcher, Config{}, zap.NewNop())
	urls := r.ResolveIndex(context.Background(), "https://example.com/index.xml")

	require.Equal(t, []string{"https://example.com/a"}, urls)
	require.Zero(t, fetcher.calls("https://example.com/s2.xml"))
}

func TestResolver_NestedIndexExpandedWithDepth(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies["https://example.com/index.xml"] = indexXML("https://example.com/nested.xml", "https://example.com/s1.xml")
	fetcher.bodies["https://example.com/nested.xml"] = indexXML("https://example.com/s2.xml")
	fetcher.bodies["https://example.com/s1.xml"] = urlSetXML("https://example.com/a")
	fetcher.bodies["https://example.com/s2.xml"] = urlSetXML("https://example.com/b")

	r := NewResolver(fetcher, Config{MaxDepth: 2}, zap.NewNop())
	urls := r.ResolveIndex(context.Background(), "https://example.com/index.xml")

	require.Equal(t, []string{"https://example.com/b", "https://example.com/a"}, urls)
}

func TestResolver_CycleGuard(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.bodies["https://example.com/index.xml"] = indexXML("https://example.com/loop.xml", "https://example.com/s1.xml")
	fetcher.bodies["https://example.com/loop.xml"] = indexXML("https://example.com/index.xml")
	fetcher.bodies["https://example.com/s1.xml"] = urlSetXML("https://example.com/a")

	r := NewResolver(fetcher, Config{MaxDepth: 10}, zap.NewNop())
	urls := r.ResolveIndex(context.Background(), "https://example.com/index.xml")

	require.Equal(t, []string{"https://example.com/a"}, urls)
	require.Equal(t, 1, fetcher.calls("https://example.com/index.xml"))
}

func TestResolver_ConcurrentChildrenKeepOrder(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	children := make([]string, 0, 6)
	var want []string
	for i := 0; i < 6; i++ {
		child := fmt.Sprintf("https://example.com/s%d.xml", i)
		children = append(children, child)
		page := fmt.Sprintf("https://example.com/page-%d", i)
		want = append(want, page)
		fetcher.bodies[child] = urlSetXML(page)
		// Earlier children answer last.
		fetcher.delays[child] = time.Duration(6-i) * 5 * time.Millisecond
	}
	fetcher.bodies["https://example.com/index.xml"] = indexXML(children...)

	r := NewResolver(fetcher, Config{Concurrency: 4}, zap.NewNop())
	urls := r.ResolveIndex(context.Background(), "https://example.com/index.xml")

	require.Equal(t, want, urls)
}

func urlSetXML(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		b.WriteString("<url><loc>" + loc + "</loc></url>")
	}
	b.WriteString("</urlset>")
	return b.String()
}

func indexXML(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		b.WriteString("<sitemap><loc>" + loc + "</loc></sitemap>")
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

type fakeFetcher struct {
	mu      sync.Mutex
	bodies  map[string]string
	errs    map[string]error
	delays  map[string]time.Duration
	counter map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies:  map[string]string{},
		errs:    map[string]error{},
		delays:  map[string]time.Duration{},
		counter: map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.counter[req.URL]++
	delay := f.delays[req.URL]
	err := f.errs[req.URL]
	body, ok := f.bodies[req.URL]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return crawler.FetchResponse{}, ctx.Err()
		}
	}
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	if !ok {
		return crawler.FetchResponse{}, errors.New("status 404: Not Found")
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[url]
}

func TestResolver_ResolveURLSet_Latin1ThroughColly(t *testing.T) {
	t.Parallel()

	body := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>" +
		"<urlset><url><loc>https://a.test/caf\xe9</loc></url></urlset>"
	contentTypes := map[string]string{
		"/declared.xml": "text/xml; charset=ISO-8859-1",
		"/prolog.xml":   "text/xml",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypes[r.URL.Path])
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	r := NewResolver(collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}), Config{}, zap.NewNop())
	for path := range contentTypes {
		urls := r.ResolveURLSet(context.Background(), srv.URL+path)
		require.Equal(t, []string{"https://a.test/café"}, urls, path)
	}
}
