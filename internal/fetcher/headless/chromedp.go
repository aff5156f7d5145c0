// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sitemap-meta/internal/crawler"
)

const (
	defaultNavigationTimeout = 25 * time.Second
	settleDelay              = 300 * time.Millisecond
)

// Config controls the behavior of the headless fetcher. MaxParallel 0 leaves tabs
// unbounded.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher renders pages in headless Chrome and returns only the rendered <head>, which
// is where script-injected <title> and <meta> elements end up.
type Fetcher struct {
	navTimeout  time.Duration
	tabs        *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser process is
// started lazily on the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{
		navTimeout:  cfg.NavigationTimeout,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
	if cfg.MaxParallel > 0 {
		f.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	return f, nil
}

// Close stops the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch opens url in a new tab and returns a document holding the rendered head. A
// document status of 400 or above is an error.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.tabs != nil {
		if err := f.tabs.Acquire(ctx, 1); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("headless slot wait canceled: %w", err)
		}
		defer f.tabs.Release(1)
	}

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout)
	defer cancel()

	doc := &documentWatcher{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var head, location string
	err := chromedp.Run(tabCtx,
		extraHeaders(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("head", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("head", &head, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("headless render canceled: %w", ctx.Err())
		}
		return crawler.FetchResponse{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, contentType, docURL := doc.result()
	if status >= http.StatusBadRequest {
		return crawler.FetchResponse{}, fmt.Errorf("headless document status %d", status)
	}
	if status == 0 {
		status = http.StatusOK
	}
	if docURL == "" {
		docURL = location
	}
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}

	return crawler.FetchResponse{
		URL:          docURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte("<html>" + head + "</html>"),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// extraHeaders enables the network domain and forwards caller headers on every request
// the tab makes.
func extraHeaders(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if len(headers) == 0 {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

// toNetworkHeaders folds repeated values into one comma-separated string, the only
// value type the DevTools protocol accepts.
func toNetworkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// documentWatcher keeps the first document response of a tab. Later document
// responses belong to iframes.
type documentWatcher struct {
	mu          sync.Mutex
	seen        bool
	status      int
	contentType string
	url         string
}

func (w *documentWatcher) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen {
		return
	}
	w.seen = true
	w.status = int(resp.Response.Status)
	w.url = resp.Response.URL
	w.contentType = resp.Response.MimeType
}

func (w *documentWatcher) result() (int, string, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status, w.contentType, w.url
}
