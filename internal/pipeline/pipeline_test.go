package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-meta/internal/crawler"
	"github.com/JakeFAU/sitemap-meta/internal/publisher/memory"
)

type fakeResolver struct {
	urls []string
	got  string
}

func (f *fakeResolver) ResolveIndex(_ context.Context, indexURL string) []string {
	f.got = indexURL
	return f.urls
}

type fakeRunner struct {
	results []crawler.PageMetadata
	got     []string
}

func (f *fakeRunner) Run(_ context.Context, urls []string) []crawler.PageMetadata {
	f.got = urls
	if f.results != nil {
		return f.results
	}
	out := make([]crawler.PageMetadata, len(urls))
	for i, u := range urls {
		title := "title " + u
		out[i] = crawler.PageMetadata{URL: u, Title: &title, Status: crawler.PageStatusOK}
	}
	return out
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type staticIDs struct {
	id  string
	err error
}

func (s staticIDs) NewID() (string, error) { return s.id, s.err }

func newClock() *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), step: 1500 * time.Millisecond}
}

func TestRunReturnsResultsInOrderAndPublishesSummary(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{urls: []string{"https://a.test/1", "https://a.test/2"}}
	runner := &fakeRunner{}
	pub := memory.New()
	p := New(resolver, runner, pub, staticIDs{id: "batch-1"}, newClock(), Config{Topic: "batches"}, nil)

	results, err := p.Run(context.Background(), "https://a.test/sitemap_index.xml")
	require.NoError(t, p.Drain(context.Background()))
	require.NoError(t, err)
	require.Equal(t, "https://a.test/sitemap_index.xml", resolver.got)
	require.Equal(t, resolver.urls, runner.got)
	require.Len(t, results, 2)
	require.Equal(t, "https://a.test/1", results[0].URL)
	require.Equal(t, "https://a.test/2", results[1].URL)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "batches", msgs[0].Topic)
	summary, ok := msgs[0].Payload.(crawler.BatchSummary)
	require.True(t, ok)
	require.Equal(t, "batch-1", summary.ID)
	require.Equal(t, "https://a.test/sitemap_index.xml", summary.IndexURL)
	require.Equal(t, 2, summary.Pages)
	require.Equal(t, 2, summary.Succeeded)
	require.Zero(t, summary.Failed)
	require.Equal(t, int64(1500), summary.DurationMs)
}

func TestRunCountsFailuresAndRendered(t *testing.T) {
	t.Parallel()

	title := "ok"
	resolver := &fakeResolver{urls: []string{"u1", "u2", "u3"}}
	runner := &fakeRunner{results: []crawler.PageMetadata{
		{URL: "u1", Title: &title, Status: crawler.PageStatusOK, UsedHeadless: true},
		crawler.EmptyMetadata("u2", crawler.PageStatusFetchFailed),
		crawler.EmptyMetadata("u3", crawler.PageStatusParseFailed),
	}}
	pub := memory.New()
	p := New(resolver, runner, pub, staticIDs{id: "b"}, newClock(), Config{Topic: "t"}, nil)

	_, err := p.Run(context.Background(), "idx")
	require.NoError(t, p.Drain(context.Background()))
	require.NoError(t, err)

	summary := pub.Messages()[0].Payload.(crawler.BatchSummary)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 2, summary.Failed)
	require.Equal(t, 1, summary.Rendered)
}

func TestRunEmptyResolution(t *testing.T) {
	t.Parallel()

	p := New(&fakeResolver{}, &fakeRunner{}, nil, staticIDs{id: "b"}, newClock(), Config{}, nil)

	results, err := p.Run(context.Background(), "https://down.test/index.xml")
	require.NoError(t, p.Drain(context.Background()))
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestRunDetectsCardinalityMismatch(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{urls: []string{"u1", "u2"}}
	runner := &fakeRunner{results: []crawler.PageMetadata{crawler.EmptyMetadata("u1", crawler.PageStatusOK)}}
	pub := memory.New()
	p := New(resolver, runner, pub, staticIDs{id: "b"}, newClock(), Config{Topic: "t"}, nil)

	results, err := p.Run(context.Background(), "idx")
	require.NoError(t, p.Drain(context.Background()))
	require.ErrorIs(t, err, ErrBatchMismatch)
	require.Nil(t, results)
	require.Empty(t, pub.Messages())
}

func TestRunPublishFailureDoesNotFailBatch(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("broker down"))
	p := New(&fakeResolver{urls: []string{"u1"}}, &fakeRunner{}, pub, staticIDs{id: "b"}, newClock(), Config{Topic: "t"}, nil)

	results, err := p.Run(context.Background(), "idx")
	require.NoError(t, p.Drain(context.Background()))
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRunWithoutTopicSkipsPublish(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	p := New(&fakeResolver{urls: []string{"u1"}}, &fakeRunner{}, pub, staticIDs{id: "b"}, newClock(), Config{}, nil)

	_, err := p.Run(context.Background(), "idx")
	require.NoError(t, p.Drain(context.Background()))
	require.NoError(t, err)
	require.Empty(t, pub.Messages())
}

func TestRunIDFailureStillPublishes(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	p := New(&fakeResolver{urls: []string{"u1"}}, &fakeRunner{}, pub, staticIDs{err: errors.New("entropy")}, newClock(), Config{Topic: "t"}, nil)

	_, err := p.Run(context.Background(), "idx")
	require.NoError(t, p.Drain(context.Background()))
	require.NoError(t, err)
	require.Len(t, pub.Messages(), 1)
	require.Empty(t, pub.Messages()[0].Payload.(crawler.BatchSummary).ID)
}

func TestRunPublishesAfterCallerCancels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := &ctxCheckingPublisher{}
	p := New(&fakeResolver{urls: []string{"u1"}}, &fakeRunner{}, pub, staticIDs{id: "b"}, newClock(), Config{Topic: "t"}, nil)

	_, err := p.Run(ctx, "idx")
	require.NoError(t, p.Drain(context.Background()))
	require.NoError(t, err)
	require.NoError(t, pub.ctxErr)
	require.True(t, pub.called)
}

type ctxCheckingPublisher struct {
	called bool
	ctxErr error
}

func (p *ctxCheckingPublisher) Publish(ctx context.Context, _ string, _ any) (string, error) {
	p.called = true
	p.ctxErr = ctx.Err()
	return "1", nil
}

func TestRunDoesNotWaitForPublish(t *testing.T) {
	t.Parallel()

	pub := &blockingPublisher{release: make(chan struct{}), published: make(chan struct{})}
	p := New(&fakeResolver{urls: []string{"u1"}}, &fakeRunner{}, pub, staticIDs{id: "b"}, newClock(), Config{Topic: "t"}, nil)

	results, err := p.Run(context.Background(), "idx")
	require.NoError(t, err)
	require.Len(t, results, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Drain(ctx), context.DeadlineExceeded)

	close(pub.release)
	require.NoError(t, p.Drain(context.Background()))
	select {
	case <-pub.published:
	default:
		t.Fatal("expected publish to finish before Drain returned")
	}
}

type blockingPublisher struct {
	release   chan struct{}
	published chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ string, _ any) (string, error) {
	select {
	case <-p.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	close(p.published)
	return "1", nil
}
