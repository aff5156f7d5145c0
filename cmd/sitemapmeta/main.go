// Package main wires together the sitemap metadata service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-meta/internal/api"
	"github.com/JakeFAU/sitemap-meta/internal/batch"
	"github.com/JakeFAU/sitemap-meta/internal/clock/system"
	"github.com/JakeFAU/sitemap-meta/internal/config"
	"github.com/JakeFAU/sitemap-meta/internal/crawler"
	"github.com/JakeFAU/sitemap-meta/internal/extract"
	collyfetcher "github.com/JakeFAU/sitemap-meta/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitemap-meta/internal/fetcher/headless"
	"github.com/JakeFAU/sitemap-meta/internal/headless/detector"
	"github.com/JakeFAU/sitemap-meta/internal/id/uuid"
	"github.com/JakeFAU/sitemap-meta/internal/logging"
	"github.com/JakeFAU/sitemap-meta/internal/pipeline"
	pubsubpublisher "github.com/JakeFAU/sitemap-meta/internal/publisher/pubsub"
	"github.com/JakeFAU/sitemap-meta/internal/sitemap"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probeFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.FetchTimeout(),
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	})

	var extractOpts []extract.Option
	if cfg.Headless.Enabled {
		var headless crawler.Fetcher
		chrome, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.NavigationTimeout(),
		})
		if err != nil {
			// Flagged pages keep their probe metadata and count as failed promotions.
			logger.Warn("headless fetcher init failed", zap.Error(err))
			headless = headlessfetcher.NewNoop()
		} else {
			defer chrome.Close()
			headless = chrome
		}
		extractOpts = append(extractOpts, extract.WithHeadless(headless, detector.NewHeuristic(cfg.Headless.PromotionThresh)))
	}

	resolver := sitemap.NewResolver(probeFetcher, sitemap.Config{
		MaxDepth:    cfg.Sitemap.MaxDepth,
		Concurrency: cfg.Sitemap.Concurrency,
	}, logger)
	extractor := extract.New(probeFetcher, logger, extractOpts...)
	runner := batch.NewRunner(extractor, cfg.Batch.Concurrency, logger)

	publisher, closePublisher, err := newPublisher(ctx, cfg.PubSub)
	if err != nil {
		logger.Error("pubsub publisher init failed", zap.Error(err))
		os.Exit(1) //nolint:gocritic // logger sync is best-effort on fatal init
	}
	defer closePublisher()

	p := pipeline.New(
		resolver,
		runner,
		publisher,
		uuid.New(),
		system.New(),
		pipeline.Config{Topic: cfg.PubSub.TopicName},
		logger,
	)
	apiServer := api.NewServer(p, cfg, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server is running", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := p.Drain(shutdownCtx); err != nil {
		logger.Warn("batch summaries still publishing at shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newPublisher returns a Pub/Sub backed publisher when a topic is configured, or nil.
func newPublisher(ctx context.Context, cfg config.PubSubConfig) (crawler.Publisher, func(), error) {
	if cfg.TopicName == "" {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client.Topic(cfg.TopicName), map[string]string{"event": "batch.completed"})
	return pub, func() {
		pub.Stop()
		if err := client.Close(); err != nil {
			zap.L().Warn("pubsub client close failed", zap.Error(err))
		}
	}, nil
}
