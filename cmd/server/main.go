// Package main provides the entry point for the research query service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/paperverse/research-query-service/internal/cache"
	"github.com/paperverse/research-query-service/internal/config"
	"github.com/paperverse/research-query-service/internal/keypool"
	"github.com/paperverse/research-query-service/internal/observability"
	"github.com/paperverse/research-query-service/internal/openalex"
	"github.com/paperverse/research-query-service/internal/pdf"
	"github.com/paperverse/research-query-service/internal/pipeline"
	"github.com/paperverse/research-query-service/internal/retry"
	httpserver "github.com/paperverse/research-query-service/internal/server/http"
	"github.com/paperverse/research-query-service/internal/translate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("research-query-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Credential pool. An empty pool is fatal at startup.
	pool, err := keypool.FromEnv(config.KeyPoolEnvPrefix)
	if err != nil {
		return fmt.Errorf("load translator credentials: %w", err)
	}
	logger.Info().Int("pool_size", pool.Size()).Msg("translator key pool loaded")

	// Metrics.
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// AI translation provider and translator.
	provider := translate.NewGeminiProvider(translate.GeminiConfig{
		Model:       cfg.Translator.Model,
		BaseURL:     cfg.Translator.BaseURL,
		Timeout:     cfg.Translator.Timeout,
		Temperature: cfg.Translator.Temperature,
	})
	translator := translate.New(provider, pool, translate.Config{
		MaxAttempts:                cfg.Translator.MaxAttempts,
		BreakerConsecutiveFailures: cfg.Translator.BreakerConsecutiveFailures,
		BreakerCooldown:            cfg.Translator.BreakerCooldown,
	}, logger)
	if metrics != nil {
		translator.OnRotate = metrics.RecordKeyRotation
	}

	// Request cache.
	cacheSize := 0
	if cfg.Cache.Enabled {
		cacheSize = cfg.Cache.Size
	}
	requestCache := cache.New(cacheSize)

	// Works API client.
	searchPolicy := retry.DefaultPolicy()
	searchPolicy.MaxAttempts = cfg.OpenAlex.MaxAttempts
	searcher := openalex.New(openalex.Config{
		BaseURL:     cfg.OpenAlex.BaseURL,
		Mailto:      cfg.OpenAlex.Mailto,
		Timeout:     cfg.OpenAlex.Timeout,
		RateLimit:   cfg.OpenAlex.RateLimit,
		BurstSize:   cfg.OpenAlex.BurstSize,
		RetryPolicy: searchPolicy,
	}, logger)
	if metrics != nil {
		searcher.OnRetry = func(attempt int, _ error) {
			metrics.RecordRetry("openalex")
		}
	}

	// PDF store and resolver.
	store, err := pdf.NewStore(cfg.PDF.Dir)
	if err != nil {
		return fmt.Errorf("create pdf store: %w", err)
	}
	downloader := pdf.NewDownloader(pdf.DownloaderConfig{
		Timeout:      cfg.PDF.Timeout,
		MaxSize:      cfg.PDF.MaxSize,
		AllowedHosts: cfg.PDF.AllowedHosts,
	})
	resolver := pdf.NewResolver(store, downloader, cfg.PDF.ArxivBaseURL, logger)
	resolver.Metrics = metrics

	// Pipeline.
	service := pipeline.New(translator, searcher, requestCache, pipeline.Config{
		CacheTTL: cfg.Cache.TTL,
	}, metrics, logger)

	// HTTP server.
	srv := httpserver.NewServer(httpserver.Config{
		Address:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		SurfaceDegraded: cfg.Server.SurfaceDegraded,
	}, service, resolver, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	logger.Info().Msg("research-query-service stopped")
	return nil
}
