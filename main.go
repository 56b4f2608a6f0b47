// Package main implements a web service that reconstructs ActivityPub reply
// threads and renders them with sanitized post content.
package main

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"fedi-thread-viewer/crawl"
	"fedi-thread-viewer/fetch"
	"fedi-thread-viewer/server"
)

//go:embed media/*
var mediaFS embed.FS

func main() {
	cfg := loadConfig()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	mediaSubFS, err := fs.Sub(mediaFS, "media")
	if err != nil {
		logger.Error("Failed to create media sub-filesystem", "error", err)
		os.Exit(1)
	}

	srv := newServer(cfg, logger, mediaSubFS)

	logger.Info("Configuration loaded",
		"fetch_timeout", cfg.FetchTimeout.String(),
		"fetch_attempts", cfg.FetchAttempts,
		"fetch_host_rps", cfg.HostRate,
		"thread_timeout", cfg.ThreadTimeout.String(),
		"crawl_concurrency", cfg.CrawlConcurrency,
		"crawl_max_pages", cfg.CrawlMaxPages)

	if err := srv.Run(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// newServer wires the HTTP client, fetcher, thread builder and web server.
func newServer(cfg *config, logger *slog.Logger, media fs.FS) *server.Server {
	limited := fetch.NewHostLimitTransport(http.DefaultTransport, cfg.HostRate, cfg.HostBurst)
	client := &http.Client{
		Timeout:   cfg.FetchTimeout,
		Transport: fetch.NewRetryTransport(limited, uint(cfg.FetchAttempts), retryDelay, logger),
	}
	builder := crawl.New(fetch.New(client, logger), logger, crawl.Options{
		Concurrency: cfg.CrawlConcurrency,
		MaxPages:    cfg.CrawlMaxPages,
	})
	return server.New(&server.Config{
		Loader:        builder,
		Logger:        logger,
		Media:         media,
		ThreadTimeout: cfg.ThreadTimeout,
		RateLimit:     cfg.RateLimit,
		IsNotFound:    fetch.IsNotFound,
	})
}
