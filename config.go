package main

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

const retryDelay = 500 * time.Millisecond

// config holds settings read from the environment.
type config struct {
	Port             string
	LogLevel         slog.Level
	FetchTimeout     time.Duration // Per request, covering every retry
	FetchAttempts    int
	HostRate         float64 // Requests per second to one remote host; 0 disables
	HostBurst        int
	ThreadTimeout    time.Duration
	CrawlConcurrency int
	CrawlMaxPages    int
	RateLimit        int // Thread loads per client IP per hour
}

func loadConfig() *config {
	return &config{
		Port:             envString("PORT", "8080"),
		LogLevel:         envLevel("LOG_LEVEL", slog.LevelInfo),
		FetchTimeout:     envDuration("FETCH_TIMEOUT", 15*time.Second),
		FetchAttempts:    max(envInt("FETCH_ATTEMPTS", 3), 1),
		HostRate:         envFloat("FETCH_HOST_RPS", 5),
		HostBurst:        envInt("FETCH_HOST_BURST", 10),
		ThreadTimeout:    envDuration("THREAD_TIMEOUT", 2*time.Minute),
		CrawlConcurrency: envInt("CRAWL_CONCURRENCY", 8),
		CrawlMaxPages:    envInt("CRAWL_MAX_PAGES", 100),
		RateLimit:        envInt("RATE_LIMIT_PER_HOUR", 60),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envLevel(key string, def slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv(key))); err != nil {
		return def
	}
	return level
}
