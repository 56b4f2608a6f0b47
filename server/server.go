// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fedi-thread-viewer/pkg/thread"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

// Templates.
var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

const (
	defaultThreadTimeout = 2 * time.Minute
	defaultRateLimit     = 60
)

// Loader interface for reconstructing threads.
type Loader interface {
	LoadThread(ctx context.Context, rootURL string) (*thread.Node, error)
}

// IsNotFound checks if an error means the requested post does not exist.
type IsNotFound func(error) bool

// Server handles HTTP requests.
type Server struct {
	loader        Loader
	logger        *slog.Logger
	media         fs.FS
	threadTimeout time.Duration
	limiter       *rateLimiter
	isNotFound    IsNotFound
}

// Config holds server configuration.
type Config struct {
	Loader        Loader
	Logger        *slog.Logger
	Media         fs.FS         // Served under /media/; may be nil
	ThreadTimeout time.Duration // Deadline for one thread load
	RateLimit     int           // Thread loads per client IP per hour
	IsNotFound    IsNotFound    // Reports a missing root post; may be nil
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	timeout := cfg.ThreadTimeout
	if timeout <= 0 {
		timeout = defaultThreadTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	return &Server{
		loader:        cfg.Loader,
		logger:        cfg.Logger,
		media:         cfg.Media,
		threadTimeout: timeout,
		limiter:       newRateLimiter(limit, time.Hour),
		isNotFound:    cfg.IsNotFound,
	}
}

// Routes returns the handler for all endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /{$}", s.handleTarget)
	mux.HandleFunc("GET /thread", s.handleThread)
	mux.HandleFunc("GET /thread.json", s.handleThreadJSON)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.media != nil {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.FS(s.media))))
	}
	return mux
}

// Run serves all routes on port until the server fails.
func (s *Server) Run(port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      s.threadTimeout + 30*time.Second, // A thread load may use the whole timeout
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Failed to render template", "template", name, "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, msg string) {
	s.render(w, status, "error.tmpl", map[string]any{
		"Status":  status,
		"Title":   http.StatusText(status),
		"Message": msg,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.tmpl", map[string]string{
		"URL": r.URL.Query().Get("url"),
	})
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	target := strings.TrimSpace(r.FormValue("url"))
	http.Redirect(w, r, "/thread?url="+url.QueryEscape(target), http.StatusSeeOther)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}
