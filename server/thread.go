package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fedi-thread-viewer/pkg/thread"
)

// threadRequest validates the url parameter, applies rate limiting and loads
// the thread. On failure it writes the error response and returns nil.
func (s *Server) threadRequest(w http.ResponseWriter, r *http.Request, fail func(http.ResponseWriter, int, string)) *thread.Node {
	rootURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rootURL == "" {
		fail(w, http.StatusNotFound, "No URL provided")
		return nil
	}
	if !isPostURL(rootURL) {
		fail(w, http.StatusBadRequest, "Invalid post URL - must be an absolute http or https URL")
		return nil
	}

	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		fail(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
		return nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.threadTimeout)
	defer cancel()

	start := time.Now()
	root, err := s.loader.LoadThread(ctx, rootURL)
	if err != nil {
		s.logger.Warn("Failed to load thread", "url", rootURL, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		case s.isNotFound != nil && s.isNotFound(err):
			status = http.StatusNotFound
		}
		fail(w, status, "Could not load thread: "+err.Error())
		return nil
	}
	return root
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	root := s.threadRequest(w, r, s.renderError)
	if root == nil {
		return
	}
	resolved, missing := root.Count()
	s.render(w, http.StatusOK, "thread.tmpl", map[string]any{
		"Root":     root,
		"Resolved": resolved,
		"Missing":  missing,
	})
}

func (s *Server) handleThreadJSON(w http.ResponseWriter, r *http.Request) {
	root := s.threadRequest(w, r, s.writeJSONError)
	if root == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, root)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write JSON response", "error", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// isPostURL reports whether raw is an absolute http(s) URL with a host.
func isPostURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
