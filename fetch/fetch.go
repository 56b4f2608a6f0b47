// Package fetch retrieves ActivityPub JSON documents from remote servers.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	userAgent    = "fedi-thread-viewer/1.0"
	maxBodyBytes = 4 << 20
)

// TransportError indicates a network failure or a non-2xx response.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError indicates a response body that is not valid JSON.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if an error is a 404 or 410 from the remote server.
func IsNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && (te.StatusCode == http.StatusNotFound || te.StatusCode == http.StatusGone)
}

// Fetcher performs single GET requests for JSON documents.
// Retrying is left to the client's transport.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a new fetcher.
func New(client *http.Client, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		logger: logger,
	}
}

// FetchPage fetches url with a JSON Accept header and decodes the body into
// a generic JSON value (map[string]any, []any, string, json.Number, bool or nil).
func (f *Fetcher) FetchPage(ctx context.Context, url string) (any, error) {
	f.logger.Debug("HTTP request starting", "method", "GET", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	startTime := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		f.logger.Warn("HTTP request failed",
			"url", url,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, &TransportError{URL: url, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	f.logger.Debug("HTTP request completed",
		"url", url,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn("HTTP request returned non-2xx status", "url", url, "status_code", resp.StatusCode)
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	v, err := decodeJSON(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		f.logger.Warn("Failed to parse JSON body", "url", url, "error", err)
		return nil, &ParseError{URL: url, Err: err}
	}
	return v, nil
}

func decodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}
