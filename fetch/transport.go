package fetch

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// RetryTransport retries network errors, 429 and 5xx responses.
// The response to the final attempt is returned as-is so callers still see its status.
type RetryTransport struct {
	base     http.RoundTripper
	logger   *slog.Logger
	attempts uint
	delay    time.Duration
}

// NewRetryTransport wraps base. attempts below 1 are treated as 1; delay is the
// initial backoff and also bounds the jitter added to each wait.
func NewRetryTransport(base http.RoundTripper, attempts uint, delay time.Duration, logger *slog.Logger) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if attempts < 1 {
		attempts = 1
	}
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	return &RetryTransport{
		base:     base,
		logger:   logger,
		attempts: attempts,
		delay:    delay,
	}
}

type retryableStatusError struct {
	code int
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.code)
}

// RoundTrip implements http.RoundTripper. Only requests without a body are retried.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody {
		return t.base.RoundTrip(req)
	}

	var (
		resp    *http.Response
		attempt uint
	)
	err := retry.Do(
		func() error {
			attempt++
			r, err := t.base.RoundTrip(req.Clone(req.Context()))
			if err != nil {
				return err
			}
			if attempt < t.attempts && retryableStatus(r.StatusCode) {
				_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 64<<10))
				if closeErr := r.Body.Close(); closeErr != nil {
					t.logger.Warn("Failed to close response body", "error", closeErr)
				}
				return &retryableStatusError{code: r.StatusCode}
			}
			resp = r
			return nil
		},
		retry.Attempts(t.attempts),
		retry.Delay(t.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(t.delay),
		retry.Context(req.Context()),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Info("Retrying fetch after error", "attempt", n, "url", req.URL.String(), "error", err)
		}),
		retry.RetryIf(func(error) bool {
			return req.Context().Err() == nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return resp, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
