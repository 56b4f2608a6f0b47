package fetch

import (
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimitTransport spaces out requests to each remote host so a large
// thread does not hammer a single instance.
type HostLimitTransport struct {
	base  http.RoundTripper
	limit rate.Limit
	burst int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// NewHostLimitTransport allows perSecond requests per host with the given
// burst. A non-positive perSecond disables limiting.
func NewHostLimitTransport(base http.RoundTripper, perSecond float64, burst int) *HostLimitTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &HostLimitTransport{
		base:  base,
		limit: limit,
		burst: max(burst, 1),
		hosts: make(map[string]*rate.Limiter),
	}
}

func (t *HostLimitTransport) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.hosts[host]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.hosts[host] = l
	}
	return l
}

// RoundTrip waits for the host's limiter, then sends req.
func (t *HostLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter(req.URL.Host).Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("wait for %s: %w", req.URL.Host, err)
	}
	return t.base.RoundTrip(req)
}
