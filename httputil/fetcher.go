package httputil

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Fetcher retrieves a page body. It never fails hard: ok is false on transport errors
// and non-2xx responses so callers can move on to the next candidate.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (body []byte, ok bool)
}

type HTTPFetcher struct {
	client   *http.Client
	limiter  *HostLimiter
	maxBytes int64
}

func NewHTTPFetcher(client *http.Client, requestsPerSecond float64, maxBytes int64) *HTTPFetcher {
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	return &HTTPFetcher{
		client:   client,
		limiter:  NewHostLimiter(requestsPerSecond),
		maxBytes: maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		log.Printf("fetch %s: invalid url: %v", rawURL, err)
		return nil, false
	}

	if err := f.limiter.Wait(ctx, u.Host); err != nil {
		log.Printf("fetch %s: %v", rawURL, err)
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		log.Printf("fetch %s: create request: %v", rawURL, err)
		return nil, false
	}
	SetBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		log.Printf("fetch %s: %v", rawURL, err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("fetch %s: non-2xx status %d", rawURL, resp.StatusCode)
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		log.Printf("fetch %s: read body: %v", rawURL, err)
		return nil, false
	}
	return body, true
}

// HostLimiter hands out one token bucket per host.
type HostLimiter struct {
	mu       sync.Mutex
	rps      float64
	limiters map[string]*rate.Limiter
}

// NewHostLimiter returns a limiter allowing rps requests per second per host.
// A non-positive rps disables limiting.
func NewHostLimiter(rps float64) *HostLimiter {
	return &HostLimiter{
		rps:      rps,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h.rps <= 0 {
		return nil
	}

	h.mu.Lock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(h.rps), 1)
		h.limiters[host] = l
	}
	h.mu.Unlock()

	return l.Wait(ctx)
}
