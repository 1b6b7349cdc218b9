package workers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"wohnwatch/config"
	"wohnwatch/httputil"
	"wohnwatch/models"
)

// ProbeTarget is the page checked for one provider.
type ProbeTarget struct {
	ProviderID string
	URL        string
}

// ProbeResult contains the outcome of checking a provider page
type ProbeResult struct {
	ProviderID string    `json:"provider_id"`
	URL        string    `json:"url"`
	Reachable  bool      `json:"reachable"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// ProbeTargets returns the first candidate page of every enabled HTML provider, in
// registry order. Providers without candidates are probed at their fallback page.
func ProbeTargets(cfg *config.Config) []ProbeTarget {
	var targets []ProbeTarget
	for _, id := range cfg.ProviderOrder {
		pc := cfg.Providers[id]
		if pc == nil || !pc.IsEnabled() || pc.Kind != config.ProviderKindHTML {
			continue
		}
		target := pc.Fallback
		if len(pc.Candidates) > 0 {
			target = pc.Candidates[0]
		}
		if target == "" {
			continue
		}
		targets = append(targets, ProbeTarget{ProviderID: id, URL: target})
	}
	return targets
}

// ProbeWorker periodically checks that provider pages still answer, so layout moves
// and dead candidate URLs show up before every poll falls back.
type ProbeWorker struct {
	httpClient *http.Client
	targets    []ProbeTarget
	delay      time.Duration
	triggerCh  chan struct{}
	logFunc    LogFunc

	mu      sync.RWMutex
	results map[string]ProbeResult
}

func (w *ProbeWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// NewProbeWorker creates a probe over targets. Redirects are not followed so a
// provider moving its listing page is reported.
func NewProbeWorker(base *http.Client, targets []ProbeTarget) *ProbeWorker {
	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if base != nil {
		client.Transport = base.Transport
		if base.Timeout > 0 {
			client.Timeout = base.Timeout
		}
	}

	return &ProbeWorker{
		httpClient: client,
		targets:    targets,
		delay:      500 * time.Millisecond,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
		results:    make(map[string]ProbeResult),
	}
}

// Trigger causes the worker to run immediately
func (w *ProbeWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Check requests a page with HEAD and retries with GET when the site rejects HEAD.
func (w *ProbeWorker) Check(ctx context.Context, target ProbeTarget) ProbeResult {
	result := w.checkWithMethod(ctx, http.MethodHead, target)
	if result.StatusCode == http.StatusMethodNotAllowed || result.StatusCode == http.StatusNotImplemented {
		result = w.checkWithMethod(ctx, http.MethodGet, target)
	}
	result.CheckedAt = time.Now().UTC()
	return result
}

func (w *ProbeWorker) checkWithMethod(ctx context.Context, method string, target ProbeTarget) ProbeResult {
	result := ProbeResult{ProviderID: target.ProviderID, URL: target.URL}

	req, err := http.NewRequestWithContext(ctx, method, target.URL, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	httputil.SetBrowserHeaders(req)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	resp.Body.Close()

	result.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Reachable = true
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		if isMovedAway(target.URL, location) {
			result.Error = fmt.Sprintf("redirected to %s", location)
		} else {
			result.Reachable = true
		}
	default:
		result.Error = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return result
}

// isMovedAway reports whether a redirect leaves the provider's host or lands on its
// front page, which is how housing sites retire a listing path.
func isMovedAway(origin, location string) bool {
	if location == "" {
		return true
	}
	from, err := url.Parse(origin)
	if err != nil {
		return true
	}
	to, err := from.Parse(location)
	if err != nil {
		return true
	}
	if !strings.EqualFold(strings.TrimPrefix(to.Hostname(), "www."), strings.TrimPrefix(from.Hostname(), "www.")) {
		return true
	}
	return to.Path == "" || to.Path == "/"
}

// Results returns the latest outcome per target in target order. Targets that were
// never checked are omitted.
func (w *ProbeWorker) Results() []ProbeResult {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]ProbeResult, 0, len(w.results))
	for _, t := range w.targets {
		if r, ok := w.results[t.ProviderID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Run starts the probe loop. A non-positive interval only runs on Trigger.
func (w *ProbeWorker) Run(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Probe worker stopping")
			return
		case <-tick:
			w.RunOnce(ctx)
		case <-w.triggerCh:
			log.Println("Probe worker triggered manually")
			w.RunOnce(ctx)
		}
	}
}

// RunOnce checks every target and returns how many were unreachable.
func (w *ProbeWorker) RunOnce(ctx context.Context) int {
	if len(w.targets) == 0 {
		return 0
	}

	var failed []string
	for i, target := range w.targets {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && w.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.delay):
			}
		}

		result := w.Check(ctx, target)
		w.mu.Lock()
		w.results[target.ProviderID] = result
		w.mu.Unlock()

		if !result.Reachable {
			log.Printf("Probe: %s unreachable at %s: %s", target.ProviderID, target.URL, result.Error)
			failed = append(failed, target.ProviderID)
		}
	}

	if len(failed) > 0 {
		w.logFunc(models.LogLevelWarn, "probe", fmt.Sprintf("%d of %d providers unreachable: %s", len(failed), len(w.targets), strings.Join(failed, ", ")))
	} else {
		w.logFunc(models.LogLevelInfo, "probe", fmt.Sprintf("Checked %d providers", len(w.targets)))
	}
	return len(failed)
}
