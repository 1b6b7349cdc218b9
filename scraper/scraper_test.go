package scraper

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wohnwatch/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

// fakeFetcher serves fixed pages and fails every other url.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]byte
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	body, ok := f.pages[rawURL]
	return body, ok
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingArchiver struct {
	mu   sync.Mutex
	urls []string
}

func (a *recordingArchiver) Archive(ctx context.Context, provider, sourceURL string, markup []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.urls = append(a.urls, sourceURL)
	return nil
}

// stubProvider returns canned results without fetching.
type stubProvider struct {
	id       string
	disabled bool
	listings []models.Listing
	err      error
	panicMsg string
	delay    time.Duration
	block    bool
}

func (p *stubProvider) ID() string    { return p.id }
func (p *stubProvider) Name() string  { return p.id }
func (p *stubProvider) Enabled() bool { return !p.disabled }

func (p *stubProvider) Search(ctx context.Context, c models.Criteria) ([]models.Listing, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	return append([]models.Listing(nil), p.listings...), p.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]models.Listing
	to    []string
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, email string, listings []models.Listing) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, listings)
	n.to = append(n.to, email)
	return n.err
}

type memoryRecorder struct {
	mu   sync.Mutex
	runs map[int64]models.PollRun
	logs []string
	next int64
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{runs: make(map[int64]models.PollRun)}
}

func (r *memoryRecorder) CreateRun(ctx context.Context, run *models.PollRun) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.runs[r.next] = *run
	return r.next, nil
}

func (r *memoryRecorder) UpdateRun(ctx context.Context, run *models.PollRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *memoryRecorder) Log(ctx context.Context, runID *int64, level models.LogLevel, message, searchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, string(level)+": "+message)
	return nil
}

func (r *memoryRecorder) lastRun() models.PollRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[r.next]
}

func listingIDs(listings []models.Listing) []string {
	out := make([]string, len(listings))
	for i, l := range listings {
		out[i] = l.ID
	}
	return out
}
