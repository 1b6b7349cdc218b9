package scraper

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"wohnwatch/config"
	"wohnwatch/logging"
	"wohnwatch/models"
	"wohnwatch/notify"
	"wohnwatch/services"
	"wohnwatch/storage"
)

// Orchestrator runs one poll cycle for a search: every enabled provider, then the
// criteria filter, then fresh detection against the search's seen set.
type Orchestrator struct {
	registry        *Registry
	notifier        notify.Notifier
	recorder        storage.RunRecorder
	workers         int
	providerTimeout time.Duration
	now             func() time.Time
}

func NewOrchestrator(registry *Registry, cfg config.PollConfig) *Orchestrator {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		registry:        registry,
		workers:         workers,
		providerTimeout: cfg.ProviderTimeout,
		now:             time.Now,
	}
}

// SetNotifier configures where fresh listings are delivered.
func (o *Orchestrator) SetNotifier(n notify.Notifier) {
	o.notifier = n
}

// SetRecorder enables poll run and log bookkeeping.
func (o *Orchestrator) SetRecorder(r storage.RunRecorder) {
	o.recorder = r
}

// Poll returns the filtered listings, the fresh subset and the updated seen set. seen
// is not modified. A notifier failure is returned together with the updated seen set,
// which the caller must still persist.
func (o *Orchestrator) Poll(ctx context.Context, search models.Search, seen models.SeenSet) (*models.PollResult, models.SeenSet, error) {
	run := &models.PollRun{
		SearchID:  search.ID,
		StartedAt: o.now(),
		Status:    models.RunStatusRunning,
	}
	runID := o.startRun(ctx, run)

	providers := o.activeProviders(search, runID)
	slots := make([][]models.Listing, len(providers))
	var mu sync.Mutex
	failed := 0

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			started := time.Now()
			listings, err := o.searchProvider(ctx, p, search.Criteria)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				o.log(ctx, runID, models.LogLevelWarn, fmt.Sprintf("Provider %s failed: %v", p.ID(), err), search.ID)
				return nil
			}
			for j := range listings {
				listings[j].ProviderID = p.ID()
			}
			slots[i] = listings
			o.log(ctx, runID, models.LogLevelDebug,
				fmt.Sprintf("Provider %s: %d listings in %s", p.ID(), len(listings), time.Since(started).Round(time.Millisecond)), search.ID)
			return nil
		})
	}
	g.Wait()

	var merged []models.Listing
	for _, listings := range slots {
		merged = append(merged, listings...)
	}

	filtered := services.Filter(merged, search.Criteria)
	fresh, updated := services.ComputeFresh(seen, filtered, o.now())
	result := &models.PollResult{All: filtered, New: fresh}

	run.ListingsFound = len(filtered)
	run.ListingsNew = len(fresh)
	run.ProviderErrors = failed
	switch {
	case failed == 0:
		run.Status = models.RunStatusCompleted
	case failed < len(providers):
		run.Status = models.RunStatusPartial
	default:
		run.Status = models.RunStatusFailed
	}

	var notifyErr error
	if len(fresh) > 0 && search.Email != "" && o.notifier != nil {
		if err := o.notifier.Notify(ctx, search.Email, fresh); err != nil {
			notifyErr = fmt.Errorf("notify %s: %w", search.Email, err)
			run.ErrorMessage = notifyErr.Error()
			o.log(ctx, runID, models.LogLevelError, notifyErr.Error(), search.ID)
		}
	}

	o.log(ctx, runID, models.LogLevelInfo,
		fmt.Sprintf("Poll finished: %d of %d listings kept, %d new, %d provider errors", len(filtered), len(merged), len(fresh), failed), search.ID)
	o.finishRun(ctx, run)

	return result, updated, notifyErr
}

func (o *Orchestrator) activeProviders(search models.Search, runID *int64) []Provider {
	var out []Provider
	for _, id := range search.Providers {
		p, ok := o.registry.Get(id)
		if !ok {
			o.log(context.Background(), runID, models.LogLevelWarn, fmt.Sprintf("Unknown provider %s", id), search.ID)
			continue
		}
		if !p.Enabled() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// searchProvider isolates one provider: its own deadline and no panic escapes.
func (o *Orchestrator) searchProvider(ctx context.Context, p Provider, c models.Criteria) (listings []models.Listing, err error) {
	if o.providerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.providerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			listings = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return p.Search(ctx, c)
}

func (o *Orchestrator) startRun(ctx context.Context, run *models.PollRun) *int64 {
	if o.recorder == nil {
		return nil
	}
	id, err := o.recorder.CreateRun(ctx, run)
	if err != nil {
		log.Printf("Warning: failed to create poll run: %v", err)
		return nil
	}
	run.ID = id
	return &id
}

func (o *Orchestrator) finishRun(ctx context.Context, run *models.PollRun) {
	if o.recorder == nil || run.ID == 0 {
		return
	}
	now := o.now()
	run.FinishedAt = &now
	if err := o.recorder.UpdateRun(ctx, run); err != nil {
		log.Printf("Warning: failed to update poll run %d: %v", run.ID, err)
	}
}

func (o *Orchestrator) log(ctx context.Context, runID *int64, level models.LogLevel, message, searchID string) {
	if level == models.LogLevelDebug {
		logging.Debugf("%s: %s", searchID, message)
	} else {
		log.Printf("[%s] %s: %s", level, searchID, message)
	}
	if o.recorder != nil {
		if err := o.recorder.Log(ctx, runID, level, message, searchID); err != nil {
			log.Printf("Warning: failed to record log line: %v", err)
		}
	}
}
