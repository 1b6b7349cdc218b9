package scraper

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"wohnwatch/config"
	"wohnwatch/models"
)

func pollConfig() config.PollConfig {
	return config.PollConfig{Workers: 4, ProviderTimeout: time.Second}
}

func TestOrchestrator_EndToEndTwoCycles(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		"https://www.degewo.de/wohnungen/wohnungsangebote/": loadFixture(t, "pankow_offers.html"),
	}}
	p := newDegewo(t, config.QueryParams{}, fetcher)
	notifier := &recordingNotifier{}
	recorder := newMemoryRecorder()

	o := NewOrchestrator(NewRegistry(p), pollConfig())
	o.SetNotifier(notifier)
	o.SetRecorder(recorder)

	search := models.Search{
		ID:        "s1",
		Email:     "mieter@example.com",
		Criteria:  models.Criteria{PreisMax: models.Float(700), Bezirke: []string{"Pankow"}},
		Providers: []string{"degewo"},
		Active:    true,
	}

	first, seen, err := o.Poll(context.Background(), search, models.SeenSet{})
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	wantID := "https://www.degewo.de/wohnungen/angebot/florastrasse-10"
	if len(first.All) != 1 || first.All[0].ID != wantID {
		t.Fatalf("expected only the cheap Pankow listing, got %v", listingIDs(first.All))
	}
	if len(first.New) != 1 || first.New[0].ID != wantID {
		t.Fatalf("expected listing to be new on first poll, got %v", listingIDs(first.New))
	}
	if first.All[0].ProviderID != "degewo" || first.All[0].Provider != "DEGEWO" {
		t.Fatalf("listing not tagged with provider: %+v", first.All[0])
	}
	if *first.All[0].Price != 650 {
		t.Fatalf("expected price 650, got %v", *first.All[0].Price)
	}
	if len(notifier.calls) != 1 || notifier.to[0] != "mieter@example.com" {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}

	second, _, err := o.Poll(context.Background(), search, seen)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(second.New) != 0 {
		t.Fatalf("expected nothing new on second poll, got %v", listingIDs(second.New))
	}
	if len(second.All) != 1 || second.All[0].ID != wantID {
		t.Fatalf("listing should still be reported in all, got %v", listingIDs(second.All))
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("second poll must not notify, got %d notifications", len(notifier.calls))
	}

	run := recorder.lastRun()
	if run.Status != models.RunStatusCompleted || run.ListingsFound != 1 || run.ListingsNew != 0 || run.FinishedAt == nil {
		t.Fatalf("unexpected run record %+v", run)
	}
}

func TestOrchestrator_ProviderFailuresAreIsolated(t *testing.T) {
	good := &stubProvider{id: "good", listings: []models.Listing{{ID: "https://good.example/1", URL: "https://good.example/1", Location: "Berlin"}}}
	reg := NewRegistry(
		&stubProvider{id: "broken", err: errors.New("unexpected markup")},
		&stubProvider{id: "panicky", panicMsg: "nil map"},
		good,
	)
	recorder := newMemoryRecorder()
	o := NewOrchestrator(reg, pollConfig())
	o.SetRecorder(recorder)

	search := models.Search{ID: "s1", Providers: []string{"broken", "panicky", "good"}}
	result, _, err := o.Poll(context.Background(), search, nil)
	if err != nil {
		t.Fatalf("provider failures must not fail the cycle: %v", err)
	}
	if len(result.All) != 1 || result.All[0].ProviderID != "good" {
		t.Fatalf("expected the good provider's listing, got %+v", result.All)
	}

	run := recorder.lastRun()
	if run.Status != models.RunStatusPartial || run.ProviderErrors != 2 {
		t.Fatalf("expected partial run with 2 provider errors, got %+v", run)
	}

	var sawPanic bool
	for _, line := range recorder.logs {
		if strings.Contains(line, "panicky") && strings.Contains(line, "panic: nil map") {
			sawPanic = true
		}
	}
	if !sawPanic {
		t.Fatalf("expected panic to be logged, logs: %v", recorder.logs)
	}
}

func TestOrchestrator_AllProvidersFailed(t *testing.T) {
	recorder := newMemoryRecorder()
	o := NewOrchestrator(NewRegistry(&stubProvider{id: "a", err: errors.New("x")}), pollConfig())
	o.SetRecorder(recorder)

	result, _, err := o.Poll(context.Background(), models.Search{ID: "s1", Providers: []string{"a"}}, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(result.All) != 0 || result.All == nil || result.New == nil {
		t.Fatalf("expected empty, non-nil result lists, got %+v", result)
	}
	if recorder.lastRun().Status != models.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", recorder.lastRun().Status)
	}
}

func TestOrchestrator_KeepsSearchProviderOrder(t *testing.T) {
	reg := NewRegistry(
		&stubProvider{id: "slow", delay: 50 * time.Millisecond, listings: []models.Listing{{ID: "slow-1"}}},
		&stubProvider{id: "fast", listings: []models.Listing{{ID: "fast-1"}, {ID: "fast-2"}}},
	)
	o := NewOrchestrator(reg, pollConfig())

	result, _, err := o.Poll(context.Background(), models.Search{ID: "s1", Providers: []string{"slow", "fast"}}, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	got := listingIDs(result.All)
	if len(got) != 3 || got[0] != "slow-1" || got[1] != "fast-1" || got[2] != "fast-2" {
		t.Fatalf("results must follow the search's provider order, got %v", got)
	}
}

func TestOrchestrator_SkipsUnknownAndDisabledProviders(t *testing.T) {
	reg := NewRegistry(
		&stubProvider{id: "on", listings: []models.Listing{{ID: "on-1"}}},
		&stubProvider{id: "off", disabled: true, listings: []models.Listing{{ID: "off-1"}}},
	)
	o := NewOrchestrator(reg, pollConfig())

	result, _, err := o.Poll(context.Background(), models.Search{ID: "s1", Providers: []string{"off", "missing", "on"}}, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := listingIDs(result.All); len(got) != 1 || got[0] != "on-1" {
		t.Fatalf("expected only the enabled provider, got %v", got)
	}
}

func TestOrchestrator_ProviderTimeout(t *testing.T) {
	reg := NewRegistry(
		&stubProvider{id: "hang", block: true},
		&stubProvider{id: "ok", listings: []models.Listing{{ID: "ok-1"}}},
	)
	o := NewOrchestrator(reg, config.PollConfig{Workers: 2, ProviderTimeout: 50 * time.Millisecond})

	done := make(chan *models.PollResult, 1)
	go func() {
		result, _, _ := o.Poll(context.Background(), models.Search{ID: "s1", Providers: []string{"hang", "ok"}}, nil)
		done <- result
	}()

	select {
	case result := <-done:
		if got := listingIDs(result.All); len(got) != 1 || got[0] != "ok-1" {
			t.Fatalf("expected the responsive provider's listing, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("a hanging provider must not block the cycle")
	}
}

func TestOrchestrator_NotifierFailureKeepsSeen(t *testing.T) {
	reg := NewRegistry(&stubProvider{id: "a", listings: []models.Listing{{ID: "https://a.example/1", URL: "https://a.example/1"}}})
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	recorder := newMemoryRecorder()
	o := NewOrchestrator(reg, pollConfig())
	o.SetNotifier(notifier)
	o.SetRecorder(recorder)

	search := models.Search{ID: "s1", Email: "a@example.com", Providers: []string{"a"}}
	start := models.SeenSet{}

	result, seen, err := o.Poll(context.Background(), search, start)
	if err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("expected notifier error, got %v", err)
	}
	if len(result.New) != 1 {
		t.Fatalf("expected the result alongside the error")
	}
	if !seen.Has("https://a.example/1") {
		t.Fatalf("fresh listing must be marked seen despite the notifier error")
	}
	if len(start) != 0 {
		t.Fatalf("input seen set must not be modified")
	}
	if recorder.lastRun().ErrorMessage == "" {
		t.Fatalf("expected notifier error on the run record")
	}

	notifier.err = nil
	if _, _, err := o.Poll(context.Background(), search, seen); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("listing must not be notified twice, got %d calls", len(notifier.calls))
	}
}

func TestOrchestrator_NoEmailNoNotification(t *testing.T) {
	reg := NewRegistry(&stubProvider{id: "a", listings: []models.Listing{{ID: "x"}}})
	notifier := &recordingNotifier{}
	o := NewOrchestrator(reg, pollConfig())
	o.SetNotifier(notifier)

	result, _, err := o.Poll(context.Background(), models.Search{ID: "s1", Providers: []string{"a"}}, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(result.New) != 1 || len(notifier.calls) != 0 {
		t.Fatalf("expected fresh listing without notification, got %d calls", len(notifier.calls))
	}
}

func TestOrchestrator_MetaRecordSurvivesDistrictFilter(t *testing.T) {
	reg, err := BuildRegistry(defaultConfig(), Dependencies{HTTP: &fakeFetcher{}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	o := NewOrchestrator(reg, pollConfig())

	search := models.Search{
		ID:        "s1",
		Criteria:  models.Criteria{Bezirke: []string{"Spandau"}},
		Providers: []string{"google"},
	}
	result, _, err := o.Poll(context.Background(), search, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(result.All) != 1 || result.All[0].Kind != models.KindMeta || result.All[0].ProviderID != "google" {
		t.Fatalf("expected the meta record to survive, got %+v", result.All)
	}
}
