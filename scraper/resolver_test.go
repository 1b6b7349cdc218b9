package scraper

import (
	"context"
	"regexp"
	"testing"

	"wohnwatch/extract"
	"wohnwatch/models"
)

var offerPattern = regexp.MustCompile(`(?i)angebot|wohnung|miete`)

func TestResolve_FallbackWhenEveryCandidateFails(t *testing.T) {
	fetcher := &fakeFetcher{}
	r := NewResolver(fetcher, extract.NewCardExtractor(nil, "Berlin"), "Berlin")

	target := Target{
		Name:        "DEGEWO",
		Candidates:  []string{"https://www.degewo.de/a", "https://www.degewo.de/b"},
		LinkPattern: offerPattern,
		FallbackURL: "https://www.degewo.de/wohnungen/wohnungssuche/?ort=Berlin",
		Criteria:    models.Criteria{Bezirke: []string{"Pankow", "Mitte"}},
	}

	got := r.Resolve(context.Background(), target)
	if len(got) != 1 {
		t.Fatalf("expected exactly one fallback listing, got %d", len(got))
	}
	fb := got[0]
	if fb.ID != target.FallbackURL || fb.URL != target.FallbackURL {
		t.Fatalf("fallback should link to %s, got %s", target.FallbackURL, fb.URL)
	}
	if fb.Title != "Zur Suche bei DEGEWO öffnen" {
		t.Fatalf("unexpected fallback title %q", fb.Title)
	}
	if fb.Location != "Pankow, Mitte" {
		t.Fatalf("expected joined districts as location, got %q", fb.Location)
	}
	if fb.Kind != models.KindFallback || fb.Price != nil || fb.Rooms != nil || fb.Size != nil {
		t.Fatalf("fallback must carry no structured fields: %+v", fb)
	}
	if calls := fetcher.Calls(); len(calls) != 2 {
		t.Fatalf("expected both candidates to be tried, got %v", calls)
	}

	target.FallbackURL = ""
	if got := r.Resolve(context.Background(), target); len(got) != 0 {
		t.Fatalf("expected no listings without fallback, got %d", len(got))
	}
}

func TestResolve_FallbackLocationDefaultsToCity(t *testing.T) {
	r := NewResolver(&fakeFetcher{}, extract.NewCardExtractor(nil, "Berlin"), "Berlin")
	got := r.Resolve(context.Background(), Target{Name: "Vonovia", FallbackURL: "https://www.vonovia.de/"})
	if len(got) != 1 || got[0].Location != "Berlin" {
		t.Fatalf("expected city as fallback location, got %+v", got)
	}
}

func TestResolve_FirstNonEmptyCandidateWins(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		"https://www.degewo.de/leer":     loadFixture(t, "empty_page.html"),
		"https://www.degewo.de/angebote": loadFixture(t, "pankow_offers.html"),
		"https://www.degewo.de/reserve":  loadFixture(t, "pankow_offers.html"),
	}}
	archiver := &recordingArchiver{}
	r := NewResolver(fetcher, extract.NewCardExtractor(nil, "Berlin"), "Berlin")
	r.SetArchiver(archiver)

	got := r.Resolve(context.Background(), Target{
		Name:        "DEGEWO",
		Candidates:  []string{"https://www.degewo.de/down", "https://www.degewo.de/leer", "https://www.degewo.de/angebote", "https://www.degewo.de/reserve"},
		LinkPattern: offerPattern,
		FallbackURL: "https://www.degewo.de/fallback",
	})

	if len(got) != 3 {
		t.Fatalf("expected 3 listings from the offers page, got %d: %v", len(got), listingIDs(got))
	}
	if got[0].URL != "https://www.degewo.de/wohnungen/angebot/florastrasse-10" {
		t.Fatalf("unexpected first listing %s", got[0].URL)
	}
	for _, l := range got {
		if l.Kind != models.KindListing || l.Provider != "DEGEWO" {
			t.Fatalf("unexpected listing %+v", l)
		}
	}

	calls := fetcher.Calls()
	if len(calls) != 3 || calls[2] != "https://www.degewo.de/angebote" {
		t.Fatalf("resolver should stop at the first productive candidate, fetched %v", calls)
	}
	if len(archiver.urls) != 1 || archiver.urls[0] != "https://www.degewo.de/leer" {
		t.Fatalf("expected only the empty page to be archived, got %v", archiver.urls)
	}
}

func TestResolve_DoesNotFilterDistricts(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		"https://www.degewo.de/angebote": loadFixture(t, "pankow_offers.html"),
	}}
	r := NewResolver(fetcher, extract.NewCardExtractor(nil, "Berlin"), "Berlin")

	got := r.Resolve(context.Background(), Target{
		Name:        "DEGEWO",
		Candidates:  []string{"https://www.degewo.de/angebote"},
		LinkPattern: offerPattern,
		Criteria:    models.Criteria{Bezirke: []string{"Spandau"}},
	})
	if len(got) != 3 {
		t.Fatalf("district filtering belongs to the criteria filter, got %d listings", len(got))
	}
}
