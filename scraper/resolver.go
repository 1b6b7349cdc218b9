package scraper

import (
	"context"
	"fmt"
	"log"
	"regexp"

	"wohnwatch/extract"
	"wohnwatch/httputil"
	"wohnwatch/models"
)

// Archiver stores the markup of candidate pages that produced no listings.
type Archiver interface {
	Archive(ctx context.Context, provider, sourceURL string, markup []byte) error
}

// Target is everything the resolver needs to know about one provider for one search.
type Target struct {
	Name        string
	Candidates  []string
	LinkPattern *regexp.Regexp
	FallbackURL string
	Criteria    models.Criteria
}

// Resolver walks a provider's candidate pages in order and returns the listings of
// the first page that yields any.
type Resolver struct {
	fetcher   httputil.Fetcher
	extractor extract.Extractor
	archiver  Archiver
	city      string
}

func NewResolver(fetcher httputil.Fetcher, extractor extract.Extractor, city string) *Resolver {
	if city == "" {
		city = extract.DefaultCity
	}
	return &Resolver{fetcher: fetcher, extractor: extractor, city: city}
}

// SetArchiver enables archiving of pages that fetched fine but yielded nothing.
func (r *Resolver) SetArchiver(a Archiver) {
	r.archiver = a
}

// Resolve never fails: when no candidate yields listings it returns a single fallback
// record if t.FallbackURL is set and nothing otherwise.
func (r *Resolver) Resolve(ctx context.Context, t Target) []models.Listing {
	opts := extract.Options{ProviderName: t.Name, LinkPattern: t.LinkPattern}

	for _, candidate := range t.Candidates {
		body, ok := r.fetcher.Fetch(ctx, candidate)
		if !ok {
			continue
		}

		listings, err := r.extractor.Extract(body, candidate, opts)
		if err != nil {
			log.Printf("%s: extract %s: %v", t.Name, candidate, err)
			continue
		}
		if len(listings) > 0 {
			return listings
		}

		r.archive(ctx, t.Name, candidate, body)
	}

	if t.FallbackURL == "" {
		return nil
	}
	return []models.Listing{FallbackListing(t.Name, t.FallbackURL, t.Criteria, r.city)}
}

func (r *Resolver) archive(ctx context.Context, provider, sourceURL string, body []byte) {
	if r.archiver == nil || ctx.Err() != nil {
		return
	}
	if err := r.archiver.Archive(ctx, provider, sourceURL, body); err != nil {
		log.Printf("%s: archive %s: %v", provider, sourceURL, err)
	}
}

// FallbackListing links the user to the provider's own search page.
func FallbackListing(providerName, fallbackURL string, c models.Criteria, city string) models.Listing {
	return models.Listing{
		ID:       fallbackURL,
		URL:      fallbackURL,
		Title:    fmt.Sprintf("Zur Suche bei %s öffnen", providerName),
		Provider: providerName,
		Location: locationLabel(c, city),
		Kind:     models.KindFallback,
	}
}
