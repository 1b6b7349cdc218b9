package models

import "time"

// ListingKind distinguishes parsed offers from synthetic records.
type ListingKind string

const (
	KindListing  ListingKind = "listing"
	KindFallback ListingKind = "fallback" // provider search page, nothing parsed
	KindMeta     ListingKind = "meta"     // cross-provider web search
)

// Listing is one housing offer. ID is the resolved absolute URL and is the identity.
type Listing struct {
	ID         string      `json:"id"`
	URL        string      `json:"url"`
	Title      string      `json:"title"`
	Provider   string      `json:"provider"`
	ProviderID string      `json:"providerId"`
	Price      *float64    `json:"price"`
	Rooms      *float64    `json:"rooms"`
	Size       *float64    `json:"size"`
	Location   string      `json:"location"`
	Kind       ListingKind `json:"kind,omitempty"`
}

// Criteria restricts which listings a search reports. Nil bounds are unset.
type Criteria struct {
	Bezirke    []string `json:"bezirke"`
	ZimmerMin  *float64 `json:"zimmerMin"`
	ZimmerMax  *float64 `json:"zimmerMax"`
	FlaecheMin *float64 `json:"flaecheMin"`
	PreisMax   *float64 `json:"preisMax"`
}

// HasDistricts reports whether a district constraint is set.
func (c Criteria) HasDistricts() bool {
	return len(c.Bezirke) > 0
}

// Search is a saved query owned by one user.
type Search struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Criteria  Criteria  `json:"criteria"`
	Providers []string  `json:"providers"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// PollResult is the outcome of one poll cycle.
type PollResult struct {
	All []Listing `json:"all"`
	New []Listing `json:"new"`
}

// Float returns a pointer to v, for building criteria and listings.
func Float(v float64) *float64 {
	return &v
}
