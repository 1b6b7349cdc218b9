package services

import (
	"strings"

	"wohnwatch/extract"
	"wohnwatch/models"
)

// Filter keeps the listings that satisfy every bound set in c. Missing values never
// reject a listing; only present values are checked. Meta records skip the district
// check because their search query already carries the districts.
func Filter(listings []models.Listing, c models.Criteria) []models.Listing {
	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if Matches(l, c) {
			out = append(out, l)
		}
	}
	return out
}

// Matches reports whether a single listing passes the criteria.
func Matches(l models.Listing, c models.Criteria) bool {
	if l.Rooms != nil {
		if c.ZimmerMin != nil && *l.Rooms < *c.ZimmerMin {
			return false
		}
		if c.ZimmerMax != nil && *l.Rooms > *c.ZimmerMax {
			return false
		}
	}
	if l.Size != nil && c.FlaecheMin != nil && *l.Size < *c.FlaecheMin {
		return false
	}
	if l.Price != nil && c.PreisMax != nil && *l.Price > *c.PreisMax {
		return false
	}

	if !c.HasDistricts() || l.Kind == models.KindMeta {
		return true
	}

	haystack := strings.TrimSpace(l.Location + " " + l.Title)
	if haystack == "" {
		return false
	}
	return extract.MatchesDistrict(haystack, c.Bezirke)
}
