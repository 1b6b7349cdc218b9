package services

import (
	"time"

	"wohnwatch/models"
)

// ComputeFresh returns the listings whose ID is not in seen, together with a copy of
// seen that records them at now. seen itself is left untouched. A listing repeated
// within the batch is reported once.
func ComputeFresh(seen models.SeenSet, listings []models.Listing, now time.Time) ([]models.Listing, models.SeenSet) {
	updated := seen.Clone()
	fresh := make([]models.Listing, 0)
	for _, l := range listings {
		if updated.Has(l.ID) {
			continue
		}
		updated[l.ID] = models.SeenEntry{FirstSeenAt: now, URL: l.URL}
		fresh = append(fresh, l)
	}
	return fresh, updated
}
