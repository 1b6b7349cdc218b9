package models

import "time"

// SeenEntry records when a listing was first reported for a search.
type SeenEntry struct {
	FirstSeenAt time.Time `json:"ts"`
	URL         string    `json:"url"`
}

// SeenSet maps listing IDs to their first sighting.
type SeenSet map[string]SeenEntry

// Has reports whether id was reported before.
func (s SeenSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Clone returns a shallow copy that can be mutated independently.
func (s SeenSet) Clone() SeenSet {
	out := make(SeenSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Prune drops entries first seen before cutoff and returns how many were removed.
func (s SeenSet) Prune(cutoff time.Time) int {
	removed := 0
	for id, e := range s {
		if e.FirstSeenAt.Before(cutoff) {
			delete(s, id)
			removed++
		}
	}
	return removed
}

// State is everything persisted between poll cycles.
type State struct {
	Searches []Search           `json:"searches"`
	Seen     map[string]SeenSet `json:"seen"`
}

// NewState returns an empty, ready to use state.
func NewState() *State {
	return &State{Seen: make(map[string]SeenSet)}
}
