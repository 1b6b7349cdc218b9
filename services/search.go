package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"wohnwatch/models"
	"wohnwatch/storage"
)

var (
	ErrSearchNotFound  = errors.New("search not found")
	ErrUnknownProvider = errors.New("unknown provider")
)

// Poller runs one poll cycle for a search against the seen set it is handed.
type Poller interface {
	Poll(ctx context.Context, search models.Search, seen models.SeenSet) (*models.PollResult, models.SeenSet, error)
}

// ProviderCatalog lists the provider ids a search may reference.
type ProviderCatalog interface {
	IDs() []string
	Has(id string) bool
}

// CreateSearchInput is the user supplied part of a new search.
type CreateSearchInput struct {
	Email     string          `json:"email"`
	Criteria  models.Criteria `json:"criteria"`
	Providers []string        `json:"providers"`
}

// SearchService owns the searches and their seen sets between poll cycles and
// persists every change through the state store.
type SearchService struct {
	store     storage.StateStore
	poller    Poller
	catalog   ProviderCatalog
	retention time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	state *models.State

	// saveMu spans snapshot and SaveState so snapshots reach the store in the order
	// they were taken.
	saveMu sync.Mutex

	// pollMu keeps fresh detection for a search strictly sequential.
	pollMu sync.Mutex
}

func NewSearchService(ctx context.Context, store storage.StateStore, poller Poller, catalog ProviderCatalog, retention time.Duration) (*SearchService, error) {
	state, err := store.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state.Seen == nil {
		state.Seen = make(map[string]models.SeenSet)
	}

	return &SearchService{
		store:     store,
		poller:    poller,
		catalog:   catalog,
		retention: retention,
		now:       time.Now,
		state:     state,
	}, nil
}

func (s *SearchService) Create(ctx context.Context, in CreateSearchInput) (*models.Search, error) {
	providers := in.Providers
	if len(providers) == 0 {
		providers = s.catalog.IDs()
	}
	for _, id := range providers {
		if !s.catalog.Has(id) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
		}
	}

	search := models.Search{
		ID:        uuid.New().String(),
		Email:     strings.TrimSpace(in.Email),
		Criteria:  in.Criteria,
		Providers: append([]string(nil), providers...),
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if search.Criteria.Bezirke == nil {
		search.Criteria.Bezirke = []string{}
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	s.state.Searches = append(s.state.Searches, search)
	s.state.Seen[search.ID] = models.SeenSet{}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.store.SaveState(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return &search, nil
}

func (s *SearchService) List() []models.Search {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Search, len(s.state.Searches))
	copy(out, s.state.Searches)
	return out
}

func (s *SearchService) Get(id string) (models.Search, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, search := range s.state.Searches {
		if search.ID == id {
			return search, nil
		}
	}
	return models.Search{}, fmt.Errorf("%w: %s", ErrSearchNotFound, id)
}

// Toggle flips the active flag of a search.
func (s *SearchService) Toggle(ctx context.Context, id string) (*models.Search, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSearchNotFound, id)
	}
	s.state.Searches[idx].Active = !s.state.Searches[idx].Active
	search := s.state.Searches[idx]
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.store.SaveState(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return &search, nil
}

// Poll runs one cycle for the search and stores the updated seen set. The seen set is
// saved even when the notifier failed, so a listing is never reported twice.
func (s *SearchService) Poll(ctx context.Context, id string) (*models.PollResult, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	search, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	seen := s.state.Seen[id].Clone()
	s.mu.RUnlock()

	result, updated, pollErr := s.poller.Poll(ctx, search, seen)
	if updated == nil {
		return result, pollErr
	}

	if s.retention > 0 {
		if n := updated.Prune(s.now().Add(-s.retention)); n > 0 {
			log.Printf("Pruned %d seen listings older than %s for search %s", n, s.retention, id)
		}
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.indexLocked(id) >= 0 {
		s.state.Seen[id] = updated
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.store.SaveState(ctx, snapshot); err != nil {
		if pollErr != nil {
			return result, fmt.Errorf("%v; save state: %w", pollErr, err)
		}
		return result, fmt.Errorf("save state: %w", err)
	}
	return result, pollErr
}

// RunActive polls every active search one after another. Failures are logged per
// search and never stop the remaining searches.
func (s *SearchService) RunActive(ctx context.Context) int {
	polled := 0
	for _, search := range s.List() {
		if !search.Active {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		result, err := s.Poll(ctx, search.ID)
		polled++
		if err != nil {
			log.Printf("Poll error for search %s: %v", search.ID, err)
			continue
		}
		if result != nil && len(result.New) > 0 {
			log.Printf("Search %s: %d new of %d listings", search.ID, len(result.New), len(result.All))
		}
	}
	return polled
}

func (s *SearchService) indexLocked(id string) int {
	for i := range s.state.Searches {
		if s.state.Searches[i].ID == id {
			return i
		}
	}
	return -1
}

// snapshotLocked copies the state so it can be saved without holding the lock.
func (s *SearchService) snapshotLocked() *models.State {
	out := &models.State{
		Searches: make([]models.Search, len(s.state.Searches)),
		Seen:     make(map[string]models.SeenSet, len(s.state.Seen)),
	}
	copy(out.Searches, s.state.Searches)
	for id, seen := range s.state.Seen {
		out.Seen[id] = seen.Clone()
	}
	return out
}
