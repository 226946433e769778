package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/cfd-pool/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*model.PoolState
	events    []model.PoolEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*model.PoolState),
	}
}

func (s *MemoryStore) SavePoolSnapshot(_ context.Context, ps *model.PoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.snapshots[ps.Asset]; ok && existing.Version > ps.Version {
		return nil
	}
	// Store a copy to avoid external mutation.
	cp := *ps
	s.snapshots[ps.Asset] = &cp
	return nil
}

func (s *MemoryStore) GetPoolSnapshot(_ context.Context, asset string) (*model.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.snapshots[asset]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", ErrNotFound, asset)
	}
	cp := *ps
	return &cp, nil
}

func (s *MemoryStore) ListPoolSnapshots(_ context.Context) ([]model.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.PoolState, 0, len(s.snapshots))
	for _, ps := range s.snapshots {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, e *model.PoolEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.events {
		if existing.ID == e.ID {
			return fmt.Errorf("event %s already recorded", e.ID)
		}
	}
	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) ListEventsByPool(_ context.Context, asset string) ([]model.PoolEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PoolEvent
	for _, e := range s.events {
		if e.Asset == asset {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListEventsByAccount(_ context.Context, account string) ([]model.PoolEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PoolEvent
	for _, e := range s.events {
		if e.Account == account {
			result = append(result, e)
		}
	}
	return result, nil
}
