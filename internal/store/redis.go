package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/cfd-pool/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, update cache) ---

func (s *CachedStore) SavePoolSnapshot(ctx context.Context, ps *model.PoolState) error {
	if err := s.primary.SavePoolSnapshot(ctx, ps); err != nil {
		return err
	}
	// The primary may have ignored a stale version; let the next read
	// re-populate from it.
	s.rdb.Del(ctx, snapshotKey(ps.Asset))
	return nil
}

func (s *CachedStore) InsertEvent(ctx context.Context, e *model.PoolEvent) error {
	if err := s.primary.InsertEvent(ctx, e); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventsKey(e.Asset))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPoolSnapshot(ctx context.Context, asset string) (*model.PoolState, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(asset)).Bytes()
	if err == nil {
		var ps model.PoolState
		if json.Unmarshal(data, &ps) == nil {
			return &ps, nil
		}
	}

	// Cache miss: read from primary.
	ps, err := s.primary.GetPoolSnapshot(ctx, asset)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ps); err == nil {
		s.rdb.Set(ctx, snapshotKey(asset), data, s.ttl)
	}
	return ps, nil
}

func (s *CachedStore) ListEventsByPool(ctx context.Context, asset string) ([]model.PoolEvent, error) {
	data, err := s.rdb.Get(ctx, eventsKey(asset)).Bytes()
	if err == nil {
		var events []model.PoolEvent
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := s.primary.ListEventsByPool(ctx, asset)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, eventsKey(asset), data, s.ttl)
	}
	return events, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPoolSnapshots(ctx context.Context) ([]model.PoolState, error) {
	return s.primary.ListPoolSnapshots(ctx)
}

func (s *CachedStore) ListEventsByAccount(ctx context.Context, account string) ([]model.PoolEvent, error) {
	return s.primary.ListEventsByAccount(ctx, account)
}

// --- Cache helpers ---

func snapshotKey(asset string) string { return fmt.Sprintf("cfd:pool:%s", asset) }
func eventsKey(asset string) string   { return fmt.Sprintf("cfd:events:%s", asset) }
