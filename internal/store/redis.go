package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/paper-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis mirror. Writes
// go to the primary store first; the snapshot is then written through to
// Redis and the trade-log entry is invalidated. Loads always read the
// primary and refresh the mirror, so a snapshot left behind by a failed
// cache write can never be restored. Cache errors never fail an operation.
type CachedStore struct {
	primary  Store
	rdb      redis.Cmdable
	ttl      time.Duration
	engineID string
	logger   *slog.Logger
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration, engineID string) *CachedStore {
	return &CachedStore{
		primary:  primary,
		rdb:      rdb,
		ttl:      ttl,
		engineID: engineID,
		logger:   slog.Default().With("component", "store", "engine", engineID),
	}
}

// --- Write-through ---

func (s *CachedStore) SaveState(ctx context.Context, snap *model.Snapshot) error {
	if err := s.primary.SaveState(ctx, snap); err != nil {
		return err
	}
	s.cache(ctx, stateKey(s.engineID), snap)
	return nil
}

func (s *CachedStore) AppendTrade(ctx context.Context, trade *model.Trade) error {
	if err := s.primary.AppendTrade(ctx, trade); err != nil {
		return err
	}
	// Invalidate the trade log cache; next load will re-populate.
	if err := s.rdb.Del(ctx, tradesKey(s.engineID)).Err(); err != nil {
		s.logger.Warn("redis trade log invalidation failed", "err", err)
	}
	return nil
}

// --- Reads (primary is authoritative) ---

func (s *CachedStore) LoadState(ctx context.Context) (*model.Snapshot, error) {
	snap, err := s.primary.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, stateKey(s.engineID), snap)
	return snap, nil
}

func (s *CachedStore) LoadTrades(ctx context.Context) ([]model.Trade, error) {
	trades, err := s.primary.LoadTrades(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, tradesKey(s.engineID), trades)
	return trades, nil
}

// cache writes v under key. On failure the key is dropped so the mirror
// does not keep serving an older value.
func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.rdb.Del(ctx, key)
		s.logger.Warn("redis cache write failed", "key", key, "err", err)
	}
}

// --- Cache helpers ---

func stateKey(engineID string) string  { return fmt.Sprintf("paper:%s:state", engineID) }
func tradesKey(engineID string) string { return fmt.Sprintf("paper:%s:trades", engineID) }
