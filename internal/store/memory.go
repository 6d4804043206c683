package store

import (
	"context"
	"sync"

	"github.com/atmx/paper-engine/internal/model"
)

// MemoryStore implements Store with in-memory state. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	state  *model.Snapshot
	trades []model.Trade
	seen   map[string]bool
	fail   error // returned by every write when set
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen: make(map[string]bool),
	}
}

func (s *MemoryStore) SaveState(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return s.fail
	}
	// Store a copy to avoid external mutation.
	s.state = snap.Clone()
	return nil
}

func (s *MemoryStore) LoadState(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, ErrNoState
	}
	return s.state.Clone(), nil
}

func (s *MemoryStore) AppendTrade(_ context.Context, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return s.fail
	}
	if s.seen[trade.TradeGroupID] {
		return nil
	}
	s.seen[trade.TradeGroupID] = true
	s.trades = append(s.trades, *trade)
	return nil
}

func (s *MemoryStore) LoadTrades(_ context.Context) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Trade, len(s.trades))
	copy(out, s.trades)
	return out, nil
}

// SetFail makes every subsequent write return err, simulating an unavailable
// backend. Pass nil to recover.
func (s *MemoryStore) SetFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}
