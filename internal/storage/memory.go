package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"trade-journal-go/internal/models"
	"trade-journal-go/internal/normalize"
	"trade-journal-go/internal/ports"
)

// TradeStore holds the client-resident trade collection. Mutations swap in a
// fresh slice (copy-on-write) so a concurrent reader never observes a
// partially updated collection. Chronological ordering is the caller's
// responsibility; the store preserves insertion order.
type TradeStore struct {
	mu     sync.RWMutex
	trades []models.Trade
	index  map[string]int
	cache  ports.Cache
}

// NewTradeStore creates an empty store. When cache is non-nil, previously
// cached trades are loaded and every mutation rewrites the cache entry.
func NewTradeStore(cache ports.Cache) (*TradeStore, error) {
	s := &TradeStore{index: make(map[string]int), cache: cache}
	if cache == nil {
		return s, nil
	}
	raw, err := cache.Get(TradesKey)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		var trades []models.Trade
		if err := json.Unmarshal(raw, &trades); err != nil {
			return nil, fmt.Errorf("decode cached trades: %w", err)
		}
		s.replace(trades)
	}
	return s, nil
}

// All returns a snapshot copy of the stored trades.
func (s *TradeStore) All() []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Len reports the number of stored trades.
func (s *TradeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}

// Get returns the trade with the given id.
func (s *TradeStore) Get(id string) (models.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.Trade{}, false
	}
	return s.trades[i], true
}

// Has reports whether an id is already in use.
func (s *TradeStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// UpsertRecord merges a decoded record into the store by id: on a match the
// record's present fields overwrite the stored trade, on no match the trade
// is inserted. It returns the stored trade (id assigned, merge applied), so
// callers forward the canonical form, never the raw partial record. The bool
// is true when a new trade was inserted.
func (s *TradeStore) UpsertRecord(rec *normalize.Record) (models.Trade, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := rec.Trade
	if t.ID != "" {
		if i, ok := s.index[t.ID]; ok {
			next := make([]models.Trade, len(s.trades))
			copy(next, s.trades)
			next[i] = normalize.Merge(s.trades[i], rec)
			s.trades = next
			return next[i], false, s.persistLocked()
		}
	}

	normalize.EnsureID(&t, func(id string) bool {
		_, used := s.index[id]
		return used
	})

	next := make([]models.Trade, len(s.trades), len(s.trades)+1)
	copy(next, s.trades)
	next = append(next, t)
	s.trades = next
	s.index[t.ID] = len(next) - 1
	return t, true, s.persistLocked()
}

// Delete removes the trade with the given id.
func (s *TradeStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return nil
	}
	next := make([]models.Trade, 0, len(s.trades)-1)
	next = append(next, s.trades[:i]...)
	next = append(next, s.trades[i+1:]...)
	s.replaceLocked(next)
	return s.persistLocked()
}

// DeleteAll clears the store.
func (s *TradeStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(nil)
	return s.persistLocked()
}

func (s *TradeStore) replace(trades []models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(trades)
}

func (s *TradeStore) replaceLocked(trades []models.Trade) {
	s.trades = trades
	s.index = make(map[string]int, len(trades))
	for i, t := range trades {
		s.index[t.ID] = i
	}
}

func (s *TradeStore) persistLocked() error {
	if s.cache == nil {
		return nil
	}
	raw, err := json.Marshal(s.trades)
	if err != nil {
		return fmt.Errorf("encode trades: %w", err)
	}
	if err := s.cache.Put(TradesKey, raw); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrPersistence, err)
	}
	return nil
}
