package ledger

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[int64]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[int64]*Record)}
}

func (s *MemoryStore) lookup(key Key) (*Record, bool) {
	rec, ok := s.records[key.UserID][key.PeriodStart.Unix()]
	return rec, ok
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Latest(ctx context.Context, userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Record
	for _, rec := range s.records[userID] {
		if latest == nil || rec.PeriodStart.After(latest.PeriodStart) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) Create(ctx context.Context, rec *Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.lookup(Key{UserID: rec.UserID, PeriodStart: rec.PeriodStart}); ok {
		cp := *existing
		return &cp, false, nil
	}

	now := time.Now().UTC()
	stored := *rec
	stored.CreatedAt, stored.UpdatedAt = now, now
	if s.records[rec.UserID] == nil {
		s.records[rec.UserID] = make(map[int64]*Record)
	}
	s.records[rec.UserID][rec.PeriodStart.Unix()] = &stored

	cp := stored
	return &cp, true, nil
}

func (s *MemoryStore) Reserve(ctx context.Context, key Key, c Counter, limit int, costCeiling float64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	if limit >= 0 && rec.Count(c)+rec.Reserved(c) >= limit {
		return nil, ErrLimitReached
	}
	if costCeiling >= 0 && rec.AccumulatedCost >= costCeiling {
		return nil, ErrCostCeiling
	}

	if c == CounterParsing {
		rec.ParsingReserved++
	} else {
		rec.AICallReserved++
	}
	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Release(ctx context.Context, key Key, c Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(key)
	if !ok {
		return ErrNotFound
	}
	if c == CounterParsing {
		rec.ParsingReserved = max(rec.ParsingReserved-1, 0)
	} else {
		rec.AICallReserved = max(rec.AICallReserved-1, 0)
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Commit(ctx context.Context, key Key, c Counter, cost float64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	if c == CounterParsing {
		rec.ParsingCount++
		rec.ParsingReserved = max(rec.ParsingReserved-1, 0)
	} else {
		rec.AICallCount++
		rec.AICallReserved = max(rec.AICallReserved-1, 0)
	}
	rec.AccumulatedCost += cost
	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	return &cp, nil
}
