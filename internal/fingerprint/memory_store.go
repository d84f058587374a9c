package fingerprint

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Get(ctx context.Context, userID, hash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID+"/"+hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.UserID + "/" + rec.Hash
	cp := *rec
	if existing, ok := s.records[key]; ok {
		cp.FirstSeenAt = existing.FirstSeenAt
	}
	s.records[key] = &cp
	return nil
}
