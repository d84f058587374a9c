package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]*APIKey // by hash
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

func (s *MemoryStore) GetByKey(ctx context.Context, key string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[HashKey(key)]
	if !ok || !k.Active {
		return nil, ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) Create(ctx context.Context, apiKey *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	apiKey.ID = uuid.NewString()
	apiKey.CreatedAt = time.Now().UTC()
	cp := *apiKey
	s.keys[apiKey.KeyHash] = &cp
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.ID == keyID {
			k.Active = false
			return nil
		}
	}
	return ErrKeyNotFound
}

func (s *MemoryStore) TierForUser(ctx context.Context, userID string) (tier.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *APIKey
	for _, k := range s.keys {
		if k.UserID != userID || !k.Active {
			continue
		}
		if newest == nil || k.CreatedAt.After(newest.CreatedAt) {
			newest = k
		}
	}
	if newest == nil {
		return "", ErrKeyNotFound
	}
	return tier.Resolve(newest.Tier), nil
}
