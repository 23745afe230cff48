package cache

import (
	"context"
	"sync"
	"time"

	"drinkshop-backend/internal/domain"
)

type MemoryCartStore struct {
	mu sync.RWMutex
	m  map[string]domain.Cart
}

func NewMemoryCartStore() *MemoryCartStore {
	return &MemoryCartStore{m: make(map[string]domain.Cart)}
}

func (s *MemoryCartStore) Get(_ context.Context, customerID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.m[customerID]
	if !ok {
		return &domain.Cart{CustomerID: customerID}, nil
	}
	c.Items = c.Snapshot()
	return &c, nil
}

func (s *MemoryCartStore) Save(_ context.Context, c *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Items = c.Snapshot()
	s.m[c.CustomerID] = cp
	return nil
}

func (s *MemoryCartStore) Delete(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, customerID)
	return nil
}

type idemEntry struct {
	orderID string
	expires time.Time
}

type MemoryIdempotency struct {
	mu  sync.Mutex
	m   map[string]idemEntry
	Now func() time.Time
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{m: make(map[string]idemEntry), Now: time.Now}
}

func (s *MemoryIdempotency) Reserve(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	if e, ok := s.m[key]; ok && now.Before(e.expires) {
		return e.orderID, false, nil
	}
	s.m[key] = idemEntry{expires: now.Add(ttl)}
	return "", true, nil
}

func (s *MemoryIdempotency) Complete(_ context.Context, key, orderID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; !ok {
		return nil
	}
	s.m[key] = idemEntry{orderID: orderID, expires: s.Now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotency) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
