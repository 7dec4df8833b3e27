package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/chittycc/chittyrouter/core/port/out"
)

type memItem struct {
	value     []byte
	version   int64
	expiresAt time.Time
}

// MemoryStore is an in-process KVStore used by tests and as a degraded
// fallback when redis is not configured. Per-key atomicity comes from a
// single mutex; the store is small and access rates are bounded by the
// ingress rate.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memItem
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memItem)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*out.Versioned, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.liveLocked(key)
	if !ok {
		return nil, false, nil
	}
	value := make([]byte, len(item.value))
	copy(value, item.value)
	return &out.Versioned{Value: value, Version: item.version}, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, _ := s.liveLocked(key)
	s.items[key] = memItem{
		value:     append([]byte(nil), value...),
		version:   item.version + 1,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) CAS(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.liveLocked(key)
	current := int64(0)
	if ok {
		current = item.version
	}
	if current != expected {
		return false, nil
	}
	s.items[key] = memItem{
		value:     append([]byte(nil), value...),
		version:   expected + 1,
		expiresAt: time.Now().Add(ttl),
	}
	return true, nil
}

func (s *MemoryStore) PutNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveLocked(key); ok {
		return false, nil
	}
	s.items[key] = memItem{
		value:     append([]byte(nil), value...),
		version:   1,
		expiresAt: time.Now().Add(ttl),
	}
	return true, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.liveLocked(key)
	var n int64
	if ok {
		// Counters store their value as decimal bytes.
		n, _ = strconv.ParseInt(string(item.value), 10, 64)
	}
	n++
	expiresAt := item.expiresAt
	if !ok {
		expiresAt = time.Now().Add(ttl)
	}
	s.items[key] = memItem{
		value:     []byte(strconv.FormatInt(n, 10)),
		version:   item.version + 1,
		expiresAt: expiresAt,
	}
	return n, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// liveLocked returns the unexpired item for key, pruning it if expired.
func (s *MemoryStore) liveLocked(key string) (memItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memItem{}, false
	}
	if time.Now().After(item.expiresAt) {
		delete(s.items, key)
		return memItem{}, false
	}
	return item, true
}
