package sink

import (
	"context"
	"sync"
	"time"

	"github.com/chittycc/chittyrouter/core/port/out"
)

// MemorySink is an in-process sink used when the backing store for a
// role is not configured (development) and by tests. Objects expire
// lazily on read.
type MemorySink struct {
	name string

	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	obj       out.SinkObject
	storedAt  time.Time
	expiresAt time.Time
}

// NewMemorySink creates an in-memory sink serving the given role name.
func NewMemorySink(name string) *MemorySink {
	return &MemorySink{
		name:    name,
		objects: make(map[string]memObject),
	}
}

func (s *MemorySink) Name() string { return s.name }

func (s *MemorySink) Capabilities() out.SinkCapabilities {
	return out.SinkCapabilities{AcceptsFullContent: true, SupportsTTL: true}
}

func (s *MemorySink) Put(ctx context.Context, key string, obj *out.SinkObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{
		obj:       *obj,
		storedAt:  time.Now().UTC(),
		expiresAt: time.Now().Add(obj.TTL).UTC(),
	}
	return nil
}

func (s *MemorySink) Get(ctx context.Context, key string) (*out.SinkObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.objects[key]
	if !ok || time.Now().After(stored.expiresAt) {
		return nil, ErrNotFound
	}
	obj := stored.obj
	return &obj, nil
}

func (s *MemorySink) Head(ctx context.Context, key string) (*out.SinkHead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.objects[key]
	if !ok || time.Now().After(stored.expiresAt) {
		return nil, ErrNotFound
	}
	return &out.SinkHead{
		Key:         key,
		SizeBytes:   int64(len(stored.obj.Body)),
		ContentHash: stored.obj.Metadata["content_hash"],
		StoredAt:    stored.storedAt,
		ExpiresAt:   stored.expiresAt,
		Metadata:    stored.obj.Metadata,
	}, nil
}

func (s *MemorySink) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
