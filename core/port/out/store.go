package out

import (
	"context"
	"time"
)

// Versioned wraps a stored value with the version tag used for CAS.
type Versioned struct {
	Value   []byte
	Version int64
}

// KVStore is the shared mutable-state port: classifier cache, dedup
// map, rate counters, and the audit rings all live behind it. Writers
// use per-key CAS or atomic increments; no global lock exists.
type KVStore interface {
	// Get returns the value and version for key, or (nil, false) when
	// absent or expired.
	Get(ctx context.Context, key string) (*Versioned, bool, error)

	// Put unconditionally writes key with a TTL. ttl must be > 0.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// CAS writes value only if the stored version still equals
	// expected (0 means "key absent"). Returns false on version
	// mismatch without writing.
	CAS(ctx context.Context, key string, expected int64, value []byte, ttl time.Duration) (bool, error)

	// PutNX writes only when the key is absent, returning whether the
	// write happened. Used for dedup and at-most-once forward records.
	PutNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Incr atomically increments a counter key, setting ttl when the
	// key is created. Returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}
