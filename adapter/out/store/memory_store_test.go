package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("Get on empty store should miss")
	}

	if err := s.Put(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if string(v.Value) != "v1" || v.Version != 1 {
		t.Errorf("Get() = %q v%d, want v1 v1", v.Value, v.Version)
	}

	// Put bumps the version.
	s.Put(ctx, "k", []byte("v2"), time.Minute)
	v, _, _ = s.Get(ctx, "k")
	if string(v.Value) != "v2" || v.Version != 2 {
		t.Errorf("Get() = %q v%d, want v2 v2", v.Value, v.Version)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Put(ctx, "k", []byte("v"), 20*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expired key should miss")
	}
	// After expiry the version restarts.
	s.Put(ctx, "k", []byte("v"), time.Minute)
	v, _, _ := s.Get(ctx, "k")
	if v.Version != 1 {
		t.Errorf("version after expiry = %d, want 1", v.Version)
	}
}

func TestMemoryStoreCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// expected=0 means absent.
	ok, err := s.CAS(ctx, "ring", 0, []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("CAS(absent, 0) = %v, %v", ok, err)
	}

	// Stale version is rejected without writing.
	ok, _ = s.CAS(ctx, "ring", 0, []byte("b"), time.Minute)
	if ok {
		t.Fatal("CAS with stale version should fail")
	}
	v, _, _ := s.Get(ctx, "ring")
	if string(v.Value) != "a" {
		t.Errorf("value after failed CAS = %q, want a", v.Value)
	}

	ok, _ = s.CAS(ctx, "ring", v.Version, []byte("b"), time.Minute)
	if !ok {
		t.Fatal("CAS with current version should succeed")
	}
}

func TestMemoryStorePutNX(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, _ := s.PutNX(ctx, "fwd:env-1:a@b", []byte("1"), time.Minute)
	if !ok {
		t.Fatal("first PutNX should write")
	}
	ok, _ = s.PutNX(ctx, "fwd:env-1:a@b", []byte("1"), time.Minute)
	if ok {
		t.Fatal("second PutNX should not write")
	}
}

func TestMemoryStoreIncr(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "counter", time.Minute)
		if err != nil || n != want {
			t.Fatalf("Incr() = %d, %v; want %d", n, err, want)
		}
	}

	if err := s.Delete(ctx, "counter"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n, _ := s.Incr(ctx, "counter", time.Minute); n != 1 {
		t.Errorf("Incr after Delete = %d, want 1", n)
	}
}
