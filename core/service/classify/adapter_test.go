package classify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chittycc/chittyrouter/adapter/out/store"
	"github.com/chittycc/chittyrouter/core/domain"
)

type fakeClassifier struct {
	calls  atomic.Int64
	result *domain.Classification
	err    error
	delay  time.Duration
}

func (f *fakeClassifier) Classify(ctx context.Context, env *domain.Envelope) (*domain.Classification, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testEnv(hash string) *domain.Envelope {
	return &domain.Envelope{ID: "env-1", Kind: domain.KindEmail, ContentHash: hash}
}

func TestClassifySuccess(t *testing.T) {
	fake := &fakeClassifier{result: &domain.Classification{Category: "legal", UrgencyHint: "HIGH"}}
	a := New(fake, store.NewMemoryStore(), DefaultConfig(), nil)

	cls := a.Classify(context.Background(), testEnv("h1"))
	if cls.Unavailable {
		t.Fatal("classification should be available")
	}
	if cls.UrgencyHint != "HIGH" {
		t.Errorf("UrgencyHint = %q, want HIGH", cls.UrgencyHint)
	}
}

func TestClassifyCacheHitSkipsCall(t *testing.T) {
	fake := &fakeClassifier{result: &domain.Classification{Category: "legal"}}
	a := New(fake, store.NewMemoryStore(), DefaultConfig(), nil)
	ctx := context.Background()

	a.Classify(ctx, testEnv("h1"))
	a.Classify(ctx, testEnv("h1"))

	if got := fake.calls.Load(); got != 1 {
		t.Errorf("classifier called %d times, want 1 (cache hit)", got)
	}

	// A different hash misses the cache.
	a.Classify(ctx, testEnv("h2"))
	if got := fake.calls.Load(); got != 2 {
		t.Errorf("classifier called %d times, want 2", got)
	}
}

func TestClassifyTimeoutFallsBack(t *testing.T) {
	fake := &fakeClassifier{
		result: &domain.Classification{Category: "legal"},
		delay:  200 * time.Millisecond,
	}
	cfg := Config{Timeout: 20 * time.Millisecond, CacheTTL: time.Minute}
	a := New(fake, store.NewMemoryStore(), cfg, nil)

	start := time.Now()
	cls := a.Classify(context.Background(), testEnv("h1"))
	if !cls.Unavailable {
		t.Fatal("timed-out classification should be unavailable")
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("Classify blocked %v past its budget", elapsed)
	}
}

func TestClassifyErrorFallsBack(t *testing.T) {
	fake := &fakeClassifier{err: errors.New("model overloaded")}
	a := New(fake, store.NewMemoryStore(), DefaultConfig(), nil)

	cls := a.Classify(context.Background(), testEnv("h1"))
	if !cls.Unavailable {
		t.Fatal("failed classification should be unavailable")
	}
}

func TestClassifyFallbackNotCached(t *testing.T) {
	fake := &fakeClassifier{err: errors.New("down")}
	kv := store.NewMemoryStore()
	a := New(fake, kv, DefaultConfig(), nil)
	ctx := context.Background()

	a.Classify(ctx, testEnv("h1"))

	// Once the capability recovers, the next call goes through instead
	// of replaying the cached failure.
	fake.err = nil
	fake.result = &domain.Classification{Category: "general"}
	cls := a.Classify(ctx, testEnv("h1"))
	if cls.Unavailable {
		t.Fatal("recovered classifier should produce a real classification")
	}
}

func TestClassifyNilClassifier(t *testing.T) {
	a := New(nil, store.NewMemoryStore(), DefaultConfig(), nil)

	cls := a.Classify(context.Background(), testEnv("h1"))
	if !cls.Unavailable {
		t.Fatal("nil classifier should yield the unavailable fallback")
	}
}

func TestClassifyBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	fake := &fakeClassifier{err: errors.New("down")}
	a := New(fake, nil, DefaultConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		a.Classify(ctx, testEnv("h1"))
	}

	// The breaker trips after 5 consecutive failures; later calls are
	// rejected without reaching the capability.
	if got := fake.calls.Load(); got != 5 {
		t.Errorf("classifier called %d times, want 5 before breaker opened", got)
	}
}
