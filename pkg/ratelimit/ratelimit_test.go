package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/pkg/apperr"
)

func testEnvelope(sender, hash string) *domain.Envelope {
	return &domain.Envelope{
		ID:          "env-1",
		Kind:        domain.KindEmail,
		Principals:  domain.Principals{From: []string{sender}},
		ContentHash: hash,
	}
}

func TestGuardDedup(t *testing.T) {
	guard := NewGuard(nil, DefaultLimits())
	ctx := context.Background()

	first := testEnvelope("a@example.com", "hash-1")
	if err := guard.Admit(ctx, first); err != nil {
		t.Fatalf("first Admit() = %v", err)
	}

	dup := testEnvelope("b@other.com", "hash-1")
	err := guard.Admit(ctx, dup)
	if !apperr.IsPolicyDrop(err) {
		t.Fatalf("duplicate should be a policy drop, got %v", err)
	}
	appErr := apperr.AsAppError(err)
	if appErr.Message != domain.ReasonDroppedDuplicate {
		t.Errorf("drop reason = %q, want %q", appErr.Message, domain.ReasonDroppedDuplicate)
	}
}

func TestGuardSenderLimit(t *testing.T) {
	limits := Limits{PerSenderHour: 3, PerDomainHour: 100, DedupTTL: time.Hour}
	guard := NewGuard(nil, limits)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env := testEnvelope("spammer@example.com", "")
		if err := guard.Admit(ctx, env); err != nil {
			t.Fatalf("Admit() %d = %v", i, err)
		}
	}

	err := guard.Admit(ctx, testEnvelope("spammer@example.com", ""))
	if !apperr.IsPolicyDrop(err) {
		t.Fatalf("over-limit sender should be dropped, got %v", err)
	}
	if got := apperr.AsAppError(err).Message; got != domain.ReasonDroppedRatelimitSender {
		t.Errorf("drop reason = %q, want %q", got, domain.ReasonDroppedRatelimitSender)
	}

	// A different sender in the same domain is still admitted.
	if err := guard.Admit(ctx, testEnvelope("other@example.com", "")); err != nil {
		t.Errorf("other sender Admit() = %v", err)
	}
}

func TestGuardDomainLimit(t *testing.T) {
	limits := Limits{PerSenderHour: 100, PerDomainHour: 2, DedupTTL: time.Hour}
	guard := NewGuard(nil, limits)
	ctx := context.Background()

	if err := guard.Admit(ctx, testEnvelope("a@burst.example", "")); err != nil {
		t.Fatalf("Admit() = %v", err)
	}
	if err := guard.Admit(ctx, testEnvelope("b@burst.example", "")); err != nil {
		t.Fatalf("Admit() = %v", err)
	}

	err := guard.Admit(ctx, testEnvelope("c@burst.example", ""))
	if !apperr.IsPolicyDrop(err) {
		t.Fatalf("over-limit domain should be dropped, got %v", err)
	}
	if got := apperr.AsAppError(err).Message; got != domain.ReasonDroppedRatelimitDomain {
		t.Errorf("drop reason = %q, want %q", got, domain.ReasonDroppedRatelimitDomain)
	}
}

func TestDuplicateDoesNotConsumeRateBudget(t *testing.T) {
	limits := Limits{PerSenderHour: 2, PerDomainHour: 100, DedupTTL: time.Hour}
	guard := NewGuard(nil, limits)
	ctx := context.Background()

	if err := guard.Admit(ctx, testEnvelope("s@x.com", "h1")); err != nil {
		t.Fatalf("Admit() = %v", err)
	}
	// Duplicates are rejected before touching the window.
	for i := 0; i < 5; i++ {
		if err := guard.Admit(ctx, testEnvelope("s@x.com", "h1")); !apperr.IsPolicyDrop(err) {
			t.Fatalf("duplicate %d not dropped: %v", i, err)
		}
	}
	// One slot of the sender budget remains.
	if err := guard.Admit(ctx, testEnvelope("s@x.com", "h2")); err != nil {
		t.Errorf("fresh hash Admit() = %v", err)
	}
}

func TestSlidingWindowLocalExpiry(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, "test", 1, 50*time.Millisecond)
	ctx := context.Background()

	if !l.Allow(ctx, "k") {
		t.Fatal("first event should be allowed")
	}
	if l.Allow(ctx, "k") {
		t.Fatal("second event inside window should be rejected")
	}

	time.Sleep(60 * time.Millisecond)
	if !l.Allow(ctx, "k") {
		t.Error("event after window expiry should be allowed")
	}
}

func TestDeduperLocalFallback(t *testing.T) {
	d := NewDeduper(nil, time.Hour)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "h")
	if err != nil || seen {
		t.Fatalf("Seen() before Mark = %v, %v", seen, err)
	}

	d.Mark(ctx, "h")
	seen, err = d.Seen(ctx, "h")
	if err != nil || !seen {
		t.Fatalf("Seen() after Mark = %v, %v", seen, err)
	}
}
