// Package ratelimit provides admission control for the pipeline: content
// dedup plus per-sender and per-domain sliding-window rate limits.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/pkg/apperr"
)

// =============================================================================
// Admission Guard
// Order: dedup → sender window → domain window. A duplicate never consumes
// rate budget.
// =============================================================================

// Limits holds admission configuration.
type Limits struct {
	PerSenderHour int
	PerDomainHour int
	DedupTTL      time.Duration
}

// DefaultLimits returns the default admission limits.
func DefaultLimits() Limits {
	return Limits{
		PerSenderHour: 200,
		PerDomainHour: 500,
		DedupTTL:      24 * time.Hour,
	}
}

// Guard performs admission checks. Redis is the authoritative store; a
// process-local fallback keeps admission working when redis is down
// (fail-open on rate limits, best-effort on dedup).
type Guard struct {
	redis  *redis.Client
	limits Limits

	sender *SlidingWindowLimiter
	domain *SlidingWindowLimiter
	dedup  *Deduper
}

// NewGuard creates a new admission guard.
func NewGuard(redisClient *redis.Client, limits Limits) *Guard {
	if limits.PerSenderHour <= 0 || limits.PerDomainHour <= 0 {
		limits = DefaultLimits()
	}
	return &Guard{
		redis:  redisClient,
		limits: limits,
		sender: NewSlidingWindowLimiter(redisClient, "sender", limits.PerSenderHour, time.Hour),
		domain: NewSlidingWindowLimiter(redisClient, "domain", limits.PerDomainHour, time.Hour),
		dedup:  NewDeduper(redisClient, limits.DedupTTL),
	}
}

// Admit decides whether env enters the pipeline. A denial is a
// POLICY_DROP carrying the audit reason token; it is not a failure.
func (g *Guard) Admit(ctx context.Context, env *domain.Envelope) error {
	if env.ContentHash != "" {
		dup, err := g.dedup.Seen(ctx, env.ContentHash)
		if err == nil && dup {
			return apperr.PolicyDrop(domain.ReasonDroppedDuplicate)
		}
	}

	if ok := g.sender.Allow(ctx, env.Sender()); !ok {
		return apperr.PolicyDrop(domain.ReasonDroppedRatelimitSender)
	}
	if dom := env.SenderDomain(); dom != "" {
		if ok := g.domain.Allow(ctx, dom); !ok {
			return apperr.PolicyDrop(domain.ReasonDroppedRatelimitDomain)
		}
	}

	if env.ContentHash != "" {
		g.dedup.Mark(ctx, env.ContentHash)
	}
	return nil
}

// =============================================================================
// SlidingWindowLimiter - Redis-backed sliding window
// =============================================================================

// slidingWindowScript atomically trims the window, counts entries, and
// admits or rejects in one round trip.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end
	return 0
`)

// SlidingWindowLimiter implements sliding window rate limiting using Redis,
// with a process-local window as fallback.
type SlidingWindowLimiter struct {
	redis  *redis.Client
	scope  string
	limit  int
	window time.Duration

	mu    sync.Mutex
	local map[string][]time.Time
}

// NewSlidingWindowLimiter creates a limiter admitting at most limit
// events per key per window.
func NewSlidingWindowLimiter(redisClient *redis.Client, scope string, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redisClient,
		scope:  scope,
		limit:  limit,
		window: window,
		local:  make(map[string][]time.Time),
	}
}

// Allow records one event for key and reports whether it fit the window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) bool {
	now := time.Now()

	if l.redis != nil {
		redisKey := fmt.Sprintf("ratelimit:%s:%s", l.scope, key)
		result, err := slidingWindowScript.Run(ctx, l.redis, []string{redisKey},
			now.UnixMilli(),
			now.Add(-l.window).UnixMilli(),
			l.limit,
			l.window.Milliseconds(),
		).Int64()
		if err == nil {
			return result == 1
		}
		// Redis error: fall through to the local window.
	}

	return l.allowLocal(key, now)
}

func (l *SlidingWindowLimiter) allowLocal(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	events := l.local[key]
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.local[key] = kept
		return false
	}
	l.local[key] = append(kept, now)
	return true
}

// =============================================================================
// Deduper - content-hash duplicate suppression
// =============================================================================

// Deduper suppresses envelopes whose content hash was already processed
// inside the TTL window.
type Deduper struct {
	redis *redis.Client
	ttl   time.Duration

	mu    sync.RWMutex
	local map[string]time.Time
}

// NewDeduper creates a new deduper.
func NewDeduper(redisClient *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{
		redis: redisClient,
		ttl:   ttl,
		local: make(map[string]time.Time),
	}
}

// Seen reports whether hash was marked inside the TTL window.
func (d *Deduper) Seen(ctx context.Context, hash string) (bool, error) {
	if d.redis != nil {
		exists, err := d.redis.Exists(ctx, "dedup:"+hash).Result()
		if err == nil {
			return exists > 0, nil
		}
	}

	d.mu.RLock()
	markedAt, ok := d.local[hash]
	d.mu.RUnlock()
	return ok && time.Since(markedAt) < d.ttl, nil
}

// Mark records hash as processed.
func (d *Deduper) Mark(ctx context.Context, hash string) {
	if d.redis != nil {
		d.redis.Set(ctx, "dedup:"+hash, "1", d.ttl)
	}

	d.mu.Lock()
	d.local[hash] = time.Now()
	if len(d.local) > localDedupCap {
		d.evictExpiredLocked()
	}
	d.mu.Unlock()
}

// localDedupCap bounds the fallback map.
const localDedupCap = 10000

func (d *Deduper) evictExpiredLocked() {
	cutoff := time.Now().Add(-d.ttl)
	for k, v := range d.local {
		if v.Before(cutoff) {
			delete(d.local, k)
		}
	}
}
