// Package audit maintains the bounded audit records: the recent-log
// ring, the urgent-items ring, and the daily counters. Rings are
// rewritten in full on each append under CAS on their version tag.
package audit

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/port/out"
	"github.com/chittycc/chittyrouter/pkg/apperr"
	"github.com/chittycc/chittyrouter/pkg/logger"
)

// Store keys.
const (
	recentLogKey = "audit:recent_log"
	urgentKey    = "audit:urgent_items"
	statsPrefix  = "audit:stats:"
)

// casAttempts bounds the append retry loop. Contention is limited by
// the ingress rate, so a handful of retries is enough.
const casAttempts = 5

// Recorder writes audit records through the KV store.
type Recorder struct {
	store out.KVStore
	log   *logger.Logger
}

// NewRecorder creates a recorder over the shared store.
func NewRecorder(store out.KVStore) *Recorder {
	return &Recorder{
		store: store,
		log:   logger.Default().WithField("component", "audit"),
	}
}

// Record writes one LogEntry: always to the recent-log ring, to the
// urgent ring when the level warrants it, and into the daily counters.
func (r *Recorder) Record(ctx context.Context, entry *domain.LogEntry) error {
	capEntry(entry)

	if err := r.appendRing(ctx, recentLogKey, entry, domain.RecentLogCap, domain.RecentLogTTL); err != nil {
		return err
	}
	if entry.UrgencyLevel.Urgent() {
		if err := r.appendRing(ctx, urgentKey, entry, domain.UrgentCap, domain.UrgentTTL); err != nil {
			return err
		}
	}
	return r.count(ctx, entry)
}

// RecentLog returns the recent-log ring, newest first.
func (r *Recorder) RecentLog(ctx context.Context) ([]domain.LogEntry, error) {
	return r.readRing(ctx, recentLogKey)
}

// UrgentItems returns the urgent ring, newest first.
func (r *Recorder) UrgentItems(ctx context.Context) ([]domain.LogEntry, error) {
	return r.readRing(ctx, urgentKey)
}

// StatsToday returns today's counters; expired or absent counters come
// back zeroed.
func (r *Recorder) StatsToday(ctx context.Context) (*domain.Stats, error) {
	day := dayOf(time.Now())
	v, ok, err := r.store.Get(ctx, statsPrefix+day)
	if err != nil {
		return nil, err
	}
	if !ok {
		return domain.NewStats(day), nil
	}
	var stats domain.Stats
	if err := json.Unmarshal(v.Value, &stats); err != nil {
		return domain.NewStats(day), nil
	}
	return &stats, nil
}

// RingSizes reports current ring lengths for the metrics endpoint.
func (r *Recorder) RingSizes(ctx context.Context) (recent, urgent int) {
	if entries, err := r.readRing(ctx, recentLogKey); err == nil {
		recent = len(entries)
	}
	if entries, err := r.readRing(ctx, urgentKey); err == nil {
		urgent = len(entries)
	}
	return recent, urgent
}

// appendRing prepends entry and truncates from the tail, retrying the
// CAS a bounded number of times.
func (r *Recorder) appendRing(ctx context.Context, key string, entry *domain.LogEntry, capacity int, ttl time.Duration) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		var entries []domain.LogEntry
		var version int64

		v, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return apperr.DependencyUnavailable("audit_store", false, err)
		}
		if ok {
			version = v.Version
			if err := json.Unmarshal(v.Value, &entries); err != nil {
				// A corrupt ring is rebuilt from scratch.
				r.log.WithError(err).Warn("discarding unreadable ring %s", key)
				entries = nil
			}
		}

		entries = append([]domain.LogEntry{*entry}, entries...)
		if len(entries) > capacity {
			entries = entries[:capacity]
		}

		raw, err := json.Marshal(entries)
		if err != nil {
			return apperr.InternalWithError(err)
		}

		written, err := r.store.CAS(ctx, key, version, raw, ttl)
		if err != nil {
			return apperr.DependencyUnavailable("audit_store", false, err)
		}
		if written {
			return nil
		}
		// Version moved under us; reread and retry.
	}
	return apperr.Internal("audit ring contention exceeded retry budget")
}

func (r *Recorder) readRing(ctx context.Context, key string) ([]domain.LogEntry, error) {
	v, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, apperr.DependencyUnavailable("audit_store", false, err)
	}
	if !ok {
		return nil, nil
	}
	var entries []domain.LogEntry
	if err := json.Unmarshal(v.Value, &entries); err != nil {
		return nil, nil
	}
	return entries, nil
}

// count folds entry into today's counters under CAS.
func (r *Recorder) count(ctx context.Context, entry *domain.LogEntry) error {
	day := dayOf(time.Now())
	key := statsPrefix + day

	for attempt := 0; attempt < casAttempts; attempt++ {
		stats := domain.NewStats(day)
		var version int64

		v, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return apperr.DependencyUnavailable("audit_store", false, err)
		}
		if ok {
			version = v.Version
			if err := json.Unmarshal(v.Value, stats); err != nil {
				stats = domain.NewStats(day)
			}
		}

		stats.Count(entry.Category, entry.UrgencyLevel)

		raw, err := json.Marshal(stats)
		if err != nil {
			return apperr.InternalWithError(err)
		}
		written, err := r.store.CAS(ctx, key, version, raw, domain.StatsTTL)
		if err != nil {
			return apperr.DependencyUnavailable("audit_store", false, err)
		}
		if written {
			return nil
		}
	}
	return apperr.Internal("stats contention exceeded retry budget")
}

// capEntry enforces the 2 KiB entry bound: the subject is already
// truncated at 200 chars, so oversize can only come from reason or
// destination floods; trim those rather than fail.
func capEntry(entry *domain.LogEntry) {
	entry.Subject = domain.TruncateSubject(entry.Subject)

	raw, err := json.Marshal(entry)
	if err != nil || len(raw) <= domain.MaxLogEntryBytes {
		return
	}
	if len(entry.Reasons) > 8 {
		entry.Reasons = entry.Reasons[:8]
	}
	if raw, err = json.Marshal(entry); err == nil && len(raw) <= domain.MaxLogEntryBytes {
		return
	}
	entry.Subject = ""
	if len(entry.Destinations) > 8 {
		entry.Destinations = entry.Destinations[:8]
	}
}

func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
