package audit

import (
	"context"
	"fmt"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/chittycc/chittyrouter/adapter/out/store"
	"github.com/chittycc/chittyrouter/core/domain"
)

func entryAt(id string, level domain.UrgencyLevel) *domain.LogEntry {
	return &domain.LogEntry{
		EnvelopeID:   id,
		Kind:         domain.KindEmail,
		Category:     domain.CategoryGeneral,
		UrgencyLevel: level,
	}
}

func TestRecordAppendsNewestFirst(t *testing.T) {
	r := NewRecorder(store.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := r.Record(ctx, entryAt(fmt.Sprintf("env-%d", i), domain.LevelInfo)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := r.RecentLog(ctx)
	if err != nil {
		t.Fatalf("RecentLog() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].EnvelopeID != "env-2" || entries[2].EnvelopeID != "env-0" {
		t.Errorf("ring order = [%s … %s], want newest first", entries[0].EnvelopeID, entries[2].EnvelopeID)
	}
}

func TestRecentLogCapped(t *testing.T) {
	r := NewRecorder(store.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < domain.RecentLogCap+20; i++ {
		if err := r.Record(ctx, entryAt(fmt.Sprintf("env-%d", i), domain.LevelInfo)); err != nil {
			t.Fatalf("Record() %d error = %v", i, err)
		}
	}

	entries, _ := r.RecentLog(ctx)
	if len(entries) != domain.RecentLogCap {
		t.Errorf("len = %d, want %d", len(entries), domain.RecentLogCap)
	}
	// The newest entry survives the trim.
	if want := fmt.Sprintf("env-%d", domain.RecentLogCap+19); entries[0].EnvelopeID != want {
		t.Errorf("head = %s, want %s", entries[0].EnvelopeID, want)
	}
}

func TestUrgentRingOnlyHighAndCritical(t *testing.T) {
	r := NewRecorder(store.NewMemoryStore())
	ctx := context.Background()

	r.Record(ctx, entryAt("low", domain.LevelLow))
	r.Record(ctx, entryAt("high", domain.LevelHigh))
	r.Record(ctx, entryAt("critical", domain.LevelCritical))

	urgent, err := r.UrgentItems(ctx)
	if err != nil {
		t.Fatalf("UrgentItems() error = %v", err)
	}
	if len(urgent) != 2 {
		t.Fatalf("len = %d, want 2", len(urgent))
	}
	if urgent[0].EnvelopeID != "critical" || urgent[1].EnvelopeID != "high" {
		t.Errorf("urgent ring = [%s, %s]", urgent[0].EnvelopeID, urgent[1].EnvelopeID)
	}

	recent, _ := r.RecentLog(ctx)
	if len(recent) != 3 {
		t.Errorf("recent ring len = %d, want 3", len(recent))
	}
}

func TestStatsCounting(t *testing.T) {
	r := NewRecorder(store.NewMemoryStore())
	ctx := context.Background()

	r.Record(ctx, &domain.LogEntry{EnvelopeID: "a", Category: domain.CategoryLegal, UrgencyLevel: domain.LevelHigh})
	r.Record(ctx, &domain.LogEntry{EnvelopeID: "b", Category: domain.CategoryLegal, UrgencyLevel: domain.LevelLow})
	r.Record(ctx, &domain.LogEntry{EnvelopeID: "c", Category: domain.CategoryGeneral, UrgencyLevel: domain.LevelInfo})

	stats, err := r.StatsToday(ctx)
	if err != nil {
		t.Fatalf("StatsToday() error = %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByCategory["legal"] != 2 {
		t.Errorf("ByCategory[legal] = %d, want 2", stats.ByCategory["legal"])
	}
	if stats.ByLevel["HIGH"] != 1 {
		t.Errorf("ByLevel[HIGH] = %d, want 1", stats.ByLevel["HIGH"])
	}
}

func TestEntrySizeBound(t *testing.T) {
	r := NewRecorder(store.NewMemoryStore())
	ctx := context.Background()

	entry := entryAt("big", domain.LevelInfo)
	for i := 0; i < 200; i++ {
		entry.Reasons = append(entry.Reasons, fmt.Sprintf("reason_token_%d", i))
	}
	if err := r.Record(ctx, entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, _ := r.RecentLog(ctx)
	raw, err := json.Marshal(entries[0])
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}
	if len(raw) > domain.MaxLogEntryBytes {
		t.Errorf("stored entry is %d bytes, cap is %d", len(raw), domain.MaxLogEntryBytes)
	}
}
