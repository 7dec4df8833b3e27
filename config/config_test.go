package config

import (
	"testing"
	"time"

	"github.com/chittycc/chittyrouter/core/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MaxEnvelopeBytes != DefaultMaxEnvelopeBytes {
		t.Errorf("MaxEnvelopeBytes = %d, want %d", cfg.MaxEnvelopeBytes, DefaultMaxEnvelopeBytes)
	}
	if cfg.MaxAttachmentBytes != DefaultMaxAttachmentBytes {
		t.Errorf("MaxAttachmentBytes = %d, want %d", cfg.MaxAttachmentBytes, DefaultMaxAttachmentBytes)
	}
	if cfg.ClassifierTimeout != 2*time.Second {
		t.Errorf("ClassifierTimeout = %v, want 2s", cfg.ClassifierTimeout)
	}
	if cfg.PipelineDeadline != 30*time.Second {
		t.Errorf("PipelineDeadline = %v, want 30s", cfg.PipelineDeadline)
	}
	if cfg.MaxInflight != 100 {
		t.Errorf("MaxInflight = %d, want 100", cfg.MaxInflight)
	}
	if cfg.RetainFullContent {
		t.Error("RetainFullContent should default to false")
	}
	if cfg.PerSenderHourLimit != 200 || cfg.PerDomainHourLimit != 500 {
		t.Errorf("rate limits = %d/%d, want 200/500", cfg.PerSenderHourLimit, cfg.PerDomainHourLimit)
	}
	if cfg.DedupTTL != 24*time.Hour {
		t.Errorf("DedupTTL = %v, want 24h", cfg.DedupTTL)
	}
}

func TestLoadRejectsUnknownOption(t *testing.T) {
	t.Setenv("CHITTY_NOT_A_REAL_OPTION", "1")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject unrecognized CHITTY_* options")
	}
}

func TestLoadRejectsUnknownRetentionKind(t *testing.T) {
	t.Setenv("CHITTY_TTL_FAX_DAYS", "30")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject retention overrides for unknown kinds")
	}
}

func TestLoadRetentionOverride(t *testing.T) {
	t.Setenv("CHITTY_TTL_VOICE_DAYS", "14")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.RetentionDays[domain.KindVoice]; got != 14 {
		t.Errorf("RetentionDays[VOICE] = %d, want 14", got)
	}
	if got := cfg.RetentionTTL(domain.KindVoice); got != 14*24*time.Hour {
		t.Errorf("RetentionTTL(VOICE) = %v, want 336h", got)
	}
	// Others keep their defaults.
	if got := cfg.RetentionDays[domain.KindPDF]; got != 1825 {
		t.Errorf("RetentionDays[PDF] = %d, want 1825", got)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"truncate length too small", "CHITTY_CONTENT_TRUNCATE_LENGTH", "500"},
		{"truncate length too large", "CHITTY_CONTENT_TRUNCATE_LENGTH", "5000"},
		{"negative inflight", "CHITTY_MAX_INFLIGHT", "-1"},
		{"zero envelope bytes", "CHITTY_MAX_ENVELOPE_BYTES", "0"},
		{"node id out of range", "CHITTY_NODE_ID", "2048"},
		{"zero dedup ttl", "CHITTY_DEDUP_TTL_SECONDS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s should fail validation", tt.key, tt.value)
			}
		})
	}
}

func TestParseRouteTable(t *testing.T) {
	routes, err := parseRouteTable("legal@chitty.cc=nick@chitty.cc, Billing@chitty.cc=ops@chitty.cc")
	if err != nil {
		t.Fatalf("parseRouteTable() error = %v", err)
	}
	if got := routes["legal@chitty.cc"]; got != "nick@chitty.cc" {
		t.Errorf("routes[legal] = %q, want nick@chitty.cc", got)
	}
	// Addresses are lower-cased on load.
	if got := routes["billing@chitty.cc"]; got != "ops@chitty.cc" {
		t.Errorf("routes[billing] = %q, want ops@chitty.cc", got)
	}

	if _, err := parseRouteTable("missing-equals"); err == nil {
		t.Error("malformed route entry should be rejected")
	}
}

func TestParseKnownCases(t *testing.T) {
	cases, err := parseKnownCases("arias-v-bianchi@chitty.cc=ARIAS_v_BIANCHI:nick@chitty.cc:HIGH")
	if err != nil {
		t.Fatalf("parseKnownCases() error = %v", err)
	}
	kc, ok := cases["arias-v-bianchi@chitty.cc"]
	if !ok {
		t.Fatal("known case not found")
	}
	if kc.CanonicalName != "ARIAS_v_BIANCHI" {
		t.Errorf("CanonicalName = %q", kc.CanonicalName)
	}
	if kc.ForwardTo != "nick@chitty.cc" {
		t.Errorf("ForwardTo = %q", kc.ForwardTo)
	}
	if kc.DefaultPriority != domain.LevelHigh {
		t.Errorf("DefaultPriority = %q, want HIGH", kc.DefaultPriority)
	}

	if _, err := parseKnownCases("a@b=only:two"); err == nil {
		t.Error("entry without priority should be rejected")
	}
	if _, err := parseKnownCases("a@b=C:f@x:URGENT"); err == nil {
		t.Error("unknown priority should be rejected")
	}
}

func TestRouteTableAssembly(t *testing.T) {
	t.Setenv("CHITTY_ROUTE_TABLE", "legal@chitty.cc=nick@chitty.cc")
	t.Setenv("CHITTY_KNOWN_CASES", "arias-v-bianchi@chitty.cc=ARIAS_v_BIANCHI:nick@chitty.cc:HIGH")
	t.Setenv("CHITTY_DEFAULT_ROUTE", "catchall@chitty.cc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	table := cfg.RouteTable()

	if fwd, ok := table.RouteFor("LEGAL@chitty.cc"); !ok || fwd != "nick@chitty.cc" {
		t.Errorf("RouteFor(legal) = %q, %v", fwd, ok)
	}
	if _, ok := table.KnownCaseFor("arias-v-bianchi@chitty.cc"); !ok {
		t.Error("KnownCaseFor should match configured case address")
	}
	if table.DefaultRoute != "catchall@chitty.cc" {
		t.Errorf("DefaultRoute = %q", table.DefaultRoute)
	}
}
