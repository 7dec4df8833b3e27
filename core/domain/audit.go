package domain

import "time"

// Ring and TTL bounds for the audit stores.
const (
	RecentLogCap = 100
	UrgentCap    = 50

	RecentLogTTL = 7 * 24 * time.Hour
	UrgentTTL    = 3 * 24 * time.Hour
	StatsTTL     = 24 * time.Hour

	// MaxLogEntryBytes caps one serialized LogEntry.
	MaxLogEntryBytes = 2048
)

// LogEntry is the bounded, privacy-preserving audit record written for
// every pipeline run. It never contains a body, never more than 200
// chars of subject, and never attachment contents.
type LogEntry struct {
	EnvelopeID   string       `json:"envelope_id"`
	ReceivedAt   time.Time    `json:"received_at"`
	Kind         Kind         `json:"kind"`
	Category     Category     `json:"category"`
	UrgencyLevel UrgencyLevel `json:"urgency_level"`
	Score        int          `json:"score"`
	ContentHash  string       `json:"content_hash"`
	Subject      string       `json:"subject,omitempty"`

	// Destinations holds addresses only, with failed forwards marked.
	Destinations []DestinationResult `json:"destinations,omitempty"`

	// Reasons carries triage reason tokens plus pipeline outcome tokens
	// such as "dropped:duplicate" or "internal_error".
	Reasons []string `json:"reasons,omitempty"`
}

// DestinationResult records one forward outcome inside a LogEntry.
type DestinationResult struct {
	Address string `json:"address"`
	Failed  bool   `json:"failed,omitempty"`
}

// Stats is the daily counter record.
type Stats struct {
	Total      int64            `json:"total"`
	ByCategory map[string]int64 `json:"by_category"`
	ByLevel    map[string]int64 `json:"by_level"`
	Day        string           `json:"day"` // YYYY-MM-DD
}

// NewStats returns an empty counter record for the given day.
func NewStats(day string) *Stats {
	return &Stats{
		ByCategory: make(map[string]int64),
		ByLevel:    make(map[string]int64),
		Day:        day,
	}
}

// Count registers one processed envelope.
func (s *Stats) Count(category Category, level UrgencyLevel) {
	s.Total++
	s.ByCategory[string(category)]++
	s.ByLevel[string(level)]++
}

// Audit outcome reason tokens.
const (
	ReasonDroppedDuplicate       = "dropped:duplicate"
	ReasonDroppedRatelimitSender = "dropped:ratelimit_sender"
	ReasonDroppedRatelimitDomain = "dropped:ratelimit_domain"
	ReasonDroppedTimeout         = "dropped:timeout"
	ReasonClassifierUnavailable  = "classifier_unavailable"
	ReasonInternalError          = "internal_error"
	ReasonForwardFailed          = "forward_failed"
	ReasonIdentityUnavailable    = "identity_unavailable"
	ReasonStorageInconsistency   = "inconsistency"
)
