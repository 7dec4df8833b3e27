package domain

// Category is the triage category of an envelope.
type Category string

const (
	CategoryCase       Category = "case"
	CategoryLegal      Category = "legal"
	CategoryFinancial  Category = "financial"
	CategoryCompliance Category = "compliance"
	CategoryEvidence   Category = "evidence"
	CategoryEmergency  Category = "emergency"
	CategoryGeneral    Category = "general"
)

// UrgencyLevel is derived from the urgency score.
type UrgencyLevel string

const (
	LevelInfo     UrgencyLevel = "INFO"
	LevelLow      UrgencyLevel = "LOW"
	LevelMedium   UrgencyLevel = "MEDIUM"
	LevelHigh     UrgencyLevel = "HIGH"
	LevelCritical UrgencyLevel = "CRITICAL"
)

// LevelForScore maps an urgency score to its level. Boundaries are
// inclusive-left: <10 INFO, 10-24 LOW, 25-49 MEDIUM, 50-79 HIGH,
// >=80 CRITICAL.
func LevelForScore(score int) UrgencyLevel {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 25:
		return LevelMedium
	case score >= 10:
		return LevelLow
	default:
		return LevelInfo
	}
}

// Urgent reports whether the level sets the routing priority bit.
func (l UrgencyLevel) Urgent() bool {
	return l == LevelHigh || l == LevelCritical
}

// Triage is the scorer's verdict for one envelope. It is a sibling
// record of the envelope, produced once and never mutated.
type Triage struct {
	Category     Category     `json:"category"`
	UrgencyScore int          `json:"urgency_score"`
	UrgencyLevel UrgencyLevel `json:"urgency_level"`

	// Reasons lists the contributing rule tokens in rule-table order
	// (e.g. "court", "case_address:arias_v_bianchi", "contains_date").
	Reasons []string `json:"reasons"`

	// CaseKey is the canonical case identifier when a case address
	// matched (e.g. "arias_v_bianchi").
	CaseKey string `json:"case_key,omitempty"`
}

// HasReason reports whether token appears in the reason list.
func (t *Triage) HasReason(token string) bool {
	for _, r := range t.Reasons {
		if r == token {
			return true
		}
	}
	return false
}

// Classification is the external classifier's opaque verdict.
type Classification struct {
	Category    string   `json:"category"`
	Sentiment   string   `json:"sentiment"`
	UrgencyHint string   `json:"urgency_hint"` // CRITICAL, HIGH, MEDIUM, LOW or empty
	Entities    []string `json:"entities,omitempty"`

	// Unavailable is set when the classifier timed out or errored and
	// the zero-value fallback was substituted.
	Unavailable bool `json:"unavailable,omitempty"`
}
