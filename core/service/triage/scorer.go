// Package triage implements the deterministic urgency scorer. Each rule
// fires at most once; the final score is the clamped sum and the reason
// tokens are emitted in rule-table order.
package triage

import (
	"regexp"
	"strings"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/service/recognize"
)

// =============================================================================
// Rule lexicons
// =============================================================================

var (
	courtTerms      = []string{"court", "filing", "motion", "subpoena", "hearing"}
	urgentTerms     = []string{"urgent", "asap", "immediate", "deadline", "critical", "emergency"}
	creditorTerms   = []string{"past due", "final notice", "collections", "debt"}
	complianceTerms = []string{"annual report", "filing deadline", "secretary of state"}

	// ISO YYYY-MM-DD or US MM/DD/YYYY.
	datePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})\b`)
)

// Rule point values.
const (
	pointsCourt        = 25
	pointsUrgent       = 20
	pointsSender       = 15
	pointsDate         = 5
	pointsHeader       = 10
	pointsCaseAddress  = 20
	pointsCriticalCase = 25
	pointsCreditor     = 15
	pointsCompliance   = 10
	pointsHintCritical = 30
	pointsHintHigh     = 20
	pointsHintMedium   = 10
)

// Scorer computes the triage verdict. Stateless and deterministic:
// identical inputs always produce identical score, category, and
// ordered reasons.
type Scorer struct{}

// NewScorer creates a scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score applies the additive rule table over the envelope, the
// recognizer result, and the classifier output. cls may be nil when
// classification was skipped entirely.
func (s *Scorer) Score(env *domain.Envelope, rec *recognize.Result, cls *domain.Classification) *domain.Triage {
	if rec == nil {
		rec = &recognize.Result{}
	}

	text := strings.ToLower(env.Subject + "\n" + env.Preview)

	score := 0
	var reasons []string
	add := func(points int, token string) {
		score += points
		reasons = append(reasons, token)
	}

	var hasCourt, hasUrgent, hasCreditor, hasCompliance, hasImportantSender bool

	if containsAny(text, courtTerms) {
		hasCourt = true
		add(pointsCourt, "court")
	}
	if containsAny(text, urgentTerms) {
		hasUrgent = true
		add(pointsUrgent, "urgent")
	}
	if token := importantSenderToken(env.SenderDomain()); token != "" {
		hasImportantSender = true
		add(pointsSender, "important_sender:"+token)
	}
	if datePattern.MatchString(text) {
		add(pointsDate, "contains_date")
	}
	if hasPriorityHeader(env.Headers) {
		add(pointsHeader, "header_priority")
	}
	if rec.CaseKey != "" {
		add(pointsCaseAddress, "case_address:"+rec.CaseKey)
	}
	if rec.HasKnownCase && rec.KnownCase.DefaultPriority == domain.LevelCritical {
		add(pointsCriticalCase, "case:"+rec.KnownCase.CanonicalName)
	}
	if containsAny(text, creditorTerms) {
		hasCreditor = true
		add(pointsCreditor, "creditor")
	}
	if containsAny(text, complianceTerms) {
		hasCompliance = true
		add(pointsCompliance, "compliance")
	}

	if cls != nil {
		if cls.Unavailable {
			reasons = append(reasons, domain.ReasonClassifierUnavailable)
		} else if points, token, ok := classifierRule(cls.UrgencyHint); ok {
			add(points, token)
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return &domain.Triage{
		Category:     selectCategory(rec, hasCompliance, hasCreditor, hasCourt, hasUrgent, hasImportantSender),
		UrgencyScore: score,
		UrgencyLevel: domain.LevelForScore(score),
		Reasons:      reasons,
		CaseKey:      rec.CaseKey,
	}
}

// selectCategory picks the first applicable category:
// case → evidence → compliance → financial → legal → emergency → general.
func selectCategory(rec *recognize.Result, hasCompliance, hasCreditor, hasCourt, hasUrgent, hasImportantSender bool) domain.Category {
	switch {
	case rec.CaseKey != "" || rec.HasKnownCase:
		return domain.CategoryCase
	case rec.EvidenceAddress:
		return domain.CategoryEvidence
	case hasCompliance:
		return domain.CategoryCompliance
	case hasCreditor:
		return domain.CategoryFinancial
	case hasCourt:
		return domain.CategoryLegal
	case hasUrgent && hasImportantSender:
		return domain.CategoryEmergency
	default:
		return domain.CategoryGeneral
	}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// importantSenderToken classifies the sender domain: "court" when the
// domain mentions a court, "gov" for government TLDs.
func importantSenderToken(dom string) string {
	switch {
	case dom == "":
		return ""
	case strings.Contains(dom, "court"):
		return "court"
	case dom == "gov" || strings.HasSuffix(dom, ".gov"):
		return "gov"
	default:
		return ""
	}
}

func hasPriorityHeader(headers map[string]string) bool {
	if headers == nil {
		return false
	}
	if strings.EqualFold(headers["importance"], "high") {
		return true
	}
	switch strings.ToLower(headers["x-priority"]) {
	case "1", "high":
		return true
	}
	return false
}

func classifierRule(hint string) (int, string, bool) {
	switch strings.ToUpper(hint) {
	case "CRITICAL":
		return pointsHintCritical, "classifier:CRITICAL", true
	case "HIGH":
		return pointsHintHigh, "classifier:HIGH", true
	case "MEDIUM":
		return pointsHintMedium, "classifier:MEDIUM", true
	case "LOW":
		return 0, "classifier:LOW", true
	default:
		return 0, "", false
	}
}
