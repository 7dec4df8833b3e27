package triage

import (
	"reflect"
	"testing"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/service/recognize"
)

func TestScoreUrgentCourtDeadline(t *testing.T) {
	s := NewScorer()
	env := &domain.Envelope{
		Kind:       domain.KindEmail,
		Principals: domain.Principals{From: []string{"judge@superior-court.gov"}, To: []string{"legal@chitty.cc"}},
		Subject:    "URGENT: Response Due Tomorrow - Motion to Compel",
		Preview:    "motion to compel discovery responses due by 5:00 PM tomorrow",
		Headers:    map[string]string{"importance": "high"},
	}

	tr := s.Score(env, &recognize.Result{}, nil)

	if tr.Category != domain.CategoryLegal {
		t.Errorf("Category = %q, want legal", tr.Category)
	}
	if tr.UrgencyScore < 60 {
		t.Errorf("UrgencyScore = %d, want >= 60", tr.UrgencyScore)
	}
	if tr.UrgencyLevel != domain.LevelHigh && tr.UrgencyLevel != domain.LevelCritical {
		t.Errorf("UrgencyLevel = %q, want HIGH or CRITICAL", tr.UrgencyLevel)
	}
	for _, want := range []string{"court", "urgent", "important_sender:court", "header_priority"} {
		if !tr.HasReason(want) {
			t.Errorf("missing reason %q in %v", want, tr.Reasons)
		}
	}
}

func TestScoreCaseAddress(t *testing.T) {
	s := NewScorer()
	env := &domain.Envelope{
		Kind:    domain.KindEmail,
		Subject: "Discovery Request - Arias v. Bianchi",
		Preview: "Requesting production of documents",
	}
	rec := &recognize.Result{
		CaseKey: "arias_v_bianchi",
		Reasons: []string{"case_address:arias_v_bianchi"},
	}

	tr := s.Score(env, rec, nil)

	if tr.Category != domain.CategoryCase {
		t.Errorf("Category = %q, want case", tr.Category)
	}
	if tr.CaseKey != "arias_v_bianchi" {
		t.Errorf("CaseKey = %q", tr.CaseKey)
	}
	if !tr.HasReason("case_address:arias_v_bianchi") {
		t.Errorf("missing case_address reason in %v", tr.Reasons)
	}
}

func TestScoreCreditorNotice(t *testing.T) {
	s := NewScorer()
	env := &domain.Envelope{
		Kind:    domain.KindEmail,
		Subject: "Final Notice - Account Past Due",
		Preview: "90 days past due. Payment of $5,000 required",
	}
	cls := &domain.Classification{UrgencyHint: "MEDIUM"}

	tr := s.Score(env, &recognize.Result{}, cls)

	if tr.Category != domain.CategoryFinancial {
		t.Errorf("Category = %q, want financial", tr.Category)
	}
	if !tr.HasReason("creditor") {
		t.Errorf("missing creditor reason in %v", tr.Reasons)
	}
	if tr.UrgencyScore < 25 || tr.UrgencyScore > 80 {
		t.Errorf("UrgencyScore = %d, want within [25, 80]", tr.UrgencyScore)
	}
}

func TestScoreClassifierUnavailable(t *testing.T) {
	s := NewScorer()
	env := &domain.Envelope{
		Kind:    domain.KindEmail,
		Subject: "hearing scheduled",
	}
	cls := &domain.Classification{Unavailable: true}

	tr := s.Score(env, &recognize.Result{}, cls)

	if !tr.HasReason(domain.ReasonClassifierUnavailable) {
		t.Errorf("missing classifier_unavailable in %v", tr.Reasons)
	}
	// Score comes from non-classifier signals only.
	if tr.UrgencyScore != 25 {
		t.Errorf("UrgencyScore = %d, want 25 (court rule only)", tr.UrgencyScore)
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer()
	env := &domain.Envelope{
		Kind:       domain.KindEmail,
		Principals: domain.Principals{From: []string{"clerk@courts.gov"}},
		Subject:    "URGENT filing deadline 2026-09-01",
		Preview:    "annual report filing deadline approaching",
		Headers:    map[string]string{"x-priority": "1"},
	}
	rec := &recognize.Result{CaseKey: "arias_v_bianchi"}
	cls := &domain.Classification{UrgencyHint: "HIGH"}

	first := s.Score(env, rec, cls)
	for i := 0; i < 5; i++ {
		next := s.Score(env, rec, cls)
		if next.UrgencyScore != first.UrgencyScore || next.Category != first.Category {
			t.Fatalf("run %d differs: %+v vs %+v", i, next, first)
		}
		if !reflect.DeepEqual(next.Reasons, first.Reasons) {
			t.Fatalf("reason order differs: %v vs %v", next.Reasons, first.Reasons)
		}
	}
}

func TestScoreClamped(t *testing.T) {
	s := NewScorer()
	env := &domain.Envelope{
		Kind:       domain.KindEmail,
		Principals: domain.Principals{From: []string{"clerk@superior-court.gov"}},
		Subject:    "URGENT court motion subpoena hearing deadline 2026-01-02 past due final notice annual report",
		Headers:    map[string]string{"importance": "high"},
	}
	rec := &recognize.Result{
		CaseKey:      "a_v_b",
		HasKnownCase: true,
		KnownCase:    domain.KnownCase{CanonicalName: "A_v_B", DefaultPriority: domain.LevelCritical},
	}
	cls := &domain.Classification{UrgencyHint: "CRITICAL"}

	tr := s.Score(env, rec, cls)
	if tr.UrgencyScore != 100 {
		t.Errorf("UrgencyScore = %d, want clamped to 100", tr.UrgencyScore)
	}
	if tr.UrgencyLevel != domain.LevelCritical {
		t.Errorf("UrgencyLevel = %q, want CRITICAL", tr.UrgencyLevel)
	}
}

func TestScoreRuleTable(t *testing.T) {
	tests := []struct {
		name      string
		env       *domain.Envelope
		wantScore int
		wantToken string
	}{
		{
			name:      "court term",
			env:       &domain.Envelope{Preview: "the subpoena arrived"},
			wantScore: 25,
			wantToken: "court",
		},
		{
			name:      "urgent term",
			env:       &domain.Envelope{Subject: "please respond ASAP"},
			wantScore: 20,
			wantToken: "urgent",
		},
		{
			name:      "gov sender",
			env:       &domain.Envelope{Principals: domain.Principals{From: []string{"irs@treasury.gov"}}},
			wantScore: 15,
			wantToken: "important_sender:gov",
		},
		{
			name:      "iso date",
			env:       &domain.Envelope{Preview: "due 2026-09-15"},
			wantScore: 5,
			wantToken: "contains_date",
		},
		{
			name:      "us date",
			env:       &domain.Envelope{Preview: "due 9/15/2026"},
			wantScore: 5,
			wantToken: "contains_date",
		},
		{
			name:      "x-priority header",
			env:       &domain.Envelope{Headers: map[string]string{"x-priority": "High"}},
			wantScore: 10,
			wantToken: "header_priority",
		},
		{
			name:      "compliance term",
			env:       &domain.Envelope{Preview: "reminder from the secretary of state"},
			wantScore: 10,
			wantToken: "compliance",
		},
	}

	s := NewScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := s.Score(tt.env, &recognize.Result{}, nil)
			if tr.UrgencyScore != tt.wantScore {
				t.Errorf("UrgencyScore = %d, want %d", tr.UrgencyScore, tt.wantScore)
			}
			if !tr.HasReason(tt.wantToken) {
				t.Errorf("missing %q in %v", tt.wantToken, tr.Reasons)
			}
		})
	}
}
