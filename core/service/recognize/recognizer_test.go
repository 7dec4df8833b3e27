package recognize

import (
	"reflect"
	"testing"

	"github.com/chittycc/chittyrouter/core/domain"
)

func testTable() *domain.RouteTable {
	return &domain.RouteTable{
		KnownCases: map[string]domain.KnownCase{
			"arias-v-bianchi@chitty.cc": {
				Address:         "arias-v-bianchi@chitty.cc",
				CanonicalName:   "ARIAS_v_BIANCHI",
				ForwardTo:       "nick@chitty.cc",
				DefaultPriority: domain.LevelHigh,
			},
		},
		AddressRoutes: map[string]string{
			"legal@chitty.cc":    "nick@chitty.cc",
			"evidence@chitty.cc": "vault@chitty.cc",
		},
		DefaultRoute: "intake@chitty.cc",
	}
}

func TestExtractCaseKey(t *testing.T) {
	tests := []struct {
		addr    string
		wantKey string
		wantOK  bool
	}{
		{"arias-v-bianchi@chitty.cc", "arias_v_bianchi", true},
		{"ARIAS-V-BIANCHI@chitty.cc", "arias_v_bianchi", true},
		{"<arias-v-bianchi@chitty.cc>", "arias_v_bianchi", true},
		{"de-la-cruz-v-smith@chitty.cc", "de-la-cruz_v_smith", true},
		{"legal@chitty.cc", "", false},
		{"v-bianchi@chitty.cc", "", false},
		{"arias-v-@chitty.cc", "", false},
		{"not-an-address", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			key, ok := ExtractCaseKey(tt.addr)
			if ok != tt.wantOK || key != tt.wantKey {
				t.Errorf("ExtractCaseKey(%q) = %q, %v; want %q, %v", tt.addr, key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}
}

func TestRecognizeKnownCase(t *testing.T) {
	r := New(testTable())
	env := &domain.Envelope{
		Principals: domain.Principals{To: []string{"arias-v-bianchi@chitty.cc"}},
	}

	res := r.Recognize(env)
	if res.CaseKey != "arias_v_bianchi" {
		t.Errorf("CaseKey = %q, want arias_v_bianchi", res.CaseKey)
	}
	if !res.HasKnownCase || res.KnownCase.ForwardTo != "nick@chitty.cc" {
		t.Errorf("KnownCase = %+v, %v", res.KnownCase, res.HasKnownCase)
	}
	if want := []string{"case_address:arias_v_bianchi"}; !reflect.DeepEqual(res.Reasons, want) {
		t.Errorf("Reasons = %v, want %v", res.Reasons, want)
	}
}

func TestRecognizeToBeforeCc(t *testing.T) {
	r := New(testTable())
	env := &domain.Envelope{
		Principals: domain.Principals{
			To: []string{"smith-v-jones@chitty.cc"},
			Cc: []string{"arias-v-bianchi@chitty.cc"},
		},
	}

	res := r.Recognize(env)
	if res.CaseKey != "smith_v_jones" {
		t.Errorf("CaseKey = %q, want smith_v_jones (to wins over cc)", res.CaseKey)
	}
	// The cc case address still contributes a reason.
	want := []string{"case_address:smith_v_jones", "case_address:arias_v_bianchi"}
	if !reflect.DeepEqual(res.Reasons, want) {
		t.Errorf("Reasons = %v, want %v", res.Reasons, want)
	}
}

func TestRecognizeAddressRoute(t *testing.T) {
	r := New(testTable())
	env := &domain.Envelope{
		Principals: domain.Principals{To: []string{"Legal@chitty.cc"}},
	}

	res := r.Recognize(env)
	if !res.HasRouteTarget || res.RouteTarget != "nick@chitty.cc" {
		t.Errorf("RouteTarget = %q, %v", res.RouteTarget, res.HasRouteTarget)
	}
	if res.CaseKey != "" {
		t.Errorf("CaseKey = %q, want empty", res.CaseKey)
	}
}

func TestRecognizeEvidenceAddress(t *testing.T) {
	r := New(testTable())
	env := &domain.Envelope{
		Principals: domain.Principals{To: []string{"evidence@chitty.cc"}},
	}

	if res := r.Recognize(env); !res.EvidenceAddress {
		t.Error("EvidenceAddress should be set for evidence@ destination")
	}
}

func TestRecognizeNilTable(t *testing.T) {
	r := New(nil)
	env := &domain.Envelope{
		Principals: domain.Principals{To: []string{"arias-v-bianchi@chitty.cc"}},
	}

	res := r.Recognize(env)
	if res.CaseKey != "arias_v_bianchi" {
		t.Errorf("pattern extraction should work without a table, got %q", res.CaseKey)
	}
	if res.HasKnownCase || res.HasRouteTarget {
		t.Error("nil table should never produce table matches")
	}
}
