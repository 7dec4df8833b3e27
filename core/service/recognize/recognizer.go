// Package recognize extracts case keys and table routes from envelope
// addresses. Pure computation: no I/O, no suspension.
package recognize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chittycc/chittyrouter/core/domain"
)

// caseAddrPattern matches local parts of the form
// <plaintiff>-v-<defendant>, anchored at the start; both sides may be
// hyphenated multi-word names.
var caseAddrPattern = regexp.MustCompile(`^([a-z0-9]+(?:-[a-z0-9]+)*)-v-([a-z0-9]+(?:-[a-z0-9]+)*)$`)

// Result is the recognizer's verdict for one envelope.
type Result struct {
	// CaseKey is the canonical <plaintiff>_v_<defendant> key from the
	// first matching case address, if any.
	CaseKey string

	// KnownCase is set when the matched address appears in the
	// known-case table; it overrides generic extraction for routing but
	// never overwrites CaseKey.
	KnownCase    domain.KnownCase
	HasKnownCase bool

	// RouteTarget is the forward_to of the first address-route table
	// match, if any.
	RouteTarget    string
	HasRouteTarget bool

	// MatchedAddress is the destination address that produced the first
	// table or pattern match.
	MatchedAddress string

	// EvidenceAddress reports an evidence@ destination; it feeds
	// category selection.
	EvidenceAddress bool

	// Reasons holds one case_address token per matched case address,
	// first match first.
	Reasons []string
}

// Recognizer resolves addresses against the configured tables.
type Recognizer struct {
	table *domain.RouteTable
}

// New creates a recognizer over a route table. A nil table disables
// table lookups but keeps pattern extraction working.
func New(table *domain.RouteTable) *Recognizer {
	return &Recognizer{table: table}
}

// Recognize examines to-addresses first, then cc in list order; the
// first matching rule wins. Additional case addresses contribute reason
// tokens only.
func (r *Recognizer) Recognize(env *domain.Envelope) *Result {
	res := &Result{}

	addrs := make([]string, 0, len(env.Principals.To)+len(env.Principals.Cc))
	addrs = append(addrs, env.Principals.To...)
	addrs = append(addrs, env.Principals.Cc...)

	for _, raw := range addrs {
		addr := normalize(raw)
		if addr == "" {
			continue
		}

		if localPart(addr) == "evidence" {
			res.EvidenceAddress = true
		}

		if kc, ok := r.table.KnownCaseFor(addr); ok && !res.HasKnownCase {
			res.KnownCase = kc
			res.HasKnownCase = true
			if res.MatchedAddress == "" {
				res.MatchedAddress = addr
			}
		}

		if fwd, ok := r.table.RouteFor(addr); ok && !res.HasRouteTarget {
			res.RouteTarget = fwd
			res.HasRouteTarget = true
			if res.MatchedAddress == "" {
				res.MatchedAddress = addr
			}
		}

		if key, ok := ExtractCaseKey(addr); ok {
			if res.CaseKey == "" {
				res.CaseKey = key
				if res.MatchedAddress == "" {
					res.MatchedAddress = addr
				}
			}
			res.Reasons = append(res.Reasons, "case_address:"+key)
		}
	}

	return res
}

// ExtractCaseKey derives the canonical case key from an address local
// part of the form <plaintiff>-v-<defendant>.
func ExtractCaseKey(addr string) (string, bool) {
	local := localPart(normalize(addr))
	m := caseAddrPattern.FindStringSubmatch(local)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("%s_v_%s", m[1], m[2]), true
}

func localPart(addr string) string {
	at := strings.IndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return addr[:at]
}

func normalize(addr string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(addr), "<>"))
}
