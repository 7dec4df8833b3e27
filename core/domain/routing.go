package domain

import "strings"

// Tier selects which sinks are consulted and with what caching hints.
type Tier string

const (
	TierHot     Tier = "HOT"
	TierWarm    Tier = "WARM"
	TierCold    Tier = "COLD"
	TierArchive Tier = "ARCHIVE"
)

// Destination is one forward target of a routing decision.
type Destination struct {
	Address string `json:"address"`

	// PriorityBit is set when the triage level is HIGH or CRITICAL.
	PriorityBit bool `json:"priority_bit"`
}

// RoutingDecision maps one (envelope, triage) pair to destinations,
// sinks, and a storage tier. Immutable once produced.
type RoutingDecision struct {
	Destinations []Destination `json:"destinations"`

	// Sinks lists sink names to invoke, in order; the first is the
	// primary for the selected tier. May contain "none".
	Sinks []string `json:"sinks"`

	Tier Tier `json:"tier"`

	// ReasonCode is a stable string explaining the decision, e.g.
	// "known_case:ARIAS_v_BIANCHI", "default_route", "priority_critical".
	ReasonCode string `json:"reason_code"`
}

// Sink name constants. The manager resolves these against its registry.
const (
	SinkMetadata  = "metadata"
	SinkRecentLog = "recent_log"
	SinkBlob      = "blob"
	SinkVector    = "vector"
	SinkNone      = "none"
)

// KnownCase is one entry of the known-case table: an exact destination
// address bound to a canonical case with its own forward target.
type KnownCase struct {
	Address         string       `json:"address"`
	CanonicalName   string       `json:"canonical_name"`
	ForwardTo       string       `json:"forward_to"`
	DefaultPriority UrgencyLevel `json:"default_priority"`
}

// RouteTable holds the configured address routing state consulted by
// the recognizer and the routing engine.
type RouteTable struct {
	// KnownCases maps exact destination address (lower-cased) to its
	// case entry. Presence overrides generic extraction for routing but
	// never overwrites the extracted case key.
	KnownCases map[string]KnownCase

	// AddressRoutes maps exact destination address to forward_to
	// (e.g. "legal@chitty.cc" -> "nick@chitty.cc").
	AddressRoutes map[string]string

	// DefaultRoute receives everything that matches no table entry.
	DefaultRoute string
}

// KnownCaseFor returns the known-case entry for an address, if any.
func (t *RouteTable) KnownCaseFor(addr string) (KnownCase, bool) {
	if t == nil || t.KnownCases == nil {
		return KnownCase{}, false
	}
	kc, ok := t.KnownCases[normalizeAddr(addr)]
	return kc, ok
}

// RouteFor returns the explicit forward target for an address, if any.
func (t *RouteTable) RouteFor(addr string) (string, bool) {
	if t == nil || t.AddressRoutes == nil {
		return "", false
	}
	fwd, ok := t.AddressRoutes[normalizeAddr(addr)]
	return fwd, ok
}

// KnownCaseSender reports whether addr appears as a known-case sender
// (used by sink selection for blob retention).
func (t *RouteTable) KnownCaseSender(addr string) bool {
	if t == nil {
		return false
	}
	_, ok := t.KnownCases[normalizeAddr(addr)]
	return ok
}

func normalizeAddr(addr string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(addr), "<>"))
}
