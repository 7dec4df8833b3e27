// Package route turns an (envelope, triage) pair into a routing
// decision: destinations, storage tier, and sink list. Pure computation.
package route

import (
	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/service/recognize"
)

// Tier retention thresholds, in days.
const (
	coldRetentionDays = 365
	warmRetentionDays = 90
)

// Engine resolves destinations against the route table and selects
// tier and sinks.
type Engine struct {
	table     *domain.RouteTable
	retention map[domain.Kind]int // days per kind
}

// NewEngine creates a routing engine.
func NewEngine(table *domain.RouteTable, retentionDays map[domain.Kind]int) *Engine {
	return &Engine{table: table, retention: retentionDays}
}

// Decide produces the routing decision for one envelope.
func (e *Engine) Decide(env *domain.Envelope, tr *domain.Triage, rec *recognize.Result) *domain.RoutingDecision {
	if rec == nil {
		rec = &recognize.Result{}
	}

	priority := tr.UrgencyLevel.Urgent()
	address, reason := e.resolve(tr, rec)

	return &domain.RoutingDecision{
		Destinations: []domain.Destination{{Address: address, PriorityBit: priority}},
		Sinks:        e.selectSinks(env, rec),
		Tier:         e.selectTier(env, tr),
		ReasonCode:   reason,
	}
}

// resolve picks the forward target: known-case entry first, then the
// address-route table, then the configured default.
func (e *Engine) resolve(tr *domain.Triage, rec *recognize.Result) (address, reason string) {
	switch {
	case rec.HasKnownCase:
		return rec.KnownCase.ForwardTo, "known_case:" + rec.KnownCase.CanonicalName
	case rec.HasRouteTarget:
		return rec.RouteTarget, "address_route"
	case tr.UrgencyLevel == domain.LevelCritical:
		return e.defaultRoute(), "priority_critical"
	default:
		return e.defaultRoute(), "default_route"
	}
}

func (e *Engine) defaultRoute() string {
	if e.table == nil {
		return ""
	}
	return e.table.DefaultRoute
}

// selectTier maps urgency and retention onto the storage tier. Urgent
// items are HOT regardless of retention; otherwise longer-lived kinds
// land in colder tiers.
func (e *Engine) selectTier(env *domain.Envelope, tr *domain.Triage) domain.Tier {
	if tr.UrgencyLevel.Urgent() {
		return domain.TierHot
	}

	days := e.retention[env.Kind]
	switch {
	case days >= coldRetentionDays:
		return domain.TierCold
	case days >= warmRetentionDays:
		return domain.TierWarm
	default:
		return domain.TierArchive
	}
}

// selectSinks builds the ordered sink list; the first entry is the
// primary for the selected tier.
func (e *Engine) selectSinks(env *domain.Envelope, rec *recognize.Result) []string {
	sinks := []string{domain.SinkMetadata, domain.SinkRecentLog}

	if wantsBlob(env.Kind) || e.table.KnownCaseSender(env.Sender()) {
		sinks = append(sinks, domain.SinkBlob)
	}
	if env.Preview != "" {
		sinks = append(sinks, domain.SinkVector)
	}
	return sinks
}

func wantsBlob(kind domain.Kind) bool {
	switch kind {
	case domain.KindPDF, domain.KindImage, domain.KindVideo, domain.KindVoice:
		return true
	}
	return false
}
