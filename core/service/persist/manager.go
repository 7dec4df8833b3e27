// Package persist fans envelope writes out to the named sinks while
// enforcing the privacy invariants: full content only reaches sinks
// that both accept it and were asked for it, every write carries a TTL,
// and keys are deterministic.
package persist

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/port/out"
	"github.com/chittycc/chittyrouter/pkg/apperr"
	"github.com/chittycc/chittyrouter/pkg/logger"
	"github.com/chittycc/chittyrouter/pkg/metrics"
)

// MetadataDoc is the JSON document written to metadata-style sinks.
type MetadataDoc struct {
	EnvelopeID  string    `json:"envelope_id"`
	MessageID   string    `json:"message_id,omitempty"`
	Kind        string    `json:"kind"`
	From        []string  `json:"from,omitempty"`
	To          []string  `json:"to,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Preview     string    `json:"preview,omitempty"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	Category    string    `json:"category"`
	Level       string    `json:"urgency_level"`
	Score       int       `json:"urgency_score"`
	CaseKey     string    `json:"case_key,omitempty"`
	Tier        string    `json:"tier"`
	TTL         string    `json:"ttl"`
	StoredAt    time.Time `json:"stored_at"`
}

// SinkResult is one sink's outcome inside the fan-out.
type SinkResult struct {
	Sink string
	Err  error
}

// Manager owns the sink registry.
type Manager struct {
	sinks     map[string]out.Sink
	retention func(domain.Kind) time.Duration
	counters  *metrics.Counters
	log       *logger.Logger
}

// NewManager creates a manager over the given sinks. retention maps a
// kind to its write TTL and must return a positive duration.
func NewManager(sinks []out.Sink, retention func(domain.Kind) time.Duration, counters *metrics.Counters) *Manager {
	registry := make(map[string]out.Sink, len(sinks))
	for _, s := range sinks {
		registry[s.Name()] = s
	}
	return &Manager{
		sinks:     registry,
		retention: retention,
		counters:  counters,
		log:       logger.Default().WithField("component", "persist"),
	}
}

// Persist writes env to every sink the decision names. raw is the
// canonical body; it reaches a sink only when the envelope carries the
// retain flag and the sink accepts full content. The fan-out is
// parallel; the call fails only when the primary sink (first in the
// decision's list) fails.
func (m *Manager) Persist(ctx context.Context, env *domain.Envelope, tr *domain.Triage, dec *domain.RoutingDecision, raw []byte) ([]SinkResult, error) {
	ttl := m.retention(env.Kind)
	key := ObjectKey(env)
	doc := m.metadataDoc(env, tr, dec, ttl)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []SinkResult
	)

	for _, name := range dec.Sinks {
		// The recent-log ring is owned by the audit recorder, and
		// "none" is an explicit no-op.
		if name == domain.SinkRecentLog || name == domain.SinkNone {
			continue
		}
		sink, ok := m.sinks[name]
		if !ok {
			mu.Lock()
			results = append(results, SinkResult{Sink: name, Err: apperr.DependencyUnavailable(name, false, nil)})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name string, sink out.Sink) {
			defer wg.Done()
			err := m.writeOne(ctx, sink, key, env, doc, raw, ttl)
			mu.Lock()
			results = append(results, SinkResult{Sink: name, Err: err})
			mu.Unlock()
			if err != nil && m.counters != nil {
				m.counters.SinkFailed(name)
			}
		}(name, sink)
	}
	wg.Wait()

	ordered := orderResults(dec.Sinks, results)

	if primary := primarySink(dec.Sinks); primary != "" {
		for _, res := range ordered {
			if res.Sink == primary && res.Err != nil {
				return ordered, apperr.DependencyUnavailable(primary, true, res.Err)
			}
		}
	}

	m.verify(ctx, key, dec.Sinks, ordered, env, doc, raw, ttl)
	return ordered, nil
}

// writeOne builds the per-sink payload and writes it.
func (m *Manager) writeOne(ctx context.Context, sink out.Sink, key string, env *domain.Envelope, doc *MetadataDoc, raw []byte, ttl time.Duration) error {
	caps := sink.Capabilities()

	obj := &out.SinkObject{
		TTL: ttl,
		Metadata: map[string]string{
			"envelope_id":  env.ID,
			"content_hash": env.ContentHash,
			"kind":         string(env.Kind),
		},
	}
	if env.MessageID() != "" {
		obj.Metadata["message_id"] = env.MessageID()
	}
	if env.Preview != "" {
		obj.Metadata["preview"] = env.Preview
	}
	if doc.CaseKey != "" {
		obj.Metadata["case_key"] = doc.CaseKey
	}
	if !caps.SupportsTTL {
		obj.Metadata["expires_at"] = time.Now().Add(ttl).UTC().Format(time.RFC3339)
	}

	if env.RetainFullContent && caps.AcceptsFullContent && len(raw) > 0 {
		obj.Body = raw
	} else {
		obj.JSON = doc
	}

	return sink.Put(ctx, key, obj)
}

// verify compares content hashes across successful sinks and schedules
// an idempotent rewrite from the primary on mismatch.
func (m *Manager) verify(ctx context.Context, key string, order []string, results []SinkResult, env *domain.Envelope, doc *MetadataDoc, raw []byte, ttl time.Duration) {
	primary := primarySink(order)
	for _, res := range results {
		if res.Err != nil || res.Sink == primary {
			continue
		}
		sink, ok := m.sinks[res.Sink]
		if !ok {
			continue
		}
		head, err := sink.Head(ctx, key)
		if err != nil || head == nil {
			continue
		}
		if head.ContentHash != "" && head.ContentHash != env.ContentHash {
			if m.counters != nil {
				m.counters.StorageInconsistency()
			}
			repairJob := uuid.NewString()
			m.log.WithFields(map[string]any{
				"sink":        res.Sink,
				"key":         key,
				"envelope_id": env.ID,
				"repair_job":  repairJob,
			}).Warn("content hash mismatch, rewriting from primary")
			if err := m.writeOne(ctx, sink, key, env, doc, raw, ttl); err != nil {
				m.log.WithError(err).Warn("repair write %s failed for sink %s", repairJob, res.Sink)
			}
		}
	}
}

func (m *Manager) metadataDoc(env *domain.Envelope, tr *domain.Triage, dec *domain.RoutingDecision, ttl time.Duration) *MetadataDoc {
	return &MetadataDoc{
		EnvelopeID:  env.ID,
		MessageID:   env.MessageID(),
		Kind:        string(env.Kind),
		From:        env.Principals.From,
		To:          env.Principals.To,
		Subject:     domain.TruncateSubject(env.Subject),
		Preview:     env.Preview,
		ContentHash: env.ContentHash,
		SizeBytes:   env.SizeBytes,
		Category:    string(tr.Category),
		Level:       string(tr.UrgencyLevel),
		Score:       tr.UrgencyScore,
		CaseKey:     tr.CaseKey,
		Tier:        string(dec.Tier),
		TTL:         ttl.String(),
		StoredAt:    time.Now().UTC(),
	}
}

// ObjectKey returns the deterministic storage key for an envelope.
// Emails: emails/<yyyy-mm-dd>/<sanitized-message-id>.eml; other kinds
// use their kind as the leading segment and the envelope ID.
func ObjectKey(env *domain.Envelope) string {
	day := env.ReceivedAt.UTC().Format("2006-01-02")
	if env.Kind == domain.KindEmail {
		id := env.MessageID()
		if id == "" {
			id = env.ID
		}
		return fmt.Sprintf("emails/%s/%s.eml", day, domain.SanitizeKeyPart(id))
	}
	return fmt.Sprintf("%s/%s/%s", strings.ToLower(string(env.Kind)), day, domain.SanitizeKeyPart(env.ID))
}

// AttachmentKey returns the deterministic key for one attachment.
func AttachmentKey(env *domain.Envelope, att domain.Attachment) string {
	day := env.ReceivedAt.UTC().Format("2006-01-02")
	id := env.MessageID()
	if id == "" {
		id = env.ID
	}
	return fmt.Sprintf("attachments/%s/%s/%s", day, domain.SanitizeKeyPart(id), domain.SanitizeKeyPart(att.Name))
}

func primarySink(order []string) string {
	for _, name := range order {
		if name != domain.SinkRecentLog && name != domain.SinkNone {
			return name
		}
	}
	return ""
}

// orderResults returns results in the decision's sink order.
func orderResults(order []string, results []SinkResult) []SinkResult {
	byName := make(map[string]SinkResult, len(results))
	for _, r := range results {
		byName[r.Sink] = r
	}
	ordered := make([]SinkResult, 0, len(results))
	for _, name := range order {
		if r, ok := byName[name]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered
}
