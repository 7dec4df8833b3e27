// Package pipeline implements the per-item coordinator: one inbound
// item runs INGEST through DONE on a single logical task, with the
// classifier call and the scorer overlapped and joined before routing.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/port/out"
	"github.com/chittycc/chittyrouter/core/service/audit"
	"github.com/chittycc/chittyrouter/core/service/classify"
	"github.com/chittycc/chittyrouter/core/service/normalize"
	"github.com/chittycc/chittyrouter/core/service/persist"
	"github.com/chittycc/chittyrouter/core/service/recognize"
	"github.com/chittycc/chittyrouter/core/service/route"
	"github.com/chittycc/chittyrouter/core/service/triage"
	"github.com/chittycc/chittyrouter/pkg/apperr"
	"github.com/chittycc/chittyrouter/pkg/logger"
	"github.com/chittycc/chittyrouter/pkg/metrics"
	"github.com/chittycc/chittyrouter/pkg/ratelimit"
	"github.com/chittycc/chittyrouter/pkg/retry"
)

// forwardRecordTTL bounds the at-most-once forward records. It must
// outlive every retry schedule of a single pipeline run.
const forwardRecordTTL = 24 * time.Hour

// Config holds coordinator settings.
type Config struct {
	Deadline       time.Duration
	MaxInflight    int
	AllowAnonymous bool
}

// Result is the outcome of one pipeline run.
type Result struct {
	Envelope *domain.Envelope
	Triage   *domain.Triage
	Decision *domain.RoutingDecision

	SinkResults []persist.SinkResult
	Forwards    []domain.DestinationResult

	Dropped    bool
	DropReason string
}

// Coordinator drives one item through the pipeline stages.
type Coordinator struct {
	normalizer *normalize.Service
	recognizer *recognize.Recognizer
	scorer     *triage.Scorer
	classifier *classify.Adapter
	router     *route.Engine
	persister  *persist.Manager
	recorder   *audit.Recorder
	guard      *ratelimit.Guard

	forwarder out.Forwarder
	identity  out.IdAuthority
	store     out.KVStore

	cfg       Config
	retryPol  retry.Policy
	admission chan struct{}
	counters  *metrics.Counters
	latency   *metrics.LatencyRegistry
	log       *logger.Logger
}

// Deps collects the coordinator's collaborators.
type Deps struct {
	Normalizer *normalize.Service
	Recognizer *recognize.Recognizer
	Scorer     *triage.Scorer
	Classifier *classify.Adapter
	Router     *route.Engine
	Persister  *persist.Manager
	Recorder   *audit.Recorder
	Guard      *ratelimit.Guard

	Forwarder out.Forwarder
	Identity  out.IdAuthority
	Store     out.KVStore

	Counters *metrics.Counters
	Latency  *metrics.LatencyRegistry
}

// New creates a coordinator.
func New(deps Deps, cfg Config) *Coordinator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Second
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 100
	}
	return &Coordinator{
		normalizer: deps.Normalizer,
		recognizer: deps.Recognizer,
		scorer:     deps.Scorer,
		classifier: deps.Classifier,
		router:     deps.Router,
		persister:  deps.Persister,
		recorder:   deps.Recorder,
		guard:      deps.Guard,
		forwarder:  deps.Forwarder,
		identity:   deps.Identity,
		store:      deps.Store,
		cfg:        cfg,
		retryPol:   retry.DefaultPolicy(),
		admission:  make(chan struct{}, cfg.MaxInflight),
		counters:   deps.Counters,
		latency:    deps.Latency,
		log:        logger.Default().WithField("component", "pipeline"),
	}
}

// Process runs one item end to end. Boundary violations (oversize,
// unknown kind) surface as errors; everything past normalization always
// produces an audit entry, including drops and internal failures.
func (c *Coordinator) Process(ctx context.Context, in *normalize.Input) (*Result, error) {
	// Backpressure: block at admission until a slot frees up.
	select {
	case c.admission <- struct{}{}:
		defer func() { <-c.admission }()
	case <-ctx.Done():
		return nil, apperr.DependencyTimeout("admission", ctx.Err())
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	start := time.Now()
	res, err := c.run(runCtx, in)
	if c.latency != nil {
		c.latency.Record(metrics.StageTotal, time.Since(start))
	}
	return res, err
}

func (c *Coordinator) run(ctx context.Context, in *normalize.Input) (*Result, error) {
	// INGEST -> NORMALIZED
	stageStart := time.Now()
	env, body, err := c.normalizer.Normalize(ctx, in)
	if err != nil {
		return nil, err
	}
	c.record(metrics.StageNormalize, stageStart)

	if err := c.mintIdentity(ctx, env); err != nil {
		c.writeAudit(ctx, env, nil, nil, domain.ReasonIdentityUnavailable)
		return nil, err
	}

	// NORMALIZED -> RECOGNIZED
	rec := c.recognizer.Recognize(env)

	// RECOGNIZED -> DROPPED on dedup/ratelimit.
	if err := c.guard.Admit(ctx, env); err != nil {
		if apperr.IsPolicyDrop(err) {
			reason := apperr.AsAppError(err).Message
			if c.counters != nil {
				c.counters.Dropped(reason)
			}
			c.writeAudit(ctx, env, nil, nil, reason)
			return &Result{Envelope: env, Dropped: true, DropReason: reason}, nil
		}
		return nil, err
	}

	// RECOGNIZED -> (CLASSIFIED ∥ SCORED): the classifier RPC runs
	// concurrently; scoring folds the hint in at the join.
	clsCh := make(chan *domain.Classification, 1)
	go func() {
		stageStart := time.Now()
		clsCh <- c.classifier.Classify(ctx, env)
		c.record(metrics.StageClassify, stageStart)
	}()

	var cls *domain.Classification
	select {
	case cls = <-clsCh:
	case <-ctx.Done():
		if c.counters != nil {
			c.counters.Dropped(domain.ReasonDroppedTimeout)
		}
		c.writeAudit(context.WithoutCancel(ctx), env, nil, nil, domain.ReasonDroppedTimeout)
		return &Result{Envelope: env, Dropped: true, DropReason: domain.ReasonDroppedTimeout}, nil
	}

	stageStart = time.Now()
	tr := c.scorer.Score(env, rec, cls)
	c.record(metrics.StageTriage, stageStart)

	// -> DECIDED
	stageStart = time.Now()
	dec := c.router.Decide(env, tr, rec)
	c.record(metrics.StageRoute, stageStart)

	// DECIDED -> PERSISTED: advisory sink failures never block the
	// forward; a failed primary aborts this item only.
	stageStart = time.Now()
	sinkResults, persistErr := c.persister.Persist(ctx, env, tr, dec, body)
	c.record(metrics.StagePersist, stageStart)
	if persistErr != nil {
		c.writeAudit(ctx, env, tr, nil, domain.ReasonInternalError)
		return &Result{Envelope: env, Triage: tr, Decision: dec, SinkResults: sinkResults}, persistErr
	}

	// PERSISTED -> FORWARDED
	stageStart = time.Now()
	forwards := c.forwardAll(ctx, env, dec)
	c.record(metrics.StageForward, stageStart)

	// -> DONE
	c.writeAuditEntry(ctx, c.buildEntry(env, tr, forwards))
	if c.counters != nil {
		c.counters.Processed(string(tr.Category), string(tr.UrgencyLevel))
	}

	return &Result{
		Envelope:    env,
		Triage:      tr,
		Decision:    dec,
		SinkResults: sinkResults,
		Forwards:    forwards,
	}, nil
}

// mintIdentity attaches the identity string, honoring the anonymous
// intake policy on authority failure.
func (c *Coordinator) mintIdentity(ctx context.Context, env *domain.Envelope) error {
	if c.identity == nil {
		return nil
	}
	id, err := c.identity.Mint(ctx, "intake")
	if err == nil {
		env.Identity = id
		return nil
	}
	if c.counters != nil {
		c.counters.IdentityFallback()
	}
	if c.cfg.AllowAnonymous {
		env.DropReasons = append(env.DropReasons, domain.DropIdentityFailed)
		return nil
	}
	return apperr.DependencyUnavailable("id_authority", true, err)
}

// forwardAll delivers to every destination with at-most-once semantics:
// the dedup record is written before the first invocation and consulted
// before any retry schedule begins. A failed destination never blocks
// the others.
func (c *Coordinator) forwardAll(ctx context.Context, env *domain.Envelope, dec *domain.RoutingDecision) []domain.DestinationResult {
	results := make([]domain.DestinationResult, 0, len(dec.Destinations))

	for _, dst := range dec.Destinations {
		if dst.Address == "" {
			continue
		}
		res := domain.DestinationResult{Address: dst.Address}

		invoked, err := c.claimForward(ctx, env.ID, dst.Address)
		if err != nil || !invoked {
			// Already attempted in this run or the claim store is
			// down; skipping preserves at-most-once.
			if err != nil {
				res.Failed = true
			}
			results = append(results, res)
			continue
		}

		err = retry.Do(ctx, c.retryPol, func(ctx context.Context) error {
			return c.forwarder.Forward(ctx, dst.Address, env)
		})
		if err != nil {
			res.Failed = true
			if c.counters != nil {
				c.counters.ForwardFailed()
			}
			c.log.WithError(err).WithFields(map[string]any{
				"envelope_id": env.ID,
				"destination": dst.Address,
			}).Warn("forward exhausted retries")
		} else if c.counters != nil {
			c.counters.Forwarded()
		}
		results = append(results, res)
	}
	return results
}

// claimForward writes the at-most-once record for (envelope, destination).
func (c *Coordinator) claimForward(ctx context.Context, envelopeID, destination string) (bool, error) {
	if c.store == nil {
		return true, nil
	}
	key := fmt.Sprintf("fwd:%s:%s", envelopeID, destination)
	return c.store.PutNX(ctx, key, []byte("1"), forwardRecordTTL)
}

// buildEntry assembles the audit record for a completed run.
func (c *Coordinator) buildEntry(env *domain.Envelope, tr *domain.Triage, forwards []domain.DestinationResult) *domain.LogEntry {
	reasons := append([]string(nil), tr.Reasons...)
	for _, f := range forwards {
		if f.Failed {
			reasons = append(reasons, domain.ReasonForwardFailed)
			break
		}
	}
	return &domain.LogEntry{
		EnvelopeID:   env.ID,
		ReceivedAt:   env.ReceivedAt,
		Kind:         env.Kind,
		Category:     tr.Category,
		UrgencyLevel: tr.UrgencyLevel,
		Score:        tr.UrgencyScore,
		ContentHash:  env.ContentHash,
		Subject:      env.Subject,
		Destinations: forwards,
		Reasons:      reasons,
	}
}

// writeAudit records a terminal entry for drops and failures so every
// item leaves a trace, whatever its fate.
func (c *Coordinator) writeAudit(ctx context.Context, env *domain.Envelope, tr *domain.Triage, forwards []domain.DestinationResult, outcome string) {
	entry := &domain.LogEntry{
		EnvelopeID:  env.ID,
		ReceivedAt:  env.ReceivedAt,
		Kind:        env.Kind,
		ContentHash: env.ContentHash,
		Subject:     env.Subject,
		Reasons:     []string{outcome},
	}
	if tr != nil {
		entry.Category = tr.Category
		entry.UrgencyLevel = tr.UrgencyLevel
		entry.Score = tr.UrgencyScore
		entry.Reasons = append(append([]string(nil), tr.Reasons...), outcome)
	}
	entry.Destinations = forwards
	c.writeAuditEntry(ctx, entry)
}

func (c *Coordinator) writeAuditEntry(ctx context.Context, entry *domain.LogEntry) {
	if entry.Category == "" {
		entry.Category = domain.CategoryGeneral
	}
	if entry.UrgencyLevel == "" {
		entry.UrgencyLevel = domain.LevelInfo
	}
	if err := c.recorder.Record(ctx, entry); err != nil {
		c.log.WithError(err).WithField("envelope_id", entry.EnvelopeID).
			Error("audit write failed")
	}
}

func (c *Coordinator) record(stage string, start time.Time) {
	if c.latency != nil {
		c.latency.Record(stage, time.Since(start))
	}
}
