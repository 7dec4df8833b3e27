// Package classify wraps the external Classifier capability with the
// pipeline's timeout, caching, and circuit-breaking policy. The adapter
// never fails the pipeline: on any error the zero-value classification
// is substituted and the scorer records classifier_unavailable.
package classify

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/port/out"
	"github.com/chittycc/chittyrouter/pkg/logger"
	"github.com/chittycc/chittyrouter/pkg/metrics"
)

const cacheKeyPrefix = "classify:"

// Config holds adapter settings.
type Config struct {
	// Timeout is the per-call budget.
	Timeout time.Duration

	// CacheTTL bounds how long a classification is reused for an
	// identical content hash.
	CacheTTL time.Duration
}

// DefaultConfig returns the default adapter settings.
func DefaultConfig() Config {
	return Config{
		Timeout:  2 * time.Second,
		CacheTTL: 30 * time.Minute,
	}
}

// Adapter is the pipeline-facing classifier.
type Adapter struct {
	classifier out.Classifier
	store      out.KVStore
	breaker    *gobreaker.CircuitBreaker
	cfg        Config
	counters   *metrics.Counters
	log        *logger.Logger
}

// New creates a classifier adapter. store may be nil to disable caching;
// classifier may be nil when no classifier is configured, in which case
// every call yields the unavailable fallback.
func New(classifier out.Classifier, store out.KVStore, cfg Config, counters *metrics.Counters) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Adapter{
		classifier: classifier,
		store:      store,
		breaker:    breaker,
		cfg:        cfg,
		counters:   counters,
		log:        logger.Default().WithField("component", "classify"),
	}
}

// BreakerState reports the circuit breaker state for the health and
// metrics surfaces.
func (a *Adapter) BreakerState() string {
	return a.breaker.State().String()
}

// Classify returns the classification for env, consulting the cache
// first. It always returns a non-nil result; failures are reported via
// the Unavailable flag, never as an error.
func (a *Adapter) Classify(ctx context.Context, env *domain.Envelope) *domain.Classification {
	if cached, ok := a.fromCache(ctx, env.ContentHash); ok {
		return cached
	}

	if a.classifier == nil {
		return &domain.Classification{Unavailable: true}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	result, err := a.breaker.Execute(func() (any, error) {
		return a.classifier.Classify(callCtx, env)
	})
	if err != nil {
		a.fallback(env, err)
		return &domain.Classification{Unavailable: true}
	}

	cls, ok := result.(*domain.Classification)
	if !ok || cls == nil {
		a.fallback(env, nil)
		return &domain.Classification{Unavailable: true}
	}

	a.toCache(ctx, env.ContentHash, cls)
	return cls
}

func (a *Adapter) fallback(env *domain.Envelope, err error) {
	if a.counters != nil {
		a.counters.ClassifierFallback()
	}
	a.log.WithError(err).WithField("envelope_id", env.ID).
		Warn("classifier unavailable, using zero-value classification")
}

func (a *Adapter) fromCache(ctx context.Context, contentHash string) (*domain.Classification, bool) {
	if a.store == nil || contentHash == "" {
		return nil, false
	}
	v, ok, err := a.store.Get(ctx, cacheKeyPrefix+contentHash)
	if err != nil || !ok {
		return nil, false
	}
	var cls domain.Classification
	if err := json.Unmarshal(v.Value, &cls); err != nil {
		return nil, false
	}
	return &cls, true
}

func (a *Adapter) toCache(ctx context.Context, contentHash string, cls *domain.Classification) {
	if a.store == nil || contentHash == "" {
		return
	}
	raw, err := json.Marshal(cls)
	if err != nil {
		return
	}
	// Best effort; a failed cache write only costs a future call.
	if err := a.store.Put(ctx, cacheKeyPrefix+contentHash, raw, a.cfg.CacheTTL); err != nil {
		a.log.WithError(err).Debug("classification cache write failed")
	}
}
