// Package metrics provides in-process pipeline counters and latency
// tracking with percentile calculations.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Pipeline Counters
// =============================================================================

// Counters accumulates pipeline outcome counts since process start.
type Counters struct {
	mu sync.RWMutex

	processed int64
	forwarded int64

	dropped    map[string]int64 // by drop reason token
	byCategory map[string]int64
	byLevel    map[string]int64

	forwardFailures      int64
	classifierFallbacks  int64
	sinkFailures         map[string]int64 // by sink name
	identityFallbacks    int64
	storageInconsistency int64
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{
		dropped:      make(map[string]int64),
		byCategory:   make(map[string]int64),
		byLevel:      make(map[string]int64),
		sinkFailures: make(map[string]int64),
	}
}

// Processed records one completed pipeline run.
func (c *Counters) Processed(category, level string) {
	c.mu.Lock()
	c.processed++
	c.byCategory[category]++
	c.byLevel[level]++
	c.mu.Unlock()
}

// Dropped records one policy drop.
func (c *Counters) Dropped(reason string) {
	c.mu.Lock()
	c.dropped[reason]++
	c.mu.Unlock()
}

// Forwarded records one successful forward.
func (c *Counters) Forwarded() {
	c.mu.Lock()
	c.forwarded++
	c.mu.Unlock()
}

// ForwardFailed records one exhausted forward.
func (c *Counters) ForwardFailed() {
	c.mu.Lock()
	c.forwardFailures++
	c.mu.Unlock()
}

// ClassifierFallback records one classifier timeout or failure that was
// replaced by the zero-value classification.
func (c *Counters) ClassifierFallback() {
	c.mu.Lock()
	c.classifierFallbacks++
	c.mu.Unlock()
}

// SinkFailed records one failed sink write.
func (c *Counters) SinkFailed(sink string) {
	c.mu.Lock()
	c.sinkFailures[sink]++
	c.mu.Unlock()
}

// IdentityFallback records one envelope processed without identity.
func (c *Counters) IdentityFallback() {
	c.mu.Lock()
	c.identityFallbacks++
	c.mu.Unlock()
}

// StorageInconsistency records one repaired read-path inconsistency.
func (c *Counters) StorageInconsistency() {
	c.mu.Lock()
	c.storageInconsistency++
	c.mu.Unlock()
}

// Snapshot returns a copy of all counters for the metrics endpoint.
func (c *Counters) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]any{
		"processed":             c.processed,
		"forwarded":             c.forwarded,
		"dropped":               copyMap(c.dropped),
		"by_category":           copyMap(c.byCategory),
		"by_level":              copyMap(c.byLevel),
		"forward_failures":      c.forwardFailures,
		"classifier_fallbacks":  c.classifierFallbacks,
		"sink_failures":         copyMap(c.sinkFailures),
		"identity_fallbacks":    c.identityFallbacks,
		"storage_inconsistency": c.storageInconsistency,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// =============================================================================
// Latency Tracker with P50/P95/P99 Percentiles
// =============================================================================

// LatencyTracker tracks stage latencies and calculates percentiles over
// a sliding sample window.
type LatencyTracker struct {
	mu         sync.RWMutex
	samples    []int64 // microseconds
	maxSamples int
	sorted     bool
}

// NewLatencyTracker creates a new latency tracker.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{
		samples:    make([]int64, 0, windowSize),
		maxSamples: windowSize,
	}
}

// Record records a latency measurement.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) >= lt.maxSamples {
		// Drop the oldest 10% to avoid shifting on every insert.
		removeCount := lt.maxSamples / 10
		if removeCount < 1 {
			removeCount = 1
		}
		lt.samples = lt.samples[removeCount:]
	}

	lt.samples = append(lt.samples, d.Microseconds())
	lt.sorted = false
}

// Stats returns latency statistics including percentiles.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) == 0 {
		return LatencyStats{}
	}

	if !lt.sorted {
		sort.Slice(lt.samples, func(i, j int) bool {
			return lt.samples[i] < lt.samples[j]
		})
		lt.sorted = true
	}

	n := len(lt.samples)
	var sum int64
	for _, v := range lt.samples {
		sum += v
	}

	return LatencyStats{
		Count: int64(n),
		Min:   time.Duration(lt.samples[0]) * time.Microsecond,
		Max:   time.Duration(lt.samples[n-1]) * time.Microsecond,
		Avg:   time.Duration(sum/int64(n)) * time.Microsecond,
		P50:   time.Duration(lt.percentile(0.50)) * time.Microsecond,
		P95:   time.Duration(lt.percentile(0.95)) * time.Microsecond,
		P99:   time.Duration(lt.percentile(0.99)) * time.Microsecond,
	}
}

// percentile requires the lock held and samples sorted.
func (lt *LatencyTracker) percentile(p float64) int64 {
	if len(lt.samples) == 0 {
		return 0
	}
	idx := int(float64(len(lt.samples)-1) * p)
	return lt.samples[idx]
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// ToMap renders the stats in milliseconds for the metrics endpoint.
func (s LatencyStats) ToMap() map[string]any {
	return map[string]any{
		"count":  s.Count,
		"min_ms": float64(s.Min.Microseconds()) / 1000,
		"max_ms": float64(s.Max.Microseconds()) / 1000,
		"avg_ms": float64(s.Avg.Microseconds()) / 1000,
		"p50_ms": float64(s.P50.Microseconds()) / 1000,
		"p95_ms": float64(s.P95.Microseconds()) / 1000,
		"p99_ms": float64(s.P99.Microseconds()) / 1000,
	}
}

// =============================================================================
// Multi-Stage Latency Registry
// =============================================================================

// Pipeline stage names tracked by the registry.
const (
	StageNormalize = "normalize"
	StageClassify  = "classify"
	StageTriage    = "triage"
	StageRoute     = "route"
	StagePersist   = "persist"
	StageForward   = "forward"
	StageTotal     = "total"
)

// LatencyRegistry manages latency trackers for multiple pipeline stages.
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

// NewLatencyRegistry creates a new latency registry.
func NewLatencyRegistry(windowSize int) *LatencyRegistry {
	return &LatencyRegistry{
		trackers: make(map[string]*LatencyTracker),
		window:   windowSize,
	}
}

// Record records a latency for the given stage.
func (r *LatencyRegistry) Record(stage string, d time.Duration) {
	r.mu.RLock()
	tracker, ok := r.trackers[stage]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if tracker, ok = r.trackers[stage]; !ok {
			tracker = NewLatencyTracker(r.window)
			r.trackers[stage] = tracker
		}
		r.mu.Unlock()
	}

	tracker.Record(d)
}

// AllStats returns latency statistics for all stages.
func (r *LatencyRegistry) AllStats() map[string]LatencyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]LatencyStats, len(r.trackers))
	for name, tracker := range r.trackers {
		result[name] = tracker.Stats()
	}
	return result
}
