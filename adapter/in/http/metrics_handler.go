package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chittycc/chittyrouter/core/service/audit"
	"github.com/chittycc/chittyrouter/core/service/classify"
	"github.com/chittycc/chittyrouter/pkg/metrics"
	"github.com/chittycc/chittyrouter/pkg/response"
)

// MetricsHandler exposes the in-process counters, stage latencies, audit
// ring lengths, today's stats, and the classifier breaker state.
type MetricsHandler struct {
	counters   *metrics.Counters
	latency    *metrics.LatencyRegistry
	recorder   *audit.Recorder
	classifier *classify.Adapter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(counters *metrics.Counters, latency *metrics.LatencyRegistry, recorder *audit.Recorder, classifier *classify.Adapter) *MetricsHandler {
	return &MetricsHandler{counters: counters, latency: latency, recorder: recorder, classifier: classifier}
}

// Register registers the metrics route.
func (h *MetricsHandler) Register(app *fiber.App) {
	app.Get("/metrics", h.Metrics)
}

// Metrics returns counters plus per-stage latency percentiles.
func (h *MetricsHandler) Metrics(c *fiber.Ctx) error {
	latencies := make(map[string]any)
	for stage, stats := range h.latency.AllStats() {
		latencies[stage] = stats.ToMap()
	}

	body := fiber.Map{
		"counters":  h.counters.Snapshot(),
		"latencies": latencies,
	}

	if h.recorder != nil {
		recent, urgent := h.recorder.RingSizes(c.Context())
		body["rings"] = fiber.Map{"recent_log": recent, "urgent_items": urgent}
		if stats, err := h.recorder.StatsToday(c.Context()); err == nil {
			body["stats_today"] = stats
		}
	}
	if h.classifier != nil {
		body["classifier_breaker"] = h.classifier.BreakerState()
	}

	return response.OK(c, body)
}
