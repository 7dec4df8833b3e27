package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chittycc/chittyrouter/core/service/audit"
	"github.com/chittycc/chittyrouter/pkg/response"
)

// AuditHandler exposes the bounded audit rings and daily stats.
type AuditHandler struct {
	recorder *audit.Recorder
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(recorder *audit.Recorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

// Register registers audit routes.
func (h *AuditHandler) Register(app *fiber.App) {
	group := app.Group("/audit")
	group.Get("/recent", h.Recent)
	group.Get("/urgent", h.Urgent)
	group.Get("/stats", h.Stats)
}

// Recent returns the newest-first recent-log ring.
func (h *AuditHandler) Recent(c *fiber.Ctx) error {
	entries, err := h.recorder.RecentLog(c.Context())
	if err != nil {
		return response.FromAppError(c, err)
	}
	return response.OK(c, fiber.Map{"entries": entries, "count": len(entries)})
}

// Urgent returns the newest-first urgent-items ring.
func (h *AuditHandler) Urgent(c *fiber.Ctx) error {
	entries, err := h.recorder.UrgentItems(c.Context())
	if err != nil {
		return response.FromAppError(c, err)
	}
	return response.OK(c, fiber.Map{"entries": entries, "count": len(entries)})
}

// Stats returns today's counters.
func (h *AuditHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.recorder.StatsToday(c.Context())
	if err != nil {
		return response.FromAppError(c, err)
	}
	return response.OK(c, stats)
}
