// Package http provides the gateway's inbound HTTP handlers.
package http

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/service/normalize"
	"github.com/chittycc/chittyrouter/core/service/pipeline"
	"github.com/chittycc/chittyrouter/pkg/response"
)

// IntakeHandler accepts inbound items of every supported kind and runs
// them through the pipeline synchronously.
type IntakeHandler struct {
	pipeline *pipeline.Coordinator
}

// NewIntakeHandler creates a new IntakeHandler.
func NewIntakeHandler(p *pipeline.Coordinator) *IntakeHandler {
	return &IntakeHandler{pipeline: p}
}

// Register registers intake routes.
func (h *IntakeHandler) Register(app *fiber.App) {
	app.Post("/intake", h.Intake)
	app.Get("/intake/health", h.IntakeHealth)
}

// intakeResult is the caller-facing summary of one processed item.
type intakeResult struct {
	ID          string          `json:"id,omitempty"`
	Kind        string          `json:"kind,omitempty"`
	Identity    string          `json:"identity,omitempty"`
	Attribution string          `json:"attribution,omitempty"`
	Storage     *storageSummary `json:"storage,omitempty"`
	Routing     *routingSummary `json:"routing,omitempty"`
	DropReasons []string        `json:"drop_reasons,omitempty"`
	Dropped     bool            `json:"dropped,omitempty"`
	DropReason  string          `json:"drop_reason,omitempty"`
	Timestamp   string          `json:"timestamp"`
}

type storageSummary struct {
	Tier  string   `json:"tier"`
	Sinks []string `json:"sinks"`
}

type routingSummary struct {
	Destinations []string `json:"destinations"`
	Category     string   `json:"category"`
	UrgencyLevel string   `json:"urgency_level"`
	UrgencyScore int      `json:"urgency_score"`
}

// intakeRequest is the JSON intake envelope: the payload under input,
// with optional declarations under options.
type intakeRequest struct {
	Input   json.RawMessage `json:"input"`
	Options struct {
		Kind        string `json:"kind"`
		Source      string `json:"source"`
		ContentType string `json:"content_type"`
		Filename    string `json:"filename"`
	} `json:"options"`
}

// Intake handles POST /intake. A JSON body carrying an input field is
// treated as the intake envelope; any other body is the raw payload,
// with the kind declared via the X-Chitty-Kind header or the kind
// query parameter and otherwise detected.
func (h *IntakeHandler) Intake(c *fiber.Ctx) error {
	declaredKind := c.Get("X-Chitty-Kind")
	if declaredKind == "" {
		declaredKind = c.Query("kind")
	}

	in := &normalize.Input{
		DeclaredKind: declaredKind,
		Source:       c.Query("source"),
		ContentType:  c.Get(fiber.HeaderContentType),
		Filename:     c.Query("filename"),
		Payload:      append([]byte(nil), c.Body()...),
		ReceivedAt:   time.Now().UTC(),
	}

	if strings.Contains(in.ContentType, "application/json") {
		var req intakeRequest
		if err := json.Unmarshal(in.Payload, &req); err == nil && len(req.Input) > 0 {
			in.Payload = unwrapInput(req.Input)
			if req.Options.Kind != "" {
				in.DeclaredKind = req.Options.Kind
			}
			if req.Options.Source != "" {
				in.Source = req.Options.Source
			}
			if req.Options.ContentType != "" {
				in.ContentType = req.Options.ContentType
			}
			if req.Options.Filename != "" {
				in.Filename = req.Options.Filename
			}
		}
	}

	res, err := h.pipeline.Process(c.Context(), in)
	if err != nil {
		return response.FromAppError(c, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	if res.Dropped {
		return c.JSON(intakeResult{
			ID:         envelopeID(res),
			Dropped:    true,
			DropReason: res.DropReason,
			Timestamp:  now,
		})
	}

	out := intakeResult{
		ID:          res.Envelope.ID,
		Kind:        string(res.Envelope.Kind),
		Identity:    res.Envelope.Identity,
		Attribution: res.Triage.CaseKey,
		Storage: &storageSummary{
			Tier:  string(res.Decision.Tier),
			Sinks: res.Decision.Sinks,
		},
		Routing: &routingSummary{
			Category:     string(res.Triage.Category),
			UrgencyLevel: string(res.Triage.UrgencyLevel),
			UrgencyScore: res.Triage.UrgencyScore,
		},
		DropReasons: res.Envelope.DropReasons,
		Timestamp:   now,
	}
	for _, f := range res.Forwards {
		out.Routing.Destinations = append(out.Routing.Destinations, f.Address)
	}
	return c.JSON(out)
}

// IntakeHealth reports the intake surface and its supported kinds;
// readiness of the backing stores is the health handler's concern.
func (h *IntakeHandler) IntakeHealth(c *fiber.Ctx) error {
	kinds := make([]string, 0, len(domain.Kinds))
	for _, k := range domain.Kinds {
		kinds = append(kinds, string(k))
	}
	return c.JSON(fiber.Map{
		"status":         "ok",
		"supportedTypes": kinds,
		"version":        gatewayVersion,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// unwrapInput returns the payload bytes for an intake envelope input:
// JSON strings become their text, everything else stays JSON.
func unwrapInput(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return []byte(raw)
}

func envelopeID(res *pipeline.Result) string {
	if res.Envelope != nil {
		return res.Envelope.ID
	}
	return ""
}
