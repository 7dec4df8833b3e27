// Package mail adapts inbound mail events from the host platform into
// pipeline runs.
package mail

import (
	"context"

	"github.com/chittycc/chittyrouter/core/service/normalize"
	"github.com/chittycc/chittyrouter/core/service/pipeline"
	"github.com/chittycc/chittyrouter/pkg/apperr"
	"github.com/chittycc/chittyrouter/pkg/logger"
)

// Message is one inbound mail event. The host platform acknowledges the
// message when Handle returns nil; SetReject asks it to bounce instead.
type Message interface {
	From() string
	To() string
	Header(name string) string
	Raw() ([]byte, error)
	Reply(subject, body string) error
	SetReject(reason string)
}

// Config holds mail ingress settings.
type Config struct {
	// AutoAck sends an acknowledgment reply after a successful,
	// non-dropped run.
	AutoAck        bool
	AutoAckSubject string
}

// Handler runs inbound mail through the pipeline.
type Handler struct {
	pipeline *pipeline.Coordinator
	cfg      Config
	log      *logger.Logger
}

// NewHandler creates a mail handler.
func NewHandler(p *pipeline.Coordinator, cfg Config) *Handler {
	return &Handler{
		pipeline: p,
		cfg:      cfg,
		log:      logger.Default().WithField("component", "mail"),
	}
}

// Handle processes one mail event. Boundary violations bounce the
// message; transient failures return an error so the platform redelivers.
func (h *Handler) Handle(ctx context.Context, msg Message) error {
	raw, err := msg.Raw()
	if err != nil {
		msg.SetReject("unreadable message")
		return nil
	}

	in := &normalize.Input{
		DeclaredKind: "EMAIL",
		Source:       msg.From(),
		Payload:      raw,
	}

	res, err := h.pipeline.Process(ctx, in)
	if err != nil {
		if appErr := apperr.AsAppError(err); appErr.Code == apperr.CodeInputInvalid {
			msg.SetReject(appErr.Message)
			return nil
		}
		return err
	}

	if res.Dropped {
		h.log.WithFields(map[string]any{
			"from":   msg.From(),
			"reason": res.DropReason,
		}).Debug("inbound mail dropped by policy")
		return nil
	}

	if h.cfg.AutoAck {
		if err := msg.Reply(h.cfg.AutoAckSubject, "Your message has been received and routed."); err != nil {
			// The run already succeeded; an ack failure must not
			// trigger redelivery.
			h.log.WithError(err).Warn("auto-ack reply failed")
		}
	}
	return nil
}
