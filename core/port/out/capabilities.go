// Package out declares the outbound capability ports the pipeline
// depends on. Adapters under adapter/out implement them; the core never
// imports an adapter.
package out

import (
	"context"
	"time"

	"github.com/chittycc/chittyrouter/core/domain"
)

// Classifier is the external model-backed capability producing
// category/sentiment/urgency hints. Implementations must honor ctx
// cancellation; the adapter in core/service/classify owns the timeout
// and fallback policy.
type Classifier interface {
	Classify(ctx context.Context, env *domain.Envelope) (*domain.Classification, error)
}

// Forwarder delivers a message to one downstream recipient. Retriable
// by design; the coordinator guarantees at-most-once per
// (envelope, destination) via a dedup record written before invocation.
type Forwarder interface {
	Forward(ctx context.Context, destination string, env *domain.Envelope) error
}

// SinkCapabilities advertises what a sink can accept.
type SinkCapabilities struct {
	AcceptsFullContent bool
	SupportsTTL        bool
}

// SinkObject is the payload of one sink write.
type SinkObject struct {
	// Body holds raw bytes for blob-style writes; nil for JSON writes.
	Body []byte

	// JSON holds a document for metadata-style writes; nil for blobs.
	JSON any

	TTL      time.Duration
	Metadata map[string]string
}

// SinkHead describes a stored object without its body.
type SinkHead struct {
	Key         string
	SizeBytes   int64
	ContentHash string
	StoredAt    time.Time
	ExpiresAt   time.Time
	Metadata    map[string]string
}

// Sink is a named storage capability. Sinks that cannot express TTL
// natively must record the intended expiry in object metadata.
type Sink interface {
	Name() string
	Capabilities() SinkCapabilities

	Put(ctx context.Context, key string, obj *SinkObject) error
	Get(ctx context.Context, key string) (*SinkObject, error)
	Head(ctx context.Context, key string) (*SinkHead, error)
	Delete(ctx context.Context, key string) error
}

// IdAuthority mints opaque identity strings for envelopes. On failure
// the pipeline proceeds anonymously or rejects, per configuration.
type IdAuthority interface {
	Mint(ctx context.Context, purpose string) (string, error)
}

// PdfExtractor extracts page text from a PDF body. Optional.
type PdfExtractor interface {
	Extract(ctx context.Context, pdf []byte) (string, error)
}

// Transcriber converts audio to transcript text plus a detected
// language tag. Optional.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (text, language string, err error)
}

// VisionDescriber describes image or video content as text. Optional.
type VisionDescriber interface {
	Describe(ctx context.Context, media []byte, mime string) (string, error)
}
