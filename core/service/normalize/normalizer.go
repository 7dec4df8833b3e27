// Package normalize converts every supported input variant into the
// canonical envelope. One normalizer exists per kind; unknown kinds are
// refused at the boundary instead of propagating untyped payloads.
package normalize

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/port/out"
	"github.com/chittycc/chittyrouter/pkg/apperr"
	"github.com/chittycc/chittyrouter/pkg/envelopeid"
	"github.com/chittycc/chittyrouter/pkg/logger"
)

// Input is one raw inbound item before normalization.
type Input struct {
	// DeclaredKind is the caller-declared kind; empty triggers detection.
	DeclaredKind string

	// Source is the free-form origin: sender address, URL, endpoint.
	Source string

	ContentType string
	Filename    string

	// Payload is the raw body: MIME stream for email, bytes for
	// documents and media, the URL string for URL intake.
	Payload []byte

	// ReceivedAt defaults to now when zero.
	ReceivedAt time.Time
}

// Config bounds normalization.
type Config struct {
	MaxEnvelopeBytes   int64
	MaxAttachmentBytes int64
	RetainFullContent  bool

	// PreviewChars caps the stored preview; zero means the domain
	// default.
	PreviewChars int
}

// Service normalizes inputs. The media capabilities are optional;
// absence yields an empty body plus a drop reason.
type Service struct {
	extractor   out.PdfExtractor
	transcriber out.Transcriber
	describer   out.VisionDescriber
	fetcher     *http.Client
	minter      *envelopeid.Minter

	maxEnvelopeBytes   int64
	maxAttachmentBytes int64
	retainFullContent  bool
	previewChars       int

	log *logger.Logger
}

// NewService creates a normalizer service.
func NewService(cfg Config, minter *envelopeid.Minter, fetcher *http.Client, extractor out.PdfExtractor, transcriber out.Transcriber, describer out.VisionDescriber) *Service {
	return &Service{
		extractor:          extractor,
		transcriber:        transcriber,
		describer:          describer,
		fetcher:            fetcher,
		minter:             minter,
		maxEnvelopeBytes:   cfg.MaxEnvelopeBytes,
		maxAttachmentBytes: cfg.MaxAttachmentBytes,
		retainFullContent:  cfg.RetainFullContent,
		previewChars:       cfg.PreviewChars,
		log:                logger.Default().WithField("component", "normalize"),
	}
}

// Normalize converts in into an envelope plus its canonical body.
// It errors only on boundary violations (oversize input, unknown kind);
// internal normalization failures produce a minimal envelope with drop
// reasons so an audit entry is always written.
func (s *Service) Normalize(ctx context.Context, in *Input) (*domain.Envelope, []byte, error) {
	if int64(len(in.Payload)) > s.maxEnvelopeBytes {
		return nil, nil, apperr.InputTooLarge(int64(len(in.Payload)), s.maxEnvelopeBytes)
	}

	kind, ok := s.detect(in)
	if !ok {
		return nil, nil, apperr.UnknownKind(in.DeclaredKind)
	}

	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	env := &domain.Envelope{
		Kind:              kind,
		ReceivedAt:        receivedAt,
		Source:            in.Source,
		RetainFullContent: s.retainFullContent,
	}

	var body string
	switch kind {
	case domain.KindEmail:
		body = s.normalizeEmail(env, in.Payload)
	case domain.KindPDF:
		body = s.normalizePDF(ctx, env, in.Payload)
	case domain.KindVoice:
		body = s.normalizeVoice(ctx, env, in.Payload)
	case domain.KindURL:
		body = s.normalizeURL(ctx, env, in)
	case domain.KindJSON, domain.KindAPI:
		body = normalizeJSON(env, in.Payload)
	case domain.KindImage, domain.KindVideo:
		body = s.normalizeMedia(ctx, env, in)
	default: // SMS, TEXT
		body = string(in.Payload)
	}

	canonical := []byte(body)
	env.Preview = domain.TruncatePreviewTo(body, s.previewChars)
	env.Subject = domain.TruncateSubject(env.Subject)
	env.ContentHash = domain.HashContent(canonical)
	env.SizeBytes = int64(len(in.Payload))

	id, err := s.minter.Mint(env.MessageID())
	if err != nil {
		return nil, nil, apperr.InternalWithError(err)
	}
	env.ID = id

	return env, canonical, nil
}

// detect resolves the input's kind: declared kind, then content type,
// then file extension, then URL prefix, then email header sniffing,
// then JSON shape, else TEXT.
func (s *Service) detect(in *Input) (domain.Kind, bool) {
	if in.DeclaredKind != "" {
		return domain.ParseKind(in.DeclaredKind)
	}

	if kind, ok := kindForContentType(in.ContentType); ok {
		return kind, true
	}
	if kind, ok := kindForExtension(in.Filename); ok {
		return kind, true
	}

	payload := strings.TrimSpace(string(in.Payload))
	if strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		return domain.KindURL, true
	}
	if looksLikeEmail(payload) {
		return domain.KindEmail, true
	}
	if strings.HasPrefix(payload, "{") && json.Valid(in.Payload) {
		return domain.KindJSON, true
	}
	return domain.KindText, true
}

func kindForContentType(ct string) (domain.Kind, bool) {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	switch {
	case ct == "message/rfc822":
		return domain.KindEmail, true
	case ct == "application/pdf":
		return domain.KindPDF, true
	case ct == "application/json":
		return domain.KindJSON, true
	case strings.HasPrefix(ct, "audio/"):
		return domain.KindVoice, true
	case strings.HasPrefix(ct, "image/"):
		return domain.KindImage, true
	case strings.HasPrefix(ct, "video/"):
		return domain.KindVideo, true
	}
	return "", false
}

func kindForExtension(filename string) (domain.Kind, bool) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".eml":
		return domain.KindEmail, true
	case ".pdf":
		return domain.KindPDF, true
	case ".wav", ".mp3", ".m4a", ".ogg":
		return domain.KindVoice, true
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return domain.KindImage, true
	case ".mp4", ".mov", ".webm":
		return domain.KindVideo, true
	case ".json":
		return domain.KindJSON, true
	case ".txt":
		return domain.KindText, true
	}
	return "", false
}

// looksLikeEmail sniffs for RFC-5322 header lines near the top.
func looksLikeEmail(payload string) bool {
	head := payload
	if len(head) > 2048 {
		head = head[:2048]
	}
	lower := strings.ToLower(head)
	var hits int
	for _, h := range []string{"from:", "to:", "subject:"} {
		if strings.HasPrefix(lower, h) || strings.Contains(lower, "\n"+h) {
			hits++
		}
	}
	return hits >= 2
}

func (s *Service) normalizePDF(ctx context.Context, env *domain.Envelope, payload []byte) string {
	if s.extractor == nil {
		env.DropReasons = append(env.DropReasons, domain.DropNoExtractor)
		return ""
	}
	text, err := s.extractor.Extract(ctx, payload)
	if err != nil {
		env.DropReasons = append(env.DropReasons, domain.DropNormalizeFailed)
		return ""
	}
	return text
}

func (s *Service) normalizeVoice(ctx context.Context, env *domain.Envelope, payload []byte) string {
	if s.transcriber == nil {
		env.DropReasons = append(env.DropReasons, domain.DropNoTranscriber)
		return ""
	}
	text, language, err := s.transcriber.Transcribe(ctx, payload)
	if err != nil {
		env.DropReasons = append(env.DropReasons, domain.DropNormalizeFailed)
		return ""
	}
	if language != "" {
		if env.Headers == nil {
			env.Headers = make(map[string]string)
		}
		env.Headers["x-language"] = language
	}
	return text
}

func (s *Service) normalizeMedia(ctx context.Context, env *domain.Envelope, in *Input) string {
	if s.describer == nil {
		env.DropReasons = append(env.DropReasons, domain.DropNoDescriber)
		return ""
	}
	text, err := s.describer.Describe(ctx, in.Payload, in.ContentType)
	if err != nil {
		env.DropReasons = append(env.DropReasons, domain.DropNormalizeFailed)
		return ""
	}
	return text
}

// normalizeJSON re-encodes the payload canonically (sorted keys) and
// derives the subject from the declared data type.
func normalizeJSON(env *domain.Envelope, payload []byte) string {
	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		env.DropReasons = append(env.DropReasons, domain.DropNormalizeFailed)
		env.Subject = string(env.Kind) + ":unknown"
		return string(payload)
	}

	dataType := "unknown"
	if obj, ok := data.(map[string]any); ok {
		if t, ok := obj["type"].(string); ok && t != "" {
			dataType = t
		}
	}
	env.Subject = fmt.Sprintf("%s:%s", env.Kind, dataType)

	canonical, err := json.Marshal(data)
	if err != nil {
		env.DropReasons = append(env.DropReasons, domain.DropNormalizeFailed)
		return string(payload)
	}
	return string(canonical)
}
