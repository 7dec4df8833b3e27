// Package domain holds the gateway's canonical types: the envelope every
// input normalizes into, the triage verdict, the routing decision, and
// the bounded audit records.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind tags the input variant an envelope was normalized from.
type Kind string

const (
	KindEmail Kind = "EMAIL"
	KindPDF   Kind = "PDF"
	KindVoice Kind = "VOICE"
	KindAPI   Kind = "API"
	KindJSON  Kind = "JSON"
	KindURL   Kind = "URL"
	KindSMS   Kind = "SMS"
	KindImage Kind = "IMAGE"
	KindVideo Kind = "VIDEO"
	KindText  Kind = "TEXT"
)

// Kinds lists every supported kind, in declaration order.
var Kinds = []Kind{
	KindEmail, KindPDF, KindVoice, KindAPI, KindJSON,
	KindURL, KindSMS, KindImage, KindVideo, KindText,
}

// ParseKind maps a declared kind string to a Kind, reporting whether it
// is supported. Matching is case-insensitive.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return known, true
		}
	}
	return "", false
}

const (
	// MaxSubjectChars caps the stored subject.
	MaxSubjectChars = 200

	// MaxPreviewChars caps the stored textual preview.
	MaxPreviewChars = 2000

	// Ellipsis marks a truncated subject or preview.
	Ellipsis = "…"
)

// Principals carries the RFC-5322 address lists of an email envelope.
// All four lists are empty for non-email kinds.
type Principals struct {
	From []string `json:"from,omitempty"`
	To   []string `json:"to,omitempty"`
	Cc   []string `json:"cc,omitempty"`
	Bcc  []string `json:"bcc,omitempty"`
}

// Attachment describes one enumerated attachment. Bodies are not loaded
// at normalization time; the sink manager fetches them on demand.
type Attachment struct {
	Name        string `json:"name"`
	Mime        string `json:"mime"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentHash string `json:"content_hash,omitempty"`
}

// Envelope is the canonical record every input normalizes into.
// It is immutable once the recognizer has observed it: enrichment
// (triage, routing) is attached as sibling records, never by mutation.
type Envelope struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	ReceivedAt time.Time  `json:"received_at"`
	Source     string     `json:"source"`
	Principals Principals `json:"principals"`

	Subject string `json:"subject,omitempty"`
	Preview string `json:"preview,omitempty"`

	ContentHash string `json:"content_hash"`
	SizeBytes   int64  `json:"size_bytes"`

	// Headers maps lower-cased names to their first value (email only).
	Headers map[string]string `json:"headers,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	// Identity is the opaque string minted by the id authority; empty
	// when the authority failed and anonymous intake is allowed.
	Identity string `json:"identity,omitempty"`

	// DropReasons records normalization losses (oversize attachments,
	// missing describer, parse failures). Populated before the envelope
	// freezes, so it does not violate immutability.
	DropReasons []string `json:"drop_reasons,omitempty"`

	// RetainFullContent lets the sink manager write full bodies to
	// sinks that accept them.
	RetainFullContent bool `json:"retain_full_content,omitempty"`
}

// Sender returns the first from address, or the source when the
// envelope has no principals.
func (e *Envelope) Sender() string {
	if len(e.Principals.From) > 0 {
		return e.Principals.From[0]
	}
	return e.Source
}

// SenderDomain returns the domain part of the sender address, lower-cased.
func (e *Envelope) SenderDomain() string {
	return AddressDomain(e.Sender())
}

// MessageID returns the message-id header without angle brackets, if any.
func (e *Envelope) MessageID() string {
	id := e.Headers["message-id"]
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// AddressDomain extracts the lower-cased domain of an address-like string.
func AddressDomain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.Trim(addr[at+1:], "<> "))
}

// TruncateSubject caps s at MaxSubjectChars runes, appending the
// ellipsis marker when anything was cut.
func TruncateSubject(s string) string {
	return truncateRunes(s, MaxSubjectChars)
}

// TruncatePreview caps s at MaxPreviewChars runes, appending the
// ellipsis marker when anything was cut.
func TruncatePreview(s string) string {
	return truncateRunes(s, MaxPreviewChars)
}

// TruncatePreviewTo caps s at max runes, falling back to
// MaxPreviewChars when max is not positive.
func TruncatePreviewTo(s string, max int) string {
	if max <= 0 {
		max = MaxPreviewChars
	}
	return truncateRunes(s, max)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	// The marker counts toward the cap.
	return string(runes[:max-1]) + Ellipsis
}

// HashContent returns the hex SHA-256 of the canonical body. Identical
// normalized bodies always produce identical hashes.
func HashContent(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SanitizeKeyPart replaces every character outside [A-Za-z0-9.-] with
// '-' for use in deterministic storage keys.
func SanitizeKeyPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Normalization drop reason tokens.
const (
	DropAttachmentOversize = "attachment_oversize"
	DropNoDescriber        = "no_describer"
	DropNoExtractor        = "no_extractor"
	DropNoTranscriber      = "no_transcriber"
	DropNormalizeFailed    = "normalize_failed"
	DropFetchFailed        = "fetch_failed"
	DropIdentityFailed     = "identity_unavailable"
)
