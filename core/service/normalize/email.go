package normalize

import (
	"bytes"
	"io"
	"net/mail"
	"strings"

	"github.com/emersion/go-message"

	"github.com/chittycc/chittyrouter/core/domain"
)

// normalizeEmail parses a raw MIME stream into the envelope: headers,
// principals, subject, textual body, and the attachment inventory.
// Parse failures degrade to a minimal envelope; they never abort the
// pipeline.
func (s *Service) normalizeEmail(env *domain.Envelope, raw []byte) string {
	parsed, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		env.DropReasons = append(env.DropReasons, domain.DropNormalizeFailed)
		return ""
	}

	env.Headers = headerMap(parsed.Header)
	env.Principals = domain.Principals{
		From: parseAddresses(parsed.Header.Get("From")),
		To:   parseAddresses(parsed.Header.Get("To")),
		Cc:   parseAddresses(parsed.Header.Get("Cc")),
		Bcc:  parseAddresses(parsed.Header.Get("Bcc")),
	}
	env.Subject = env.Headers["subject"]
	if len(env.Principals.From) > 0 {
		env.Source = env.Principals.From[0]
	}

	var walk partWalk
	s.walkEntity(parsed, &walk, env)

	// text/plain parts win; the first text/html part is the fallback.
	if len(walk.plain) > 0 {
		return strings.Join(walk.plain, "\n")
	}
	return StripHTML(walk.html)
}

// partWalk accumulates body candidates across MIME parts.
type partWalk struct {
	plain []string
	html  string
}

func (s *Service) walkEntity(ent *message.Entity, walk *partWalk, env *domain.Envelope) {
	if mr := ent.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return
			}
			if err != nil {
				env.DropReasons = append(env.DropReasons, domain.DropNormalizeFailed)
				return
			}
			s.walkEntity(part, walk, env)
		}
	}

	disp, dispParams, _ := ent.Header.ContentDisposition()
	contentType, ctParams, _ := ent.Header.ContentType()

	filename := dispParams["filename"]
	if filename == "" {
		filename = ctParams["name"]
	}

	if disp == "attachment" || (filename != "" && disp != "inline") {
		s.recordAttachment(ent, filename, contentType, env)
		return
	}

	switch {
	case contentType == "text/plain" || contentType == "":
		if text, err := io.ReadAll(ent.Body); err == nil {
			walk.plain = append(walk.plain, strings.TrimRight(string(text), "\r\n"))
		}
	case contentType == "text/html" && walk.html == "":
		if text, err := io.ReadAll(ent.Body); err == nil {
			walk.html = string(text)
		}
	}
}

// recordAttachment enumerates an attachment without retaining its body.
// Oversize attachments are dropped with a reason.
func (s *Service) recordAttachment(ent *message.Entity, filename, contentType string, env *domain.Envelope) {
	// The part is read to size and hash it; the bytes are discarded
	// afterwards, blob writes re-read from the raw message on demand.
	body, err := io.ReadAll(ent.Body)
	if err != nil {
		env.DropReasons = append(env.DropReasons, domain.DropNormalizeFailed)
		return
	}
	if int64(len(body)) > s.maxAttachmentBytes {
		env.DropReasons = append(env.DropReasons, domain.DropAttachmentOversize)
		return
	}
	env.Attachments = append(env.Attachments, domain.Attachment{
		Name:        filename,
		Mime:        contentType,
		SizeBytes:   int64(len(body)),
		ContentHash: domain.HashContent(body),
	})
}

// headerMap lowers header names and keeps the first value of each.
func headerMap(h message.Header) map[string]string {
	headers := make(map[string]string)
	fields := h.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		if _, ok := headers[key]; ok {
			continue
		}
		if text, err := fields.Text(); err == nil {
			headers[key] = text
		} else {
			headers[key] = fields.Value()
		}
	}
	return headers
}

func parseAddresses(value string) []string {
	if value == "" {
		return nil
	}
	parsed, err := mail.ParseAddressList(value)
	if err != nil {
		// Keep the raw value rather than lose the principal entirely.
		return []string{strings.TrimSpace(value)}
	}
	addrs := make([]string, 0, len(parsed))
	for _, a := range parsed {
		addrs = append(addrs, a.Address)
	}
	return addrs
}
