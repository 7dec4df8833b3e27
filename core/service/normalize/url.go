package normalize

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chittycc/chittyrouter/core/domain"
)

// urlFetchBudget caps one URL intake fetch end to end.
const urlFetchBudget = 15 * time.Second

// normalizeURL performs one GET against the submitted URL and reduces
// the response to text. Fetch failures degrade to a minimal envelope.
func (s *Service) normalizeURL(ctx context.Context, env *domain.Envelope, in *Input) string {
	target := strings.TrimSpace(string(in.Payload))
	if target == "" {
		target = strings.TrimSpace(in.Source)
	}
	if env.Source == "" {
		env.Source = target
	}

	if s.fetcher == nil || target == "" {
		env.DropReasons = append(env.DropReasons, domain.DropFetchFailed)
		env.Subject = "Untitled"
		return ""
	}

	fetchCtx, cancel := context.WithTimeout(ctx, urlFetchBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target, nil)
	if err != nil {
		env.DropReasons = append(env.DropReasons, domain.DropFetchFailed)
		env.Subject = "Untitled"
		return ""
	}

	resp, err := s.fetcher.Do(req)
	if err != nil {
		env.DropReasons = append(env.DropReasons, domain.DropFetchFailed)
		env.Subject = "Untitled"
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		env.DropReasons = append(env.DropReasons, domain.DropFetchFailed)
		env.Subject = "Untitled"
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.maxEnvelopeBytes))
	if err != nil {
		env.DropReasons = append(env.DropReasons, domain.DropFetchFailed)
		env.Subject = "Untitled"
		return ""
	}

	html := string(raw)
	if title := HTMLTitle(html); title != "" {
		env.Subject = title
	} else {
		env.Subject = "Untitled"
	}
	return StripHTML(html)
}
