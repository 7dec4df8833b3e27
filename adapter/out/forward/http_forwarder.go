// Package forward implements delivery to the host mail provider's
// forward API over HTTP.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/pkg/apperr"
	"github.com/chittycc/chittyrouter/pkg/httputil"
	"github.com/chittycc/chittyrouter/pkg/logger"
)

// Forwarder POSTs forward requests to the provider endpoint with bearer
// authentication. 5xx and transport errors are transient; 4xx are
// permanent and stop the retry schedule.
type Forwarder struct {
	url     string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger
}

// New creates an HTTP forwarder against the given endpoint.
func New(url, token string) *Forwarder {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "forwarder",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Forwarder{
		url:     url,
		token:   token,
		client:  httputil.NewClient(httputil.ForwarderClientConfig()),
		breaker: breaker,
		log:     logger.Default().WithField("component", "forwarder"),
	}
}

// forwardRequest is the wire shape of one delivery.
type forwardRequest struct {
	Destination string    `json:"destination"`
	EnvelopeID  string    `json:"envelope_id"`
	Kind        string    `json:"kind"`
	Source      string    `json:"source"`
	Subject     string    `json:"subject,omitempty"`
	Preview     string    `json:"preview,omitempty"`
	ContentHash string    `json:"content_hash"`
	ReceivedAt  time.Time `json:"received_at"`
	Identity    string    `json:"identity,omitempty"`
}

// Forward delivers env to destination.
func (f *Forwarder) Forward(ctx context.Context, destination string, env *domain.Envelope) error {
	if f.url == "" {
		return apperr.DependencyUnavailable("forwarder", true, nil)
	}

	body, err := json.Marshal(forwardRequest{
		Destination: destination,
		EnvelopeID:  env.ID,
		Kind:        string(env.Kind),
		Source:      env.Source,
		Subject:     env.Subject,
		Preview:     env.Preview,
		ContentHash: env.ContentHash,
		ReceivedAt:  env.ReceivedAt,
		Identity:    env.Identity,
	})
	if err != nil {
		return apperr.InternalWithError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return apperr.InternalWithError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	// Only transient failures feed the breaker; a 4xx rejection is the
	// destination's verdict, not the endpoint's health.
	var permErr error
	_, err = f.breaker.Execute(func() (any, error) {
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, apperr.DependencyUnavailable("forwarder", false, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil, nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, apperr.DependencyUnavailable("forwarder", false,
				fmt.Errorf("forward to %s: status %d", destination, resp.StatusCode))
		default:
			// Permanent: retrying a 4xx only repeats the rejection.
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			permErr = apperr.InputInvalid(
				fmt.Sprintf("forward to %s rejected: status %d: %s", destination, resp.StatusCode, detail))
			return nil, nil
		}
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return apperr.DependencyUnavailable("forwarder", false, err)
		}
		return err
	}
	return permErr
}
