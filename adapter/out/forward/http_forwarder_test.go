package forward

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/pkg/retry"
)

func testEnvelope() *domain.Envelope {
	return &domain.Envelope{
		ID:          "env-m00112233445566778899",
		Kind:        domain.KindEmail,
		ReceivedAt:  time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Source:      "counsel@example.com",
		Subject:     "Hearing notice",
		ContentHash: "abc123",
		Identity:    "chitty-id-9",
	}
}

func TestForwardSendsRequest(t *testing.T) {
	var got forwardRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	f := New(srv.URL, "secret-token")
	if err := f.Forward(context.Background(), "nick@example.com", testEnvelope()); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if auth != "Bearer secret-token" {
		t.Errorf("authorization = %q, want bearer token", auth)
	}
	if got.Destination != "nick@example.com" {
		t.Errorf("destination = %q", got.Destination)
	}
	if got.EnvelopeID != "env-m00112233445566778899" || got.Identity != "chitty-id-9" {
		t.Errorf("request = %+v, missing envelope fields", got)
	}
}

func TestForwardServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New(srv.URL, "").Forward(context.Background(), "x@example.com", testEnvelope())
	if err == nil {
		t.Fatal("expected error on 503")
	}
	var r retry.Retryable
	if !errors.As(err, &r) || !r.Transient() {
		t.Errorf("503 should be transient, got %v", err)
	}
}

func TestForwardClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown recipient", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := New(srv.URL, "").Forward(context.Background(), "x@example.com", testEnvelope())
	if err == nil {
		t.Fatal("expected error on 422")
	}
	var r retry.Retryable
	if errors.As(err, &r) && r.Transient() {
		t.Errorf("422 should be permanent, got %v", err)
	}
}

func TestForwardUnconfigured(t *testing.T) {
	err := New("", "").Forward(context.Background(), "x@example.com", testEnvelope())
	if err == nil {
		t.Fatal("expected error with no endpoint configured")
	}
}
