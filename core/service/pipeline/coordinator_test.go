package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chittycc/chittyrouter/adapter/out/store"
	"github.com/chittycc/chittyrouter/core/domain"
	"github.com/chittycc/chittyrouter/core/port/out"
	"github.com/chittycc/chittyrouter/core/service/audit"
	"github.com/chittycc/chittyrouter/core/service/classify"
	"github.com/chittycc/chittyrouter/core/service/normalize"
	"github.com/chittycc/chittyrouter/core/service/persist"
	"github.com/chittycc/chittyrouter/core/service/recognize"
	"github.com/chittycc/chittyrouter/core/service/route"
	"github.com/chittycc/chittyrouter/core/service/triage"
	"github.com/chittycc/chittyrouter/pkg/apperr"
	"github.com/chittycc/chittyrouter/pkg/envelopeid"
	"github.com/chittycc/chittyrouter/pkg/metrics"
	"github.com/chittycc/chittyrouter/pkg/ratelimit"
	"github.com/chittycc/chittyrouter/pkg/retry"
)

const courtEmail = "From: counsel@court-notices.gov\r\n" +
	"To: intake@example.com\r\n" +
	"Subject: Court hearing scheduled\r\n" +
	"Message-Id: <m1@example.com>\r\n" +
	"\r\n" +
	"The court hearing is scheduled for 2026-09-01.\r\n"

type fakeClassifier struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
	cls   *domain.Classification
}

func (f *fakeClassifier) Classify(ctx context.Context, env *domain.Envelope) (*domain.Classification, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.cls != nil {
		return f.cls, nil
	}
	return &domain.Classification{Category: "legal", UrgencyHint: "MEDIUM"}, nil
}

type fakeForwarder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeForwarder) Forward(ctx context.Context, destination string, env *domain.Envelope) error {
	f.mu.Lock()
	f.calls = append(f.calls, destination)
	f.mu.Unlock()
	return f.err
}

func (f *fakeForwarder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeIdentity struct {
	err error
}

func (f *fakeIdentity) Mint(ctx context.Context, purpose string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "chitty-id-1", nil
}

type fakeSink struct {
	name string
	mu   sync.Mutex
	puts map[string]*out.SinkObject
}

func newFakeSink(name string) *fakeSink {
	return &fakeSink{name: name, puts: make(map[string]*out.SinkObject)}
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Capabilities() out.SinkCapabilities {
	return out.SinkCapabilities{AcceptsFullContent: true, SupportsTTL: true}
}

func (f *fakeSink) Put(ctx context.Context, key string, obj *out.SinkObject) error {
	f.mu.Lock()
	f.puts[key] = obj
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) Get(ctx context.Context, key string) (*out.SinkObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj, ok := f.puts[key]; ok {
		return obj, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeSink) Head(ctx context.Context, key string) (*out.SinkHead, error) {
	return nil, errors.New("not found")
}

func (f *fakeSink) Delete(ctx context.Context, key string) error { return nil }

func (f *fakeSink) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

type testRig struct {
	co         *Coordinator
	forwarder  *fakeForwarder
	classifier *fakeClassifier
	identity   *fakeIdentity
	metadata   *fakeSink
	recorder   *audit.Recorder
	counters   *metrics.Counters
	kv         *store.MemoryStore
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()

	minter, err := envelopeid.NewMinter(1)
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}

	table := &domain.RouteTable{DefaultRoute: "nick@example.com"}
	kv := store.NewMemoryStore()
	counters := metrics.NewCounters()

	classifier := &fakeClassifier{}
	forwarder := &fakeForwarder{}
	identity := &fakeIdentity{}
	metadata := newFakeSink(domain.SinkMetadata)
	vector := newFakeSink(domain.SinkVector)
	recorder := audit.NewRecorder(kv)

	normCfg := normalize.Config{
		MaxEnvelopeBytes:   1 << 20,
		MaxAttachmentBytes: 512 << 10,
	}

	co := New(Deps{
		Normalizer: normalize.NewService(normCfg, minter, nil, nil, nil, nil),
		Recognizer: recognize.New(table),
		Scorer:     triage.NewScorer(),
		Classifier: classify.New(classifier, kv, classify.Config{Timeout: time.Second}, counters),
		Router:     route.NewEngine(table, nil),
		Persister: persist.NewManager(
			[]out.Sink{metadata, vector},
			func(domain.Kind) time.Duration { return 30 * 24 * time.Hour },
			counters,
		),
		Recorder:  recorder,
		Guard:     ratelimit.NewGuard(nil, ratelimit.DefaultLimits()),
		Forwarder: forwarder,
		Identity:  identity,
		Store:     kv,
		Counters:  counters,
		Latency:   metrics.NewLatencyRegistry(100),
	}, cfg)

	// Tests exercise failure paths; long backoffs would only slow them.
	co.retryPol = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}

	return &testRig{
		co:         co,
		forwarder:  forwarder,
		classifier: classifier,
		identity:   identity,
		metadata:   metadata,
		recorder:   recorder,
		counters:   counters,
		kv:         kv,
	}
}

func emailInput(raw string) *normalize.Input {
	return &normalize.Input{DeclaredKind: "EMAIL", Payload: []byte(raw)}
}

func TestProcessEndToEnd(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	res, err := rig.co.Process(ctx, emailInput(courtEmail))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Dropped {
		t.Fatalf("unexpectedly dropped: %s", res.DropReason)
	}
	if res.Envelope.Identity != "chitty-id-1" {
		t.Errorf("identity = %q, want chitty-id-1", res.Envelope.Identity)
	}
	if res.Triage == nil || res.Triage.UrgencyScore == 0 {
		t.Fatalf("expected a scored triage, got %+v", res.Triage)
	}
	if len(res.Decision.Destinations) != 1 || res.Decision.Destinations[0].Address != "nick@example.com" {
		t.Fatalf("destinations = %+v, want default route", res.Decision.Destinations)
	}
	if got := rig.forwarder.callCount(); got != 1 {
		t.Errorf("forwarder calls = %d, want 1", got)
	}
	if len(res.Forwards) != 1 || res.Forwards[0].Failed {
		t.Errorf("forwards = %+v, want one success", res.Forwards)
	}
	if rig.metadata.putCount() == 0 {
		t.Error("metadata sink received no writes")
	}

	entries, err := rig.recorder.RecentLog(ctx)
	if err != nil {
		t.Fatalf("RecentLog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("recent log entries = %d, want 1", len(entries))
	}
	if entries[0].EnvelopeID != res.Envelope.ID {
		t.Errorf("audit envelope id = %q, want %q", entries[0].EnvelopeID, res.Envelope.ID)
	}
	if len(entries[0].Destinations) != 1 {
		t.Errorf("audit destinations = %+v, want 1", entries[0].Destinations)
	}
}

func TestProcessDuplicateDropped(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	if _, err := rig.co.Process(ctx, emailInput(courtEmail)); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	res, err := rig.co.Process(ctx, emailInput(courtEmail))
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !res.Dropped || res.DropReason != domain.ReasonDroppedDuplicate {
		t.Fatalf("got dropped=%v reason=%q, want duplicate drop", res.Dropped, res.DropReason)
	}
	if got := rig.forwarder.callCount(); got != 1 {
		t.Errorf("forwarder calls = %d, want 1", got)
	}

	entries, err := rig.recorder.RecentLog(ctx)
	if err != nil {
		t.Fatalf("RecentLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("recent log entries = %d, want 2 (done + drop)", len(entries))
	}
	if !containsReason(entries[0].Reasons, domain.ReasonDroppedDuplicate) {
		t.Errorf("drop entry reasons = %v, want %s", entries[0].Reasons, domain.ReasonDroppedDuplicate)
	}
}

func TestProcessForwardAtMostOnce(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	// The claim record exists already, as after a crash between the
	// claim write and the pipeline result.
	envID := envelopeid.Stable("m1@example.com")
	key := fmt.Sprintf("fwd:%s:%s", envID, "nick@example.com")
	ok, err := rig.kv.PutNX(ctx, key, []byte("1"), time.Hour)
	if err != nil || !ok {
		t.Fatalf("PutNX: ok=%v err=%v", ok, err)
	}

	res, err := rig.co.Process(ctx, emailInput(courtEmail))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := rig.forwarder.callCount(); got != 0 {
		t.Errorf("forwarder calls = %d, want 0 (claim already taken)", got)
	}
	if len(res.Forwards) != 1 || res.Forwards[0].Failed {
		t.Errorf("forwards = %+v, want one non-failed skip", res.Forwards)
	}
}

func TestProcessForwardFailureRecorded(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.forwarder.err = errors.New("downstream 503")
	ctx := context.Background()

	res, err := rig.co.Process(ctx, emailInput(courtEmail))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Forwards) != 1 || !res.Forwards[0].Failed {
		t.Fatalf("forwards = %+v, want one failed", res.Forwards)
	}

	entries, err := rig.recorder.RecentLog(ctx)
	if err != nil {
		t.Fatalf("RecentLog: %v", err)
	}
	if len(entries) != 1 || !containsReason(entries[0].Reasons, domain.ReasonForwardFailed) {
		t.Errorf("audit reasons = %v, want %s", entries[0].Reasons, domain.ReasonForwardFailed)
	}
}

func TestProcessIdentityRequired(t *testing.T) {
	rig := newTestRig(t, Config{AllowAnonymous: false})
	rig.identity.err = errors.New("authority down")
	ctx := context.Background()

	_, err := rig.co.Process(ctx, emailInput(courtEmail))
	if err == nil {
		t.Fatal("expected rejection without identity")
	}
	if appErr := apperr.AsAppError(err); appErr.Code != apperr.CodeDependencyUnavailable {
		t.Errorf("code = %s, want %s", appErr.Code, apperr.CodeDependencyUnavailable)
	}
	if got := rig.forwarder.callCount(); got != 0 {
		t.Errorf("forwarder calls = %d, want 0", got)
	}

	entries, err := rig.recorder.RecentLog(ctx)
	if err != nil {
		t.Fatalf("RecentLog: %v", err)
	}
	if len(entries) != 1 || !containsReason(entries[0].Reasons, domain.ReasonIdentityUnavailable) {
		t.Errorf("audit entries = %+v, want identity_unavailable trace", entries)
	}
}

func TestProcessIdentityAnonymousFallback(t *testing.T) {
	rig := newTestRig(t, Config{AllowAnonymous: true})
	rig.identity.err = errors.New("authority down")
	ctx := context.Background()

	res, err := rig.co.Process(ctx, emailInput(courtEmail))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Envelope.Identity != "" {
		t.Errorf("identity = %q, want empty", res.Envelope.Identity)
	}
	if !containsReason(res.Envelope.DropReasons, domain.DropIdentityFailed) {
		t.Errorf("drop reasons = %v, want %s", res.Envelope.DropReasons, domain.DropIdentityFailed)
	}
	if got := rig.forwarder.callCount(); got != 1 {
		t.Errorf("forwarder calls = %d, want 1 (anonymous intake proceeds)", got)
	}
}

func TestProcessClassifierUnavailable(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.classifier.err = errors.New("model down")
	ctx := context.Background()

	res, err := rig.co.Process(ctx, emailInput(courtEmail))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Dropped {
		t.Fatalf("unexpectedly dropped: %s", res.DropReason)
	}
	if !containsReason(res.Triage.Reasons, domain.ReasonClassifierUnavailable) {
		t.Errorf("triage reasons = %v, want %s", res.Triage.Reasons, domain.ReasonClassifierUnavailable)
	}
	if got := rig.forwarder.callCount(); got != 1 {
		t.Errorf("forwarder calls = %d, want 1 (degraded triage still routes)", got)
	}
}

func TestProcessOversizeRejected(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	big := &normalize.Input{
		DeclaredKind: "TEXT",
		Payload:      []byte(strings.Repeat("x", (1<<20)+1)),
	}
	_, err := rig.co.Process(ctx, big)
	if err == nil {
		t.Fatal("expected oversize rejection")
	}
	if appErr := apperr.AsAppError(err); appErr.Code != apperr.CodeInputInvalid {
		t.Errorf("code = %s, want %s", appErr.Code, apperr.CodeInputInvalid)
	}
	if got := rig.forwarder.callCount(); got != 0 {
		t.Errorf("forwarder calls = %d, want 0", got)
	}
}

func TestProcessDeadlineDrop(t *testing.T) {
	rig := newTestRig(t, Config{Deadline: 50 * time.Millisecond})
	rig.classifier.delay = 300 * time.Millisecond
	ctx := context.Background()

	res, err := rig.co.Process(ctx, emailInput(courtEmail))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Dropped || res.DropReason != domain.ReasonDroppedTimeout {
		t.Fatalf("got dropped=%v reason=%q, want timeout drop", res.Dropped, res.DropReason)
	}
	if got := rig.forwarder.callCount(); got != 0 {
		t.Errorf("forwarder calls = %d, want 0", got)
	}

	entries, rlErr := rig.recorder.RecentLog(ctx)
	if rlErr != nil {
		t.Fatalf("RecentLog: %v", rlErr)
	}
	if len(entries) != 1 || !containsReason(entries[0].Reasons, domain.ReasonDroppedTimeout) {
		t.Errorf("audit entries = %+v, want timeout trace", entries)
	}
}

func TestProcessAdmissionBlocked(t *testing.T) {
	rig := newTestRig(t, Config{MaxInflight: 1})

	// Occupy the only slot so admission must block.
	rig.co.admission <- struct{}{}
	defer func() { <-rig.co.admission }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := rig.co.Process(ctx, emailInput(courtEmail))
	if err == nil {
		t.Fatal("expected admission timeout")
	}
	if appErr := apperr.AsAppError(err); appErr.Code != apperr.CodeDependencyTimeout {
		t.Errorf("code = %s, want %s", appErr.Code, apperr.CodeDependencyTimeout)
	}
}

func containsReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}
