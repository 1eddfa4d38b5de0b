package anchoring_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JaimeStill/herbtrace/internal/anchoring"
	"github.com/JaimeStill/herbtrace/internal/events"
	"github.com/JaimeStill/herbtrace/internal/eventstore"
	"github.com/JaimeStill/herbtrace/internal/ledger"
	"github.com/JaimeStill/herbtrace/pkg/lifecycle"
)

type fakeLedger struct {
	mu      sync.Mutex
	entries map[string][]ledger.Entry
	calls   int
	err     error
	block   bool
	panics  bool
	delay   time.Duration
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string][]ledger.Entry)}
}

func (f *fakeLedger) AddEvent(ctx context.Context, eventType, batchID, payloadJSON, ipfsHash string) (ledger.Receipt, error) {
	f.mu.Lock()
	f.calls++
	err, block, panics, delay := f.err, f.block, f.panics, f.delay
	f.mu.Unlock()

	time.Sleep(delay)

	if panics {
		panic("ledger exploded")
	}
	if block {
		<-ctx.Done()
		return ledger.Receipt{}, ctx.Err()
	}
	if err != nil {
		return ledger.Receipt{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[batchID] = append(f.entries[batchID], ledger.Entry{
		EventType: eventType, BatchID: batchID, PayloadJSON: payloadJSON, IPFSHash: ipfsHash,
	})
	return ledger.Receipt{TxID: "tx-" + batchID}, nil
}

func (f *fakeLedger) GetEvents(ctx context.Context, batchID string) ([]ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Entry{}, f.entries[batchID]...), nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc    *anchoring.Service
	store  eventstore.Store
	ledger *fakeLedger
	spans  *tracetest.SpanRecorder
	lc     *lifecycle.Coordinator
}

func setup(t *testing.T, timeout string) fixture {
	t.Helper()

	cfg := anchoring.Config{Enabled: true, Timeout: timeout}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}

	store, err := eventstore.OpenFile(filepath.Join(t.TempDir(), "batches.json"), slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	lc := lifecycle.New()
	fl := newFakeLedger()

	svc := anchoring.New(&cfg, store, fl, anchoring.NewMemoryGuard(), tp.Tracer("test"), lc, slog.Default())
	return fixture{svc: svc, store: store, ledger: fl, spans: spans, lc: lc}
}

func commitCollection(t *testing.T, s eventstore.Store, batch string) events.CollectionEvent {
	t.Helper()
	ref := "sha256:feed"
	e := events.NewCollection(events.NewHeader(batch, time.Now()), events.CollectionEvent{
		Species: "Tulsi", Quality: "High", ImageRef: &ref, SubmittedBy: "farmer1",
	})
	if err := s.Append(context.Background(), batch, e); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestSubmitAppendsAnchor(t *testing.T) {
	f := setup(t, "1s")
	ctx := context.Background()
	c := commitCollection(t, f.store, "B1")

	rec, err := f.svc.Submit(ctx, "B1", c)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.EventID != c.ID || rec.EventType != events.KindCollection || rec.LedgerTxRef != "tx-B1" {
		t.Errorf("anchor = %+v", rec)
	}

	entries, _ := f.ledger.GetEvents(ctx, "B1")
	if len(entries) != 1 || entries[0].EventType != "CollectionEvent" || entries[0].IPFSHash != "sha256:feed" {
		t.Fatalf("ledger entries = %+v", entries)
	}
	if got := anchoring.Digest([]byte(entries[0].PayloadJSON)); got != rec.PayloadDigest {
		t.Errorf("digest %s does not match ledger payload digest %s", rec.PayloadDigest, got)
	}

	seq, _ := f.store.List(ctx, "B1")
	if len(seq) != 2 || seq[1].Kind() != events.KindAnchor {
		t.Fatalf("store = %+v", seq)
	}
	if events.ProjectStatus(seq) != events.StatusPending {
		t.Error("anchor changed the derived status")
	}
}

func TestSubmitLedgerFailureIsIsolated(t *testing.T) {
	f := setup(t, "1s")
	f.ledger.err = errors.New("endorsement policy failure")
	c := commitCollection(t, f.store, "B1")

	_, err := f.svc.Submit(context.Background(), "B1", c)
	if !errors.Is(err, anchoring.ErrAnchoringFailed) {
		t.Fatalf("Submit() error = %v, want ErrAnchoringFailed", err)
	}

	seq, _ := f.store.List(context.Background(), "B1")
	if len(seq) != 1 || seq[0].Meta().ID != c.ID {
		t.Errorf("store after failure = %+v, want only the business event", seq)
	}
}

func TestSubmitTimesOut(t *testing.T) {
	f := setup(t, "50ms")
	f.ledger.block = true
	c := commitCollection(t, f.store, "B1")

	start := time.Now()
	_, err := f.svc.Submit(context.Background(), "B1", c)
	if !errors.Is(err, anchoring.ErrAnchoringFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Submit() took %v, want bounded by timeout", elapsed)
	}

	seq, _ := f.store.List(context.Background(), "B1")
	if len(seq) != 1 {
		t.Errorf("timed out attempt appended %d events", len(seq)-1)
	}
}

func TestSubmitAtMostOnce(t *testing.T) {
	f := setup(t, "1s")
	f.ledger.err = errors.New("unreachable")
	c := commitCollection(t, f.store, "B1")

	f.svc.Submit(context.Background(), "B1", c)
	f.ledger.mu.Lock()
	f.ledger.err = nil
	f.ledger.mu.Unlock()

	_, err := f.svc.Submit(context.Background(), "B1", c)
	if !errors.Is(err, anchoring.ErrAlreadyAttempted) {
		t.Errorf("second Submit() error = %v, want ErrAlreadyAttempted", err)
	}
	if n := f.ledger.callCount(); n != 1 {
		t.Errorf("ledger called %d times, want 1", n)
	}
}

func TestSubmitRejectsNonStageEvents(t *testing.T) {
	f := setup(t, "1s")
	c := commitCollection(t, f.store, "B1")

	tests := []struct {
		name  string
		event events.Event
	}{
		{"geo ping", events.GeoEvent{Header: events.NewHeader("B1", time.Now()), Geo: events.Geo{Latitude: 1, Longitude: 2}}},
		{"anchor", events.AnchorRecord{Header: events.NewHeader("B1", time.Now()), EventID: c.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), "B1", tt.event)
			if !errors.Is(err, anchoring.ErrNotAnchorable) {
				t.Errorf("Submit() error = %v, want ErrNotAnchorable", err)
			}
		})
	}
	if n := f.ledger.callCount(); n != 0 {
		t.Errorf("ledger called %d times for non-stage events", n)
	}
}

func TestSubmitRecordsSpan(t *testing.T) {
	f := setup(t, "1s")
	f.ledger.err = errors.New("down")
	c := commitCollection(t, f.store, "B1")

	f.svc.Submit(context.Background(), "B1", c)

	ended := f.spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(ended))
	}
	if ended[0].Name() != "anchoring.submit" {
		t.Errorf("span name = %q", ended[0].Name())
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("span status = %v, want error", ended[0].Status())
	}
}

func TestDispatchIsDetached(t *testing.T) {
	f := setup(t, "1s")
	c := commitCollection(t, f.store, "B1")

	f.svc.Dispatch("B1", c)
	f.lc.Drain()

	seq, _ := f.store.List(context.Background(), "B1")
	if len(seq) != 2 || seq[1].Kind() != events.KindAnchor {
		t.Errorf("store after dispatch = %+v", seq)
	}
}

func TestDispatchSwallowsFailures(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*fakeLedger)
	}{
		{"ledger error", func(l *fakeLedger) { l.err = errors.New("down") }},
		{"ledger panic", func(l *fakeLedger) { l.panics = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, "1s")
			tt.prepare(f.ledger)
			c := commitCollection(t, f.store, "B1")

			f.svc.Dispatch("B1", c)
			f.lc.Drain()

			seq, _ := f.store.List(context.Background(), "B1")
			if len(seq) != 1 {
				t.Errorf("store = %+v, want only the business event", seq)
			}
		})
	}
}

func TestShutdownWaitsForInFlightAnchoring(t *testing.T) {
	f := setup(t, "1s")
	c := commitCollection(t, f.store, "B1")

	f.svc.Dispatch("B1", c)
	if err := f.lc.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	seq, _ := f.store.List(context.Background(), "B1")
	if len(seq) > 2 {
		t.Errorf("unexpected events after shutdown: %+v", seq)
	}
}

// closingStore refuses appends once its close hook has run.
type closingStore struct {
	eventstore.Store
	closed atomic.Bool
}

func (s *closingStore) Append(ctx context.Context, batchID string, e events.Event) error {
	if s.closed.Load() {
		return errors.New("store closed")
	}
	return s.Store.Append(ctx, batchID, e)
}

func TestShutdownKeepsStoreOpenForInFlightAnchoring(t *testing.T) {
	cfg := anchoring.Config{Enabled: true, Timeout: "2s"}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	file, err := eventstore.OpenFile(filepath.Join(t.TempDir(), "batches.json"), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	store := &closingStore{Store: file}

	lc := lifecycle.New()
	lc.OnClose(func() { store.closed.Store(true) })

	fl := newFakeLedger()
	fl.delay = 50 * time.Millisecond
	svc := anchoring.New(&cfg, store, fl, anchoring.NewMemoryGuard(), sdktrace.NewTracerProvider().Tracer("test"), lc, slog.Default())

	c := commitCollection(t, store, "B1")
	svc.Dispatch("B1", c)
	for deadline := time.Now().Add(time.Second); fl.callCount() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("anchoring attempt never reached the ledger")
		}
		time.Sleep(time.Millisecond)
	}

	if err := lc.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !store.closed.Load() {
		t.Fatal("close hook did not run")
	}

	seq, _ := file.List(context.Background(), "B1")
	if len(seq) != 2 || seq[1].Kind() != events.KindAnchor {
		t.Errorf("store after shutdown = %+v, want the anchor of the in-flight attempt", seq)
	}
}

func TestDispatchAfterShutdownIsDropped(t *testing.T) {
	f := setup(t, "1s")
	c := commitCollection(t, f.store, "B1")

	if err := f.lc.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	f.svc.Dispatch("B1", c)
	f.lc.Drain()

	if got := f.ledger.callCount(); got != 0 {
		t.Errorf("ledger calls = %d, want 0", got)
	}
	seq, _ := f.store.List(context.Background(), "B1")
	if len(seq) != 1 {
		t.Errorf("store = %+v, want only the business event", seq)
	}
}

func TestVerify(t *testing.T) {
	f := setup(t, "1s")
	ctx := context.Background()

	c := commitCollection(t, f.store, "B1")
	if _, err := f.svc.Submit(ctx, "B1", c); err != nil {
		t.Fatal(err)
	}

	p := events.NewProcessing(events.NewHeader("B1", time.Now()), events.ProcessingEvent{ProcessType: "Drying"})
	f.store.Append(ctx, "B1", p)

	report, err := f.svc.Verify(ctx, "B1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.Consistent() {
		t.Errorf("report should be consistent: %+v", report)
	}
	if len(report.Verified) != 1 || report.Verified[0] != c.ID {
		t.Errorf("Verified = %v", report.Verified)
	}
	if len(report.Unanchored) != 1 || report.Unanchored[0] != p.ID {
		t.Errorf("Unanchored = %v", report.Unanchored)
	}

	f.ledger.AddEvent(ctx, "CollectionEvent", "B1", `{"forged":true}`, "")

	report, _ = f.svc.Verify(ctx, "B1")
	if report.Foreign != 1 || report.Consistent() {
		t.Errorf("forged ledger entry not reported: %+v", report)
	}
}

func TestVerifyMissingLedgerEntry(t *testing.T) {
	f := setup(t, "1s")
	ctx := context.Background()
	c := commitCollection(t, f.store, "B1")

	f.store.Append(ctx, "B1", events.AnchorRecord{
		Header:        events.NewHeader("B1", time.Now()),
		EventType:     events.KindCollection,
		EventID:       c.ID,
		PayloadDigest: "sha256:0000",
		LedgerTxRef:   "tx-unknown",
	})

	report, err := f.svc.Verify(ctx, "B1")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Missing) != 1 || len(report.Altered) != 1 {
		t.Errorf("report = %+v, want one missing and altered anchor", report)
	}
}

func TestMemoryGuard(t *testing.T) {
	g := anchoring.NewMemoryGuard()
	ctx := context.Background()

	if ok, _ := g.Claim(ctx, "e1"); !ok {
		t.Error("first claim should succeed")
	}
	if ok, _ := g.Claim(ctx, "e1"); ok {
		t.Error("second claim should fail")
	}
	if ok, _ := g.Claim(ctx, "e2"); !ok {
		t.Error("claim for another event should succeed")
	}
}

func TestConfigFinalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     anchoring.Config
		wantErr bool
	}{
		{"defaults", anchoring.Config{}, false},
		{"zero timeout", anchoring.Config{Timeout: "0s"}, true},
		{"negative concurrency", anchoring.Config{MaxConcurrent: -1}, true},
		{"unknown guard", anchoring.Config{Guard: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize(nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Finalize() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
