package eventstore_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JaimeStill/herbtrace/internal/events"
	"github.com/JaimeStill/herbtrace/internal/eventstore"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func collection(batch string) events.CollectionEvent {
	return events.NewCollection(events.NewHeader(batch, t0), events.CollectionEvent{
		Species: "Tulsi", Quality: "High", SubmittedBy: "farmer1",
	})
}

func processing(batch string) events.ProcessingEvent {
	return events.NewProcessing(events.NewHeader(batch, t0.Add(time.Hour)), events.ProcessingEvent{
		ProcessType: "Drying", SubmittedBy: "processor1",
	})
}

func anchorOf(e events.Event) events.AnchorRecord {
	return events.AnchorRecord{
		Header:      events.NewHeader(e.Meta().BatchID, t0.Add(2*time.Hour)),
		EventType:   e.Kind(),
		EventID:     e.Meta().ID,
		LedgerTxRef: "tx",
	}
}

func openFile(t *testing.T, path string) *eventstore.FileStore {
	t.Helper()
	s, err := eventstore.OpenFile(path, slog.Default())
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	return s
}

func ids(seq []events.Event) []string {
	out := make([]string, len(seq))
	for i, e := range seq {
		out[i] = e.Meta().ID
	}
	return out
}

func TestFileAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openFile(t, filepath.Join(t.TempDir(), "batches.json"))

	c := collection("B1")
	p := processing("B1")

	for _, e := range []events.Event{c, p} {
		if err := s.Append(ctx, "B1", e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		seq, _ := s.List(ctx, "B1")
		if last := seq[len(seq)-1]; last.Meta().ID != e.Meta().ID {
			t.Fatalf("last event = %s, want %s", last.Meta().ID, e.Meta().ID)
		}
	}

	seq, _ := s.List(ctx, "B1")
	if got := ids(seq); len(got) != 2 || got[0] != c.ID || got[1] != p.ID {
		t.Errorf("List() = %v", got)
	}
}

func TestFileListUnknownBatch(t *testing.T) {
	s := openFile(t, filepath.Join(t.TempDir(), "batches.json"))

	seq, err := s.List(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if seq == nil || len(seq) != 0 {
		t.Errorf("List(unknown) = %v, want empty non-nil", seq)
	}
}

func TestFileListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := openFile(t, filepath.Join(t.TempDir(), "batches.json"))
	s.Append(ctx, "B1", collection("B1"))

	seq, _ := s.List(ctx, "B1")
	seq[0] = processing("B1")

	again, _ := s.List(ctx, "B1")
	if again[0].Kind() != events.KindCollection {
		t.Error("mutating a List result changed the store")
	}
}

func TestFilePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "batches.json")

	s := openFile(t, path)
	c := collection("B1")
	s.Append(ctx, "B1", c)
	s.Append(ctx, "B1", anchorOf(c))
	s.Append(ctx, "B2", collection("B2"))

	reopened := openFile(t, path)
	all, err := reopened.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != 2 || len(all["B1"]) != 2 || len(all["B2"]) != 1 {
		t.Fatalf("ListAll() = %v", all)
	}
	if all["B1"][1].Kind() != events.KindAnchor {
		t.Errorf("B1[1] kind = %s, want anchor", all["B1"][1].Kind())
	}
}

func TestFileCorruptStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batches.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := openFile(t, path)
	all, _ := s.ListAll(context.Background())
	if len(all) != 0 {
		t.Errorf("corrupt store should start empty, got %v", all)
	}

	entries, _ := os.ReadDir(dir)
	var preserved bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "batches.json.corrupt-") {
			preserved = true
		}
	}
	if !preserved {
		t.Error("corrupt file was not moved aside")
	}

	if err := s.Append(context.Background(), "B1", collection("B1")); err != nil {
		t.Fatalf("Append() after recovery error = %v", err)
	}
}

func TestFileAppendValidation(t *testing.T) {
	s := openFile(t, filepath.Join(t.TempDir(), "batches.json"))
	ctx := context.Background()

	if err := s.Append(ctx, "", collection("")); !errors.Is(err, eventstore.ErrInvalidBatch) {
		t.Errorf("empty batch error = %v, want ErrInvalidBatch", err)
	}
	if err := s.Append(ctx, "B1", collection("B2")); !errors.Is(err, eventstore.ErrBatchMismatch) {
		t.Errorf("mismatch error = %v, want ErrBatchMismatch", err)
	}

	all, _ := s.ListAll(ctx)
	if len(all) != 0 {
		t.Errorf("rejected appends mutated the store: %v", all)
	}
}

func TestFileAppendRollsBackOnFlushFailure(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")
	s := openFile(t, filepath.Join(dir, "batches.json"))

	c := collection("B1")
	if err := s.Append(ctx, "B1", c); err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	if err := s.Append(ctx, "B1", processing("B1")); err == nil {
		t.Fatal("expected flush failure")
	}
	if err := s.Append(ctx, "B9", collection("B9")); err == nil {
		t.Fatal("expected flush failure")
	}

	seq, _ := s.List(ctx, "B1")
	if got := ids(seq); len(got) != 1 || got[0] != c.ID {
		t.Errorf("B1 after failed append = %v, want only the collection", got)
	}
	all, _ := s.ListAll(ctx)
	if _, ok := all["B9"]; ok {
		t.Error("failed append created batch B9")
	}
}

func TestFileConcurrentAppendsLoseNothing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "batches.json")
	s := openFile(t, path)

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	for w := range writers {
		wg.Go(func() {
			batch := fmt.Sprintf("B%d", w%2)
			for range perWriter {
				if err := s.Append(ctx, batch, collection(batch)); err != nil {
					t.Errorf("Append() error = %v", err)
				}
			}
		})
	}
	wg.Wait()

	reopened := openFile(t, path)
	all, _ := reopened.ListAll(ctx)
	total := 0
	for _, seq := range all {
		total += len(seq)
	}
	if total != writers*perWriter {
		t.Errorf("persisted %d events, want %d", total, writers*perWriter)
	}
}

func TestIndexHeadsTrackAppends(t *testing.T) {
	ctx := context.Background()
	base := openFile(t, filepath.Join(t.TempDir(), "batches.json"))

	c1 := collection("B1")
	base.Append(ctx, "B1", c1)

	idx := eventstore.NewIndex(base)

	heads, err := idx.Heads(ctx)
	if err != nil {
		t.Fatalf("Heads() error = %v", err)
	}
	if h := heads["B1"]; h.Status != events.StatusPending || h.Event.Meta().ID != c1.ID {
		t.Fatalf("warm head = %+v", h)
	}

	p := processing("B1")
	idx.Append(ctx, "B1", p)
	idx.Append(ctx, "B1", anchorOf(p))
	idx.Append(ctx, "B2", collection("B2"))

	heads, _ = idx.Heads(ctx)
	if h := heads["B1"]; h.Status != events.StatusProcessed || h.Event.Meta().ID != p.ID {
		t.Errorf("B1 head = %+v, want processing", h)
	}
	if h := heads["B2"]; h.Status != events.StatusPending {
		t.Errorf("B2 head = %+v, want pending", h)
	}

	seq, _ := idx.List(ctx, "B1")
	if len(seq) != 3 {
		t.Errorf("List() through index = %d events, want 3", len(seq))
	}
}

func TestIndexIgnoresFailedAppends(t *testing.T) {
	ctx := context.Background()
	idx := eventstore.NewIndex(openFile(t, filepath.Join(t.TempDir(), "batches.json")))

	if _, err := idx.Heads(ctx); err != nil {
		t.Fatal(err)
	}
	idx.Append(ctx, "B1", collection("B2"))

	heads, _ := idx.Heads(ctx)
	if len(heads) != 0 {
		t.Errorf("heads after rejected append = %v", heads)
	}
}

func TestHeadsSkipsBatchesWithoutStages(t *testing.T) {
	c := collection("B1")
	got := eventstore.Heads(map[string][]events.Event{
		"B1": {c},
		"B2": {anchorOf(collection("B2"))},
	})
	if _, ok := got["B2"]; ok {
		t.Error("batch with only an anchor should have no head")
	}
	if got["B1"].Status != events.StatusPending {
		t.Errorf("B1 head = %+v", got["B1"])
	}
}

func TestConfigFinalize(t *testing.T) {
	var cfg eventstore.Config
	if err := cfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != eventstore.BackendFile || cfg.Path == "" {
		t.Errorf("defaults = %+v", cfg)
	}

	bad := eventstore.Config{Backend: "bolt"}
	if err := bad.Finalize(nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNewWrapsIndex(t *testing.T) {
	cfg := eventstore.Config{Path: filepath.Join(t.TempDir(), "b.json"), Index: true}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}

	s, err := eventstore.New(&cfg, nil, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := s.(eventstore.HeadIndex); !ok {
		t.Error("index enabled but store does not implement HeadIndex")
	}

	pgCfg := eventstore.Config{Backend: eventstore.BackendPostgres}
	if _, err := eventstore.New(&pgCfg, nil, slog.Default()); err == nil {
		t.Error("postgres backend without a database should fail")
	}
}
