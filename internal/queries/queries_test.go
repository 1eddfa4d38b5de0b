package queries_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/JaimeStill/herbtrace/internal/events"
	"github.com/JaimeStill/herbtrace/internal/eventstore"
	"github.com/JaimeStill/herbtrace/internal/profiles"
	"github.com/JaimeStill/herbtrace/internal/queries"
	"github.com/JaimeStill/herbtrace/pkg/pagination"
	"github.com/JaimeStill/herbtrace/pkg/routes"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

var pageCfg = pagination.Config{DefaultPageSize: 2, MaxPageSize: 10}

func at(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

func collection(batch string, h int, geo *events.Geo) events.Event {
	return events.NewCollection(events.NewHeader(batch, at(h)), events.CollectionEvent{
		Collector: "Ravi", Species: "Tulsi", Quality: "High", Geo: geo,
	})
}

func processing(batch string, h int) events.Event {
	return events.NewProcessing(events.NewHeader(batch, at(h)), events.ProcessingEvent{
		Facility: "Green Mill", ProcessType: "Drying",
	})
}

func quality(batch string, h int) events.Event {
	return events.NewQuality(events.NewHeader(batch, at(h)), events.QualityEvent{
		LabName: "Herb Lab", ResultStatus: "Pass",
	})
}

func anchor(e events.Event, h int) events.Event {
	return events.AnchorRecord{
		Header:      events.NewHeader(e.Meta().BatchID, at(h)),
		EventType:   e.Kind(),
		EventID:     e.Meta().ID,
		LedgerTxRef: "tx-" + e.Meta().ID,
	}
}

// seed writes B1 pending, B2 processed, B3 tested, each followed by an anchor.
func seed(t *testing.T, store eventstore.Store) {
	t.Helper()
	ctx := context.Background()

	c1 := collection("B1", 3, &events.Geo{Latitude: 28.61, Longitude: 77.20})
	c2 := collection("B2", 0, nil)
	p2 := processing("B2", 4)
	c3 := collection("B3", 1, nil)
	p3 := processing("B3", 2)
	q3 := quality("B3", 5)

	for _, e := range []events.Event{
		c1, anchor(c1, 6),
		c2, p2, anchor(p2, 7),
		c3, p3, q3, anchor(q3, 8),
	} {
		if err := store.Append(ctx, e.Meta().BatchID, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
}

func newStore(t *testing.T, indexed bool) eventstore.Store {
	t.Helper()
	fs, err := eventstore.OpenFile(filepath.Join(t.TempDir(), "batches.json"), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if indexed {
		return eventstore.NewIndex(fs)
	}
	return fs
}

func TestPendingForRole(t *testing.T) {
	for _, indexed := range []bool{false, true} {
		name := "scan"
		if indexed {
			name = "index"
		}
		t.Run(name, func(t *testing.T) {
			store := newStore(t, indexed)
			seed(t, store)
			sys := queries.New(store, slog.Default(), pageCfg)
			ctx := context.Background()

			proc, err := sys.PendingForRole(ctx, profiles.RoleProcessor)
			if err != nil {
				t.Fatal(err)
			}
			if len(proc) != 1 || proc[0].BatchID != "B1" || proc[0].Latest.Event.Kind() != events.KindCollection {
				t.Errorf("processor pending = %+v", proc)
			}

			lab, err := sys.PendingForRole(ctx, profiles.RoleLab)
			if err != nil {
				t.Fatal(err)
			}
			if len(lab) != 1 || lab[0].BatchID != "B2" || lab[0].Latest.Event.Kind() != events.KindProcessing {
				t.Errorf("lab pending = %+v", lab)
			}

			if _, err := sys.PendingForRole(ctx, profiles.RoleFarmer); !errors.Is(err, queries.ErrUnsupportedRole) {
				t.Errorf("farmer error = %v", err)
			}
		})
	}
}

func TestPendingSeesNewAppends(t *testing.T) {
	store := newStore(t, true)
	seed(t, store)
	sys := queries.New(store, slog.Default(), pageCfg)
	ctx := context.Background()

	if _, err := sys.PendingForRole(ctx, profiles.RoleProcessor); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, "B4", collection("B4", 0, nil)); err != nil {
		t.Fatal(err)
	}

	got, _ := sys.PendingForRole(ctx, profiles.RoleProcessor)
	if len(got) != 2 || got[0].BatchID != "B4" || got[1].BatchID != "B1" {
		t.Errorf("pending after append = %+v", got)
	}
}

func TestTimeline(t *testing.T) {
	store := newStore(t, false)
	seed(t, store)
	sys := queries.New(store, slog.Default(), pageCfg)

	tl, err := sys.Timeline(context.Background(), "B3")
	if err != nil {
		t.Fatal(err)
	}
	if tl.Status != events.StatusTested || len(tl.Events) != 4 {
		t.Errorf("timeline = status %q, %d events", tl.Status, len(tl.Events))
	}

	empty, err := sys.Timeline(context.Background(), "NOPE")
	if err != nil {
		t.Fatal(err)
	}
	if empty.Events == nil || len(empty.Events) != 0 || empty.Status != events.StatusUnknown {
		t.Errorf("unknown batch timeline = %+v", empty)
	}
}

func TestAllEvents(t *testing.T) {
	store := newStore(t, false)
	seed(t, store)
	sys := queries.New(store, slog.Default(), pageCfg)
	ctx := context.Background()

	all, err := sys.AllEvents(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 9 {
		t.Fatalf("AllEvents() = %d events, want 9", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Meta().RecordedAt.Before(all[i-1].Meta().RecordedAt) {
			t.Errorf("event %d out of order", i)
		}
	}

	b2 := "B2"
	one, _ := sys.AllEvents(ctx, &b2)
	if len(one) != 3 {
		t.Errorf("AllEvents(B2) = %d events, want 3", len(one))
	}

	none := "NOPE"
	empty, err := sys.AllEvents(ctx, &none)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("AllEvents(NOPE) = %v, %v", empty, err)
	}
}

func TestGeoTrail(t *testing.T) {
	store := newStore(t, false)
	seed(t, store)
	ctx := context.Background()

	ping := events.GeoEvent{
		Header: events.NewHeader("B1", at(9)),
		Role:   "processor",
		Geo:    events.Geo{Latitude: 19.07, Longitude: 72.87},
	}
	if err := store.Append(ctx, "B1", ping); err != nil {
		t.Fatal(err)
	}

	sys := queries.New(store, slog.Default(), pageCfg)
	trail, err := sys.GeoTrail(ctx, "B1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 2 {
		t.Fatalf("trail = %+v", trail)
	}
	if trail[0].Kind != events.KindCollection || trail[0].Latitude != 28.61 {
		t.Errorf("first point = %+v", trail[0])
	}
	if trail[1].Kind != events.KindGeo || trail[1].Label != "Location ping (processor)" {
		t.Errorf("second point = %+v", trail[1])
	}

	located, _ := sys.GeoTrail(ctx, "B2")
	if located == nil || len(located) != 0 {
		t.Errorf("B2 trail = %v, want empty", located)
	}
}

func TestHandler(t *testing.T) {
	store := newStore(t, false)
	seed(t, store)
	mux := http.NewServeMux()
	routes.Register(mux, queries.New(store, slog.Default(), pageCfg).Handler().Routes())

	tests := []struct {
		name string
		path string
		want int
	}{
		{"processor dashboard", "/dashboard/processor", http.StatusOK},
		{"farmer dashboard", "/dashboard/farmer", http.StatusBadRequest},
		{"timeline", "/batches/B1/timeline", http.StatusOK},
		{"trail", "/batches/B1/trail", http.StatusOK},
		{"events", "/events?page=2", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandlerEventsPage(t *testing.T) {
	store := newStore(t, false)
	seed(t, store)
	mux := http.NewServeMux()
	routes.Register(mux, queries.New(store, slog.Default(), pageCfg).Handler().Routes())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?batch_id=B3&page=2", nil))

	var page pagination.PageResult[events.Record]
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 4 || page.TotalPages != 2 || len(page.Data) != 2 {
		t.Errorf("page = total %d pages %d len %d", page.Total, page.TotalPages, len(page.Data))
	}
	if page.Data[0].Event.Kind() != events.KindQuality {
		t.Errorf("page 2 starts with %s, want quality", page.Data[0].Event.Kind())
	}
}
