// Package queries provides the read side over the batch event logs: pending
// work per role, provenance timelines and geo trails.
package queries

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/JaimeStill/herbtrace/internal/events"
	"github.com/JaimeStill/herbtrace/internal/eventstore"
	"github.com/JaimeStill/herbtrace/internal/profiles"
	"github.com/JaimeStill/herbtrace/pkg/pagination"
)

// Pending is a batch awaiting work together with the stage event that put it there.
type Pending struct {
	BatchID   string        `json:"batchId"`
	Status    events.Status `json:"status"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Latest    events.Record `json:"latest"`
}

// Timeline is the full log of one batch with its derived status.
type Timeline struct {
	BatchID string          `json:"batchId"`
	Status  events.Status   `json:"status"`
	Events  []events.Record `json:"events"`
}

// GeoPoint is one located event of a batch trail.
type GeoPoint struct {
	Latitude   float64     `json:"latitude"`
	Longitude  float64     `json:"longitude"`
	Label      string      `json:"label"`
	Kind       events.Kind `json:"kind"`
	RecordedAt time.Time   `json:"recordedAt"`
}

// System defines the read operations over the event store.
type System interface {
	Handler() *Handler

	PendingForRole(ctx context.Context, role profiles.Role) ([]Pending, error)
	Timeline(ctx context.Context, batchID string) (Timeline, error)
	AllEvents(ctx context.Context, batchID *string) ([]events.Event, error)
	GeoTrail(ctx context.Context, batchID string) ([]GeoPoint, error)
}

type service struct {
	store      eventstore.Store
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates the query system. When store implements eventstore.HeadIndex
// pending lists are served from it instead of a full scan.
func New(store eventstore.Store, logger *slog.Logger, pagination pagination.Config) System {
	return &service{
		store:      store,
		logger:     logger.With("system", "queries"),
		pagination: pagination,
	}
}

func (s *service) Handler() *Handler {
	return NewHandler(s, s.logger, s.pagination)
}

func (s *service) PendingForRole(ctx context.Context, role profiles.Role) ([]Pending, error) {
	var want events.Status
	switch role {
	case profiles.RoleProcessor:
		want = events.StatusPending
	case profiles.RoleLab:
		want = events.StatusProcessed
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRole, role)
	}

	heads, err := s.heads(ctx)
	if err != nil {
		return nil, err
	}

	out := []Pending{}
	for _, h := range heads {
		if h.Status != want {
			continue
		}
		out = append(out, Pending{
			BatchID:   h.BatchID,
			Status:    h.Status,
			UpdatedAt: h.Event.Meta().RecordedAt,
			Latest:    events.Record{Event: h.Event},
		})
	}

	slices.SortFunc(out, func(a, b Pending) int {
		return cmp.Or(a.UpdatedAt.Compare(b.UpdatedAt), cmp.Compare(a.BatchID, b.BatchID))
	})
	return out, nil
}

func (s *service) heads(ctx context.Context) (map[string]eventstore.Head, error) {
	if idx, ok := s.store.(eventstore.HeadIndex); ok {
		return idx.Heads(ctx)
	}
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return eventstore.Heads(all), nil
}

func (s *service) Timeline(ctx context.Context, batchID string) (Timeline, error) {
	seq, err := s.store.List(ctx, batchID)
	if err != nil {
		return Timeline{}, err
	}
	return Timeline{
		BatchID: batchID,
		Status:  events.ProjectStatus(seq),
		Events:  events.Records(seq),
	}, nil
}

// AllEvents flattens one batch (when batchID is set) or every batch into a
// single sequence ordered by RecordedAt. Ties keep log order, with batches
// visited in id order.
func (s *service) AllEvents(ctx context.Context, batchID *string) ([]events.Event, error) {
	var out []events.Event

	if batchID != nil {
		seq, err := s.store.List(ctx, *batchID)
		if err != nil {
			return nil, err
		}
		out = slices.Clone(seq)
	} else {
		all, err := s.store.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range slices.Sorted(maps.Keys(all)) {
			out = append(out, all[id]...)
		}
	}

	if out == nil {
		out = []events.Event{}
	}
	slices.SortStableFunc(out, func(a, b events.Event) int {
		return a.Meta().RecordedAt.Compare(b.Meta().RecordedAt)
	})
	return out, nil
}

// GeoTrail returns the located events of batchID in log order.
func (s *service) GeoTrail(ctx context.Context, batchID string) ([]GeoPoint, error) {
	seq, err := s.store.List(ctx, batchID)
	if err != nil {
		return nil, err
	}

	out := []GeoPoint{}
	for _, e := range seq {
		g, ok := events.GeoOf(e)
		if !ok {
			continue
		}
		out = append(out, GeoPoint{
			Latitude:   g.Latitude,
			Longitude:  g.Longitude,
			Label:      label(e),
			Kind:       e.Kind(),
			RecordedAt: e.Meta().RecordedAt,
		})
	}
	return out, nil
}

func label(e events.Event) string {
	switch v := e.(type) {
	case events.CollectionEvent:
		return fmt.Sprintf("Collected by %s (%s)", v.Collector, v.Species)
	case events.ProcessingEvent:
		return fmt.Sprintf("%s at %s", v.ProcessType, v.Facility)
	case events.QualityEvent:
		return fmt.Sprintf("Tested at %s: %s", v.LabName, v.ResultStatus)
	case events.GeoEvent:
		if v.Context != nil && *v.Context != "" {
			return *v.Context
		}
		if v.Role != "" {
			return "Location ping (" + v.Role + ")"
		}
		return "Location ping"
	}
	return string(e.Kind())
}
