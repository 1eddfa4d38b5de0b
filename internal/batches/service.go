package batches

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/JaimeStill/herbtrace/internal/auth"
	"github.com/JaimeStill/herbtrace/internal/events"
	"github.com/JaimeStill/herbtrace/internal/eventstore"
	"github.com/JaimeStill/herbtrace/internal/profiles"
	"github.com/JaimeStill/herbtrace/pkg/storage"
)

// SpeciesOther selects the free-text OtherSpecies value.
const SpeciesOther = "other"

type service struct {
	store     eventstore.Store
	objects   storage.System
	profiles  *profiles.Registry
	anchoring Dispatcher
	authn     auth.Authenticator
	now       func() time.Time
	logger    *slog.Logger
}

// Option customizes the batch system.
type Option func(*service)

// WithClock overrides the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithDispatcher sends every appended stage event to d for anchoring.
func WithDispatcher(d Dispatcher) Option {
	return func(s *service) { s.anchoring = d }
}

// New creates the batch system. objects may be nil, in which case attachments
// are discarded.
func New(
	store eventstore.Store,
	objects storage.System,
	registry *profiles.Registry,
	authn auth.Authenticator,
	logger *slog.Logger,
	opts ...Option,
) System {
	s := &service{
		store:    store,
		objects:  objects,
		profiles: registry,
		authn:    authn,
		now:      time.Now,
		logger:   logger.With("system", "batches"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Handler(maxUploadSize int64) *Handler {
	return NewHandler(s, s.authn, s.logger, maxUploadSize)
}

func (s *service) Collect(ctx context.Context, identity string, cmd CollectCommand) (events.CollectionEvent, error) {
	p, err := s.profiles.Resolve(identity, profiles.RoleFarmer)
	if err != nil {
		return events.CollectionEvent{}, err
	}

	species := strings.TrimSpace(cmd.Species)
	if strings.EqualFold(species, SpeciesOther) {
		species = strings.TrimSpace(cmd.OtherSpecies)
		if species == "" {
			species = "Unknown"
		}
	}
	quality := strings.TrimSpace(cmd.Quality)
	if species == "" || quality == "" {
		return events.CollectionEvent{}, fmt.Errorf("%w: species and quality are required", ErrValidation)
	}

	geo, err := cmd.Location.geo()
	if err != nil {
		return events.CollectionEvent{}, err
	}

	now := s.now()
	batchID := NewBatchID(now)
	e := events.NewCollection(events.NewHeader(batchID, now), events.CollectionEvent{
		Collector:    p.Name,
		FarmLocation: p.Location,
		Species:      species,
		Quality:      quality,
		Geo:          geo,
		ImageRef:     s.attach(ctx, batchID, cmd.Image),
		SubmittedBy:  p.Identity,
	})

	if err := s.commit(ctx, batchID, e); err != nil {
		return events.CollectionEvent{}, err
	}
	return e, nil
}

func (s *service) Process(ctx context.Context, identity string, cmd ProcessCommand) (events.ProcessingEvent, error) {
	p, err := s.profiles.Resolve(identity, profiles.RoleProcessor)
	if err != nil {
		return events.ProcessingEvent{}, err
	}

	batchID := strings.TrimSpace(cmd.BatchID)
	processType := strings.TrimSpace(cmd.ProcessType)
	if batchID == "" || processType == "" {
		return events.ProcessingEvent{}, fmt.Errorf("%w: batch id and process type are required", ErrValidation)
	}

	geo, err := cmd.Location.geo()
	if err != nil {
		return events.ProcessingEvent{}, err
	}
	if err := s.requireBatch(ctx, batchID); err != nil {
		return events.ProcessingEvent{}, err
	}

	e := events.NewProcessing(events.NewHeader(batchID, s.now()), events.ProcessingEvent{
		Facility:         p.Facility,
		FacilityLocation: p.Location,
		ManagerName:      p.Manager,
		ProcessType:      processType,
		Geo:              geo,
		SubmittedBy:      p.Identity,
	})

	if err := s.commit(ctx, batchID, e); err != nil {
		return events.ProcessingEvent{}, err
	}
	return e, nil
}

func (s *service) Test(ctx context.Context, identity string, cmd TestCommand) (events.QualityEvent, error) {
	p, err := s.profiles.Resolve(identity, profiles.RoleLab)
	if err != nil {
		return events.QualityEvent{}, err
	}

	batchID := strings.TrimSpace(cmd.BatchID)
	result := strings.TrimSpace(cmd.ResultStatus)
	if batchID == "" || result == "" {
		return events.QualityEvent{}, fmt.Errorf("%w: batch id and result status are required", ErrValidation)
	}

	geo, err := cmd.Location.geo()
	if err != nil {
		return events.QualityEvent{}, err
	}
	if err := s.requireBatch(ctx, batchID); err != nil {
		return events.QualityEvent{}, err
	}

	e := events.NewQuality(events.NewHeader(batchID, s.now()), events.QualityEvent{
		LabName:        p.Facility,
		LabManagerName: p.Manager,
		LabLocation:    p.Location,
		ResultStatus:   result,
		ReportRef:      s.attach(ctx, batchID, cmd.Report),
		ReportPages:    pageCount(s.logger, cmd.Report),
		Geo:            geo,
		SubmittedBy:    p.Identity,
	})

	if err := s.commit(ctx, batchID, e); err != nil {
		return events.QualityEvent{}, err
	}
	return e, nil
}

func (s *service) RecordGeo(ctx context.Context, identity string, cmd GeoCommand) (events.GeoEvent, error) {
	p, err := s.profiles.Lookup(identity)
	if err != nil {
		return events.GeoEvent{}, err
	}

	batchID := strings.TrimSpace(cmd.BatchID)
	if batchID == "" || cmd.Latitude == nil || cmd.Longitude == nil {
		return events.GeoEvent{}, fmt.Errorf("%w: batch id, latitude and longitude are required", ErrValidation)
	}
	geo, err := Location{Latitude: cmd.Latitude, Longitude: cmd.Longitude}.geo()
	if err != nil {
		return events.GeoEvent{}, err
	}
	if cmd.Accuracy != nil && (!finite(*cmd.Accuracy) || *cmd.Accuracy < 0) {
		return events.GeoEvent{}, fmt.Errorf("%w: accuracy must be a non-negative number", ErrValidation)
	}
	if err := s.requireBatch(ctx, batchID); err != nil {
		return events.GeoEvent{}, err
	}

	e := events.GeoEvent{
		Header:   events.NewHeader(batchID, s.now()),
		Role:     string(p.Role),
		Context:  cmd.Context,
		Geo:      *geo,
		Accuracy: cmd.Accuracy,
	}

	if err := s.commit(ctx, batchID, e); err != nil {
		return events.GeoEvent{}, err
	}
	return e, nil
}

// commit appends e and hands it to anchoring. The command outcome is decided
// by the append alone.
func (s *service) commit(ctx context.Context, batchID string, e events.Event) error {
	if err := s.store.Append(ctx, batchID, e); err != nil {
		return fmt.Errorf("append %s event: %w", e.Kind(), err)
	}

	s.logger.Info("event recorded",
		"batch_id", batchID,
		"event_id", e.Meta().ID,
		"event_type", e.Kind(),
	)

	if s.anchoring != nil {
		if _, stage := events.StageStatus(e); stage {
			s.anchoring.Dispatch(batchID, e)
		}
	}
	return nil
}

func (s *service) requireBatch(ctx context.Context, batchID string) error {
	seq, err := s.store.List(ctx, batchID)
	if err != nil {
		return err
	}
	for _, e := range seq {
		if e.Kind() == events.KindCollection {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
}

// attach stores a into the object store. Failures are logged and leave the
// reference unset.
func (s *service) attach(ctx context.Context, batchID string, a *Attachment) *string {
	if a == nil || len(a.Data) == 0 {
		return nil
	}
	if s.objects == nil {
		s.logger.Warn("attachment discarded, object storage not configured", "batch_id", batchID)
		return nil
	}

	obj, err := s.objects.Put(ctx, a.Data, contentType(a))
	if err != nil {
		s.logger.Warn("attachment upload failed", "batch_id", batchID, "error", err)
		return nil
	}
	return &obj.Hash
}

// NewBatchID returns "BATCH-<base36 unix ms>-<4 hex>" in upper case.
func NewBatchID(at time.Time) string {
	ms := strconv.FormatInt(at.UnixMilli(), 36)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return strings.ToUpper("BATCH-" + ms + "-" + suffix)
}

func (l Location) geo() (*events.Geo, error) {
	switch {
	case l.Latitude == nil && l.Longitude == nil:
		return nil, nil
	case l.Latitude == nil || l.Longitude == nil:
		return nil, fmt.Errorf("%w: latitude and longitude must be given together", ErrValidation)
	}

	lat, long := *l.Latitude, *l.Longitude
	if !finite(lat) || !finite(long) {
		return nil, fmt.Errorf("%w: latitude and longitude must be finite numbers", ErrValidation)
	}
	if lat < -90 || lat > 90 {
		return nil, fmt.Errorf("%w: latitude %v out of range", ErrValidation, lat)
	}
	if long < -180 || long > 180 {
		return nil, fmt.Errorf("%w: longitude %v out of range", ErrValidation, long)
	}
	return &events.Geo{Latitude: lat, Longitude: long}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func contentType(a *Attachment) string {
	ct := strings.TrimSpace(a.ContentType)
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return http.DetectContentType(a.Data)
}

func pageCount(logger *slog.Logger, a *Attachment) *int {
	if a == nil || len(a.Data) == 0 || contentType(a) != "application/pdf" {
		return nil
	}

	count, err := api.PageCount(bytes.NewReader(a.Data), nil)
	if err != nil {
		logger.Warn("failed to extract PDF page count", "error", err)
		return nil
	}
	return &count
}
