// Package anchoring mirrors committed business events onto the ledger and
// records proof of each mirror as an AnchorRecord. An attempt never rolls
// back or blocks the business event it mirrors.
package anchoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/JaimeStill/herbtrace/internal/events"
	"github.com/JaimeStill/herbtrace/internal/eventstore"
	"github.com/JaimeStill/herbtrace/internal/ledger"
	"github.com/JaimeStill/herbtrace/pkg/lifecycle"
)

var (
	// ErrAnchoringFailed wraps every reason an attempt did not produce an anchor.
	ErrAnchoringFailed = errors.New("anchoring failed")
	// ErrNotAnchorable indicates an anchor record or geo ping was submitted.
	ErrNotAnchorable = errors.New("event kind is not anchored")
	// ErrAlreadyAttempted indicates the event id was already claimed.
	ErrAlreadyAttempted = errors.New("anchoring already attempted")
)

// Digest returns the "sha256:<hex>" digest of payload.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Anchorable reports whether e is a lifecycle stage event.
func Anchorable(e events.Event) bool {
	_, ok := events.StageStatus(e)
	return ok
}

// Service performs and schedules anchoring attempts.
type Service struct {
	store   eventstore.Store
	ledger  ledger.Client
	guard   Guard
	tracer  trace.Tracer
	lc      *lifecycle.Coordinator
	sem     *semaphore.Weighted
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the clock used to stamp anchor records.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds the service. Detached attempts are tracked by lc.
func New(
	cfg *Config,
	store eventstore.Store,
	client ledger.Client,
	guard Guard,
	tracer trace.Tracer,
	lc *lifecycle.Coordinator,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:   store,
		ledger:  client,
		guard:   guard,
		tracer:  tracer,
		lc:      lc,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		timeout: cfg.TimeoutDuration(),
		now:     time.Now,
		logger:  logger.With("system", "anchoring"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit makes the single anchoring attempt for e: write it to the ledger
// within the configured timeout, then append the AnchorRecord. On any failure
// nothing is appended and the error wraps ErrAnchoringFailed.
func (s *Service) Submit(ctx context.Context, batchID string, e events.Event) (events.AnchorRecord, error) {
	ctx, span := s.tracer.Start(ctx, "anchoring.submit", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("event.id", e.Meta().ID),
		attribute.String("event.type", string(e.Kind())),
	))
	defer span.End()

	rec, err := s.submit(ctx, batchID, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return events.AnchorRecord{}, err
	}

	span.SetAttributes(attribute.String("ledger.tx", rec.LedgerTxRef))
	return rec, nil
}

func (s *Service) submit(ctx context.Context, batchID string, e events.Event) (events.AnchorRecord, error) {
	meta := e.Meta()

	if !Anchorable(e) {
		return events.AnchorRecord{}, fmt.Errorf("%w: %w: %s", ErrAnchoringFailed, ErrNotAnchorable, e.Kind())
	}
	if meta.BatchID != batchID {
		return events.AnchorRecord{}, fmt.Errorf("%w: %w", ErrAnchoringFailed, eventstore.ErrBatchMismatch)
	}

	claimed, err := s.guard.Claim(ctx, meta.ID)
	if err != nil {
		return events.AnchorRecord{}, fmt.Errorf("%w: claim: %w", ErrAnchoringFailed, err)
	}
	if !claimed {
		return events.AnchorRecord{}, fmt.Errorf("%w: %w: %s", ErrAnchoringFailed, ErrAlreadyAttempted, meta.ID)
	}

	payload, err := events.Encode(e)
	if err != nil {
		return events.AnchorRecord{}, fmt.Errorf("%w: %w", ErrAnchoringFailed, err)
	}

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	receipt, err := s.ledger.AddEvent(lctx, events.LedgerName(e.Kind()), batchID, string(payload), attachment(e))
	if err != nil {
		return events.AnchorRecord{}, fmt.Errorf("%w: ledger: %w", ErrAnchoringFailed, err)
	}

	rec := events.AnchorRecord{
		Header:        events.NewHeader(batchID, s.now()),
		EventType:     e.Kind(),
		EventID:       meta.ID,
		PayloadDigest: Digest(payload),
		Payload:       payload,
		LedgerTxRef:   receipt.TxID,
	}

	if err := s.store.Append(ctx, batchID, rec); err != nil {
		return events.AnchorRecord{}, fmt.Errorf("%w: record anchor: %w", ErrAnchoringFailed, err)
	}
	return rec, nil
}

// Dispatch schedules Submit as a tracked background task and returns
// immediately. The outcome is only logged and traced. Attempts already
// holding a slot run to completion during shutdown; queued ones and those
// dispatched after shutdown began are dropped.
func (s *Service) Dispatch(batchID string, e events.Event) {
	logger := s.logger.With("batch_id", batchID, "event_id", e.Meta().ID, "event_type", e.Kind())

	started := s.lc.Go(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("anchoring panicked", "panic", r)
			}
		}()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			logger.Warn("anchoring skipped", "error", err)
			return
		}
		defer s.sem.Release(1)

		rec, err := s.Submit(context.WithoutCancel(ctx), batchID, e)
		if err != nil {
			logger.Warn("anchoring failed", "error", err)
			return
		}
		logger.Info("event anchored", "tx_ref", rec.LedgerTxRef, "digest", rec.PayloadDigest)
	})
	if !started {
		logger.Warn("anchoring skipped", "error", "shutting down")
	}
}

// attachment returns the content hash attached to e, which the ledger records
// alongside the payload.
func attachment(e events.Event) string {
	switch v := e.(type) {
	case events.CollectionEvent:
		if v.ImageRef != nil {
			return *v.ImageRef
		}
	case events.QualityEvent:
		if v.ReportRef != nil {
			return *v.ReportRef
		}
	case events.ProcessingEvent, events.GeoEvent, events.AnchorRecord:
	}
	return ""
}
