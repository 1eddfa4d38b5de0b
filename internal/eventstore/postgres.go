package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/herbtrace/internal/events"
	"github.com/JaimeStill/herbtrace/pkg/repository"
)

const (
	lockBatch = `SELECT pg_advisory_xact_lock(hashtext($1))`

	nextSeq = `SELECT COALESCE(MAX(seq), 0) + 1 FROM batch_events WHERE batch_id = $1`

	insertEvent = `
		INSERT INTO batch_events (batch_id, seq, event_id, kind, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	selectBatch = `SELECT payload FROM batch_events WHERE batch_id = $1 ORDER BY seq`

	selectAll = `SELECT batch_id, payload FROM batch_events ORDER BY batch_id, seq`
)

// PostgresStore keeps events in the batch_events table. Appends to the same
// batch are serialized by a transaction-scoped advisory lock on the batch id.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgres wraps an open pool. The schema comes from cmd/migrate.
func NewPostgres(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.With("system", "eventstore", "backend", BackendPostgres),
	}
}

func (s *PostgresStore) Append(ctx context.Context, batchID string, e events.Event) error {
	if err := checkAppend(batchID, e); err != nil {
		return err
	}

	payload, err := events.Encode(e)
	if err != nil {
		return err
	}
	meta := e.Meta()

	_, err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) (int64, error) {
		if err := lock(ctx, tx, batchID); err != nil {
			return 0, err
		}

		seq, err := repository.QueryScalar[int64](ctx, tx, nextSeq, batchID)
		if err != nil {
			return 0, fmt.Errorf("next sequence: %w", err)
		}

		if _, err := tx.ExecContext(ctx, insertEvent,
			batchID, seq, meta.ID, string(e.Kind()), string(payload), meta.RecordedAt,
		); err != nil {
			return 0, repository.MapError(err, sql.ErrNoRows, ErrDuplicateEvent)
		}
		return seq, nil
	})
	if err != nil {
		return fmt.Errorf("append event %s: %w", meta.ID, schemaError(err))
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, batchID string) ([]events.Event, error) {
	seq, err := repository.QueryMany(ctx, s.db, selectBatch, []any{batchID}, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("list batch %s: %w", batchID, schemaError(err))
	}
	return seq, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) (map[string][]events.Event, error) {
	rows, err := repository.QueryMany(ctx, s.db, selectAll, nil, scanBatchEvent)
	if err != nil {
		return nil, fmt.Errorf("list all batches: %w", schemaError(err))
	}

	out := make(map[string][]events.Event)
	for _, r := range rows {
		out[r.batchID] = append(out[r.batchID], r.event)
	}
	return out, nil
}

func lock(ctx context.Context, x repository.Executor, batchID string) error {
	if _, err := x.ExecContext(ctx, lockBatch, batchID); err != nil {
		return fmt.Errorf("lock batch: %w", err)
	}
	return nil
}

// schemaError marks a missing batch_events table as ErrSchemaMissing.
func schemaError(err error) error {
	if repository.IsUndefinedTable(err) {
		return fmt.Errorf("%w: %w", ErrSchemaMissing, err)
	}
	return err
}

type batchEvent struct {
	batchID string
	event   events.Event
}

func scanEvent(s repository.Scanner) (events.Event, error) {
	var payload []byte
	if err := s.Scan(&payload); err != nil {
		return nil, err
	}
	return events.Decode(payload)
}

func scanBatchEvent(s repository.Scanner) (batchEvent, error) {
	var (
		r       batchEvent
		payload []byte
	)
	if err := s.Scan(&r.batchID, &payload); err != nil {
		return r, err
	}
	e, err := events.Decode(payload)
	if err != nil {
		return r, err
	}
	r.event = e
	return r, nil
}
