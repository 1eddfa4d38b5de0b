// Package eventstore persists the append-only per-batch event logs.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/JaimeStill/herbtrace/internal/events"
)

var (
	// ErrInvalidBatch indicates an empty batch id.
	ErrInvalidBatch = errors.New("batch id required")
	// ErrBatchMismatch indicates the event header names a different batch than the append target.
	ErrBatchMismatch = errors.New("event batch id does not match target batch")
	// ErrDuplicateEvent indicates an event id that is already present in the store.
	ErrDuplicateEvent = errors.New("event already recorded")
	// ErrSchemaMissing indicates the postgres schema has not been migrated.
	ErrSchemaMissing = errors.New("batch_events table missing, run herbtrace migrate")
)

// Store is the durable event log. Appends are all-or-nothing and durable on
// return; List never fails for an unknown batch.
type Store interface {
	Append(ctx context.Context, batchID string, e events.Event) error
	List(ctx context.Context, batchID string) ([]events.Event, error)
	ListAll(ctx context.Context) (map[string][]events.Event, error)
}

// Backend names accepted in Config.Backend.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config selects the store backend.
type Config struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	Index   bool   `toml:"index"`
}

// Env maps config fields to environment variable names.
type Env struct {
	Backend string
	Path    string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.Path == "" {
		c.Path = "data/batches.json"
	}
	if env != nil {
		if v := lookup(env.Backend); v != "" {
			c.Backend = v
		}
		if v := lookup(env.Path); v != "" {
			c.Path = v
		}
	}

	switch c.Backend {
	case BackendFile, BackendPostgres:
		return nil
	}
	return fmt.Errorf("unknown store backend %q", c.Backend)
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Backend != "" {
		c.Backend = overlay.Backend
	}
	if overlay.Path != "" {
		c.Path = overlay.Path
	}
	if overlay.Index {
		c.Index = true
	}
}

// New opens the backend named by cfg, wrapped in an Index when enabled.
// pg is only consulted for the postgres backend.
func New(cfg *Config, pg func() (*PostgresStore, error), logger *slog.Logger) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Backend {
	case BackendFile:
		s, err = OpenFile(cfg.Path, logger)
	case BackendPostgres:
		if pg == nil {
			return nil, fmt.Errorf("postgres backend requires a database")
		}
		s, err = pg()
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Index {
		return NewIndex(s), nil
	}
	return s, nil
}

func checkAppend(batchID string, e events.Event) error {
	if batchID == "" {
		return ErrInvalidBatch
	}
	if e == nil {
		return fmt.Errorf("nil event for batch %s", batchID)
	}
	if got := e.Meta().BatchID; got != batchID {
		return fmt.Errorf("%w: %q != %q", ErrBatchMismatch, got, batchID)
	}
	return nil
}

func lookup(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
