package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/JaimeStill/herbtrace/internal/events"
)

// FileStore keeps every batch log in memory and rewrites one JSON document on
// each append. A single mutex serializes the read-modify-write cycle.
type FileStore struct {
	mu      sync.Mutex
	path    string
	batches map[string][]events.Event
	logger  *slog.Logger
}

// OpenFile loads the document at path. A missing file starts an empty store.
// An unreadable or malformed file is moved aside to "<path>.corrupt-<unix>"
// and the store starts empty so the service stays available.
func OpenFile(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path required")
	}

	s := &FileStore{
		path:    path,
		batches: make(map[string][]events.Event),
		logger:  logger.With("system", "eventstore", "backend", BackendFile),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	batches, err := load(path)
	switch {
	case err == nil:
		s.batches = batches
		s.logger.Info("event store loaded", "path", path, "batches", len(batches))
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("event store initialized", "path", path)
	default:
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		s.logger.Error("event store corrupt, starting empty", "path", path, "moved_to", aside, "error", err)
		if rerr := os.Rename(path, aside); rerr != nil {
			s.logger.Error("failed to move corrupt store aside", "error", rerr)
		}
	}

	return s, nil
}

func load(path string) (map[string][]events.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string][]events.Record
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse store: %w", err)
	}

	batches := make(map[string][]events.Event, len(doc))
	for id, recs := range doc {
		batches[id] = events.Unbox(recs)
	}
	return batches, nil
}

// Append adds e to the end of batchID's log and flushes before returning.
// When the flush fails the in-memory log is restored.
func (s *FileStore) Append(ctx context.Context, batchID string, e events.Event) error {
	if err := checkAppend(batchID, e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	prev, existed := s.batches[batchID]
	s.batches[batchID] = append(prev[:len(prev):len(prev)], e)

	if err := s.flush(); err != nil {
		if existed {
			s.batches[batchID] = prev
		} else {
			delete(s.batches, batchID)
		}
		return fmt.Errorf("persist event %s: %w", e.Meta().ID, err)
	}
	return nil
}

// List returns a copy of batchID's log, empty when unknown.
func (s *FileStore) List(ctx context.Context, batchID string) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.batches[batchID]
	if seq == nil {
		return []events.Event{}, nil
	}
	return slices.Clone(seq), nil
}

// ListAll returns a snapshot of every batch log.
func (s *FileStore) ListAll(ctx context.Context) (map[string][]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]events.Event, len(s.batches))
	for id, seq := range s.batches {
		out[id] = slices.Clone(seq)
	}
	return out, nil
}

// flush writes the whole document to a temp file in the same directory,
// syncs it, and renames it over the store path.
func (s *FileStore) flush() error {
	doc := make(map[string][]events.Record, len(s.batches))
	for id, seq := range s.batches {
		doc[id] = events.Records(seq)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
