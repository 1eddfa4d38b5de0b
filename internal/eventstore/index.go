package eventstore

import (
	"context"
	"maps"
	"sync"

	"github.com/JaimeStill/herbtrace/internal/events"
)

// Head is the latest stage event of a batch and the status it carries.
type Head struct {
	BatchID string
	Status  events.Status
	Event   events.Event
}

// HeadIndex is implemented by stores that can report batch heads without a
// full scan.
type HeadIndex interface {
	Heads(ctx context.Context) (map[string]Head, error)
}

// Heads derives the head map from a full snapshot. Batches without a stage
// event are omitted.
func Heads(all map[string][]events.Event) map[string]Head {
	out := make(map[string]Head, len(all))
	for id, seq := range all {
		if h, ok := events.Head(seq); ok {
			out[id] = Head{BatchID: id, Status: events.ProjectStatus(seq), Event: h}
		}
	}
	return out
}

// Index decorates a Store with a per-batch head cache. The cache is updated
// under the same lock as the append, so a returned Append is always visible
// to Heads.
type Index struct {
	Store

	mu    sync.Mutex
	heads map[string]Head
}

// NewIndex wraps s. The cache warms on the first Heads call.
func NewIndex(s Store) *Index {
	return &Index{Store: s}
}

func (x *Index) Append(ctx context.Context, batchID string, e events.Event) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.Store.Append(ctx, batchID, e); err != nil {
		return err
	}

	if x.heads != nil {
		if status, ok := events.StageStatus(e); ok {
			x.heads[batchID] = Head{BatchID: batchID, Status: status, Event: e}
		}
	}
	return nil
}

func (x *Index) Heads(ctx context.Context) (map[string]Head, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.heads == nil {
		all, err := x.Store.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		x.heads = Heads(all)
	}
	return maps.Clone(x.heads), nil
}
