// Package batches turns custody-stage submissions into appended batch events.
// Identity attributes always come from the submitter's profile.
package batches

import (
	"context"

	"github.com/JaimeStill/herbtrace/internal/events"
)

// Attachment is an uploaded file bound for the object store.
type Attachment struct {
	Data        []byte
	ContentType string
}

// Location is an optional coordinate pair. Both values or neither must be set.
type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// CollectCommand starts a new batch.
type CollectCommand struct {
	Species      string
	OtherSpecies string
	Quality      string
	Location
	Image *Attachment
}

// ProcessCommand records a processing step for an existing batch.
type ProcessCommand struct {
	BatchID     string `json:"batchId"`
	ProcessType string `json:"processType"`
	Location
}

// TestCommand records a lab result for an existing batch.
type TestCommand struct {
	BatchID      string
	ResultStatus string
	Location
	Report *Attachment
}

// GeoCommand records a standalone location ping for an existing batch.
type GeoCommand struct {
	BatchID   string   `json:"batchId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Context   *string  `json:"context,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Dispatcher schedules a committed event for anchoring.
type Dispatcher interface {
	Dispatch(batchID string, e events.Event)
}

// System defines the batch command operations. Every command is performed on
// behalf of identity and fails unless its profile has the required role.
type System interface {
	Handler(maxUploadSize int64) *Handler

	Collect(ctx context.Context, identity string, cmd CollectCommand) (events.CollectionEvent, error)
	Process(ctx context.Context, identity string, cmd ProcessCommand) (events.ProcessingEvent, error)
	Test(ctx context.Context, identity string, cmd TestCommand) (events.QualityEvent, error)
	RecordGeo(ctx context.Context, identity string, cmd GeoCommand) (events.GeoEvent, error)
}
