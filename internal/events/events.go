// Package events defines the immutable batch event model and the status
// projection derived from a batch's event sequence.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the event variants.
type Kind string

const (
	KindCollection Kind = "collection"
	KindProcessing Kind = "processing"
	KindQuality    Kind = "quality"
	KindGeo        Kind = "geo"
	KindAnchor     Kind = "anchor"
)

// Valid reports whether k names a known variant.
func (k Kind) Valid() bool {
	switch k {
	case KindCollection, KindProcessing, KindQuality, KindGeo, KindAnchor:
		return true
	}
	return false
}

// LedgerName is the event type string written to the ledger for k.
func LedgerName(k Kind) string {
	switch k {
	case KindCollection:
		return "CollectionEvent"
	case KindProcessing:
		return "ProcessingEvent"
	case KindQuality:
		return "QualityEvent"
	case KindGeo:
		return "GeoEvent"
	case KindAnchor:
		return "AnchorRecord"
	}
	return string(k)
}

// Status is the lifecycle stage tag carried by stage events.
type Status string

const (
	StatusUnknown   Status = ""
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusTested    Status = "tested"
)

// Header is common to every event.
type Header struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batchId"`
	RecordedAt time.Time `json:"timestamp"`
}

// NewHeader stamps a fresh event id for batchID at the given time.
func NewHeader(batchID string, at time.Time) Header {
	return Header{
		ID:         uuid.NewString(),
		BatchID:    batchID,
		RecordedAt: at.UTC(),
	}
}

// Meta returns the header.
func (h Header) Meta() Header { return h }

// Event is one immutable entry of a batch log. The variant set is closed.
type Event interface {
	Kind() Kind
	Meta() Header
	sealed()
}

// Geo is a latitude/longitude pair in decimal degrees.
type Geo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CollectionEvent records harvest of a new batch at a farm.
type CollectionEvent struct {
	Header
	Collector    string  `json:"collector"`
	FarmLocation string  `json:"farmLocation"`
	Species      string  `json:"species"`
	Quality      string  `json:"quality"`
	Geo          *Geo    `json:"geo,omitempty"`
	ImageRef     *string `json:"imageRef"`
	SubmittedBy  string  `json:"submittedBy"`
	Status       Status  `json:"status"`
}

// ProcessingEvent records a processing step at a facility.
type ProcessingEvent struct {
	Header
	Facility         string `json:"facility"`
	FacilityLocation string `json:"facilityLocation"`
	ManagerName      string `json:"managerName"`
	ProcessType      string `json:"processType"`
	Geo              *Geo   `json:"geo,omitempty"`
	SubmittedBy      string `json:"submittedBy"`
	Status           Status `json:"status"`
}

// QualityEvent records a lab test result.
type QualityEvent struct {
	Header
	LabName        string  `json:"labName"`
	LabManagerName string  `json:"labManagerName"`
	LabLocation    string  `json:"labLocation"`
	ResultStatus   string  `json:"resultStatus"`
	ReportRef      *string `json:"reportRef"`
	ReportPages    *int    `json:"reportPages,omitempty"`
	Geo            *Geo    `json:"geo,omitempty"`
	SubmittedBy    string  `json:"submittedBy"`
	Status         Status  `json:"status"`
}

// GeoEvent is a standalone location ping, not a lifecycle stage.
type GeoEvent struct {
	Header
	Role     string   `json:"role,omitempty"`
	Context  *string  `json:"context,omitempty"`
	Geo      Geo      `json:"geo"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// AnchorRecord notes that the business event EventID was mirrored onto the
// ledger in transaction LedgerTxRef.
type AnchorRecord struct {
	Header
	EventType     Kind            `json:"eventType"`
	EventID       string          `json:"eventId"`
	PayloadDigest string          `json:"payloadDigest"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	LedgerTxRef   string          `json:"ledgerTxRef"`
}

func (CollectionEvent) Kind() Kind { return KindCollection }
func (ProcessingEvent) Kind() Kind { return KindProcessing }
func (QualityEvent) Kind() Kind    { return KindQuality }
func (GeoEvent) Kind() Kind        { return KindGeo }
func (AnchorRecord) Kind() Kind    { return KindAnchor }

func (CollectionEvent) sealed() {}
func (ProcessingEvent) sealed() {}
func (QualityEvent) sealed()    {}
func (GeoEvent) sealed()        {}
func (AnchorRecord) sealed()    {}

// NewCollection stamps e with header h and the pending stage tag.
func NewCollection(h Header, e CollectionEvent) CollectionEvent {
	e.Header = h
	e.Status = StatusPending
	return e
}

// NewProcessing stamps e with header h and the processed stage tag.
func NewProcessing(h Header, e ProcessingEvent) ProcessingEvent {
	e.Header = h
	e.Status = StatusProcessed
	return e
}

// NewQuality stamps e with header h and the tested stage tag.
func NewQuality(h Header, e QualityEvent) QualityEvent {
	e.Header = h
	e.Status = StatusTested
	return e
}

// GeoOf returns the location attached to e, if any.
func GeoOf(e Event) (Geo, bool) {
	switch v := e.(type) {
	case CollectionEvent:
		if v.Geo != nil {
			return *v.Geo, true
		}
	case ProcessingEvent:
		if v.Geo != nil {
			return *v.Geo, true
		}
	case QualityEvent:
		if v.Geo != nil {
			return *v.Geo, true
		}
	case GeoEvent:
		return v.Geo, true
	case AnchorRecord:
	}
	return Geo{}, false
}
