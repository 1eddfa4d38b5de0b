package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind indicates a record whose type discriminator is not a known variant.
var ErrUnknownKind = errors.New("unknown event type")

// Encode writes e as a flat JSON object with a "type" discriminator.
func Encode(e Event) ([]byte, error) {
	switch v := e.(type) {
	case CollectionEvent:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			CollectionEvent
		}{KindCollection, v})
	case ProcessingEvent:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			ProcessingEvent
		}{KindProcessing, v})
	case QualityEvent:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			QualityEvent
		}{KindQuality, v})
	case GeoEvent:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			GeoEvent
		}{KindGeo, v})
	case AnchorRecord:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			AnchorRecord
		}{KindAnchor, v})
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownKind, e)
}

// Decode parses a record written by Encode.
func Decode(data []byte) (Event, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch probe.Type {
	case KindCollection:
		return decodeAs[CollectionEvent](data)
	case KindProcessing:
		return decodeAs[ProcessingEvent](data)
	case KindQuality:
		return decodeAs[QualityEvent](data)
	case KindGeo:
		return decodeAs[GeoEvent](data)
	case KindAnchor:
		return decodeAs[AnchorRecord](data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, probe.Type)
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", v.Kind(), err)
	}
	return v, nil
}

// Record adapts an Event to encoding/json so event slices can be embedded in
// larger documents.
type Record struct {
	Event Event
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	return Encode(r.Event)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	e, err := Decode(data)
	if err != nil {
		return err
	}
	r.Event = e
	return nil
}

// Records boxes a sequence for encoding.
func Records(seq []Event) []Record {
	out := make([]Record, len(seq))
	for i, e := range seq {
		out[i] = Record{Event: e}
	}
	return out
}

// Unbox is the inverse of Records.
func Unbox(recs []Record) []Event {
	out := make([]Event, len(recs))
	for i, r := range recs {
		out[i] = r.Event
	}
	return out
}
