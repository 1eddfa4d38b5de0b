package events

// StageStatus returns the stage tag stored on e. Anchors and geo pings are not
// lifecycle stages and report false.
func StageStatus(e Event) (Status, bool) {
	switch v := e.(type) {
	case CollectionEvent:
		return v.Status, true
	case ProcessingEvent:
		return v.Status, true
	case QualityEvent:
		return v.Status, true
	case GeoEvent, AnchorRecord:
		return StatusUnknown, false
	}
	return StatusUnknown, false
}

// Head returns the most recent stage event in seq.
func Head(seq []Event) (Event, bool) {
	for i := len(seq) - 1; i >= 0; i-- {
		if _, ok := StageStatus(seq[i]); ok {
			return seq[i], true
		}
	}
	return nil, false
}

// ProjectStatus derives the batch status from the most recent stage event.
// A sequence without stage events is StatusUnknown.
func ProjectStatus(seq []Event) Status {
	head, ok := Head(seq)
	if !ok {
		return StatusUnknown
	}
	status, _ := StageStatus(head)
	return status
}
