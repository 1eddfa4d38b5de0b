package anchoring

import (
	"context"
	"fmt"

	"github.com/JaimeStill/herbtrace/internal/events"
)

// Report compares a batch's local anchors against the ledger.
type Report struct {
	BatchID string `json:"batchId"`
	// Verified lists business event ids whose anchor digest is on the ledger.
	Verified []string `json:"verified"`
	// Missing lists business event ids with a local anchor but no matching ledger entry.
	Missing []string `json:"missing"`
	// Altered lists business event ids whose stored form no longer hashes to the anchored digest.
	Altered []string `json:"altered"`
	// Unanchored lists stage event ids that never received an anchor.
	Unanchored []string `json:"unanchored"`
	// Foreign counts ledger entries that match no local anchor.
	Foreign int `json:"foreign"`
}

// Consistent reports whether every local anchor is confirmed and untouched
// and the ledger holds nothing unexplained.
func (r Report) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Altered) == 0 && r.Foreign == 0
}

// Verify reads the batch from both sides and reconciles them by payload digest.
func (s *Service) Verify(ctx context.Context, batchID string) (Report, error) {
	seq, err := s.store.List(ctx, batchID)
	if err != nil {
		return Report{}, fmt.Errorf("list batch: %w", err)
	}

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.ledger.GetEvents(lctx, batchID)
	if err != nil {
		return Report{}, fmt.Errorf("read ledger: %w", err)
	}

	onLedger := make(map[string]int, len(entries))
	for _, entry := range entries {
		onLedger[Digest([]byte(entry.PayloadJSON))]++
	}

	report := Report{
		BatchID:    batchID,
		Verified:   []string{},
		Missing:    []string{},
		Altered:    []string{},
		Unanchored: []string{},
	}

	business := make(map[string]events.Event)
	anchored := make(map[string]bool)
	for _, e := range seq {
		if Anchorable(e) {
			business[e.Meta().ID] = e
		}
	}

	matched := 0
	for _, e := range seq {
		rec, ok := e.(events.AnchorRecord)
		if !ok {
			continue
		}
		anchored[rec.EventID] = true

		if src, ok := business[rec.EventID]; ok {
			if payload, err := events.Encode(src); err != nil || Digest(payload) != rec.PayloadDigest {
				report.Altered = append(report.Altered, rec.EventID)
			}
		}

		if onLedger[rec.PayloadDigest] > 0 {
			onLedger[rec.PayloadDigest]--
			matched++
			report.Verified = append(report.Verified, rec.EventID)
		} else {
			report.Missing = append(report.Missing, rec.EventID)
		}
	}

	for _, e := range seq {
		if id := e.Meta().ID; Anchorable(e) && !anchored[id] {
			report.Unanchored = append(report.Unanchored, id)
		}
	}

	report.Foreign = len(entries) - matched
	return report, nil
}
