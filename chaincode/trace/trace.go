// Package trace is the ledger contract that keeps one append-only array of
// batch events per batch id.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const keyPrefix = "BATCH_"

// Entry is one mirrored event.
type Entry struct {
	EventType   string `json:"eventType"`
	BatchID     string `json:"batchId"`
	PayloadJSON string `json:"payloadJson"`
	IPFSHash    string `json:"ipfsHash"`
	Timestamp   string `json:"timestamp"`
}

// Contract exposes AddEvent and GetEvents. There is no update or delete.
type Contract struct {
	contractapi.Contract
}

// AddEvent appends an entry to the batch array, stamped with the transaction time.
func (c *Contract) AddEvent(ctx contractapi.TransactionContextInterface, eventType, batchID, payloadJSON, ipfsHash string) error {
	if eventType == "" {
		return errors.New("event type required")
	}
	if batchID == "" {
		return errors.New("batch id required")
	}
	if !json.Valid([]byte(payloadJSON)) {
		return errors.New("payload must be valid JSON")
	}

	entries, err := c.load(ctx, batchID)
	if err != nil {
		return err
	}

	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return fmt.Errorf("failed to read transaction timestamp: %v", err)
	}

	entries = append(entries, Entry{
		EventType:   eventType,
		BatchID:     batchID,
		PayloadJSON: payloadJSON,
		IPFSHash:    ipfsHash,
		Timestamp:   ts.AsTime().UTC().Format(time.RFC3339Nano),
	})

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %v", err)
	}
	return ctx.GetStub().PutState(keyPrefix+batchID, data)
}

// GetEvents returns the batch array in insertion order, empty for an unknown batch.
func (c *Contract) GetEvents(ctx contractapi.TransactionContextInterface, batchID string) ([]Entry, error) {
	if batchID == "" {
		return nil, errors.New("batch id required")
	}
	return c.load(ctx, batchID)
}

func (c *Contract) load(ctx contractapi.TransactionContextInterface, batchID string) ([]Entry, error) {
	data, err := ctx.GetStub().GetState(keyPrefix + batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch %s: %v", batchID, err)
	}

	entries := []Entry{}
	if data == nil {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch %s: %v", batchID, err)
	}
	return entries, nil
}
