package trace_test

import (
	"fmt"
	"testing"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/JaimeStill/herbtrace/chaincode/trace"
)

func setupStub() (*shimtest.MockStub, *contractapi.TransactionContext) {
	stub := shimtest.NewMockStub("trace", nil)
	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(stub)
	return stub, ctx
}

func TestAddEventAppendsInOrder(t *testing.T) {
	stub, ctx := setupStub()
	cc := new(trace.Contract)

	for i, eventType := range []string{"CollectionEvent", "ProcessingEvent", "QualityEvent"} {
		txID := fmt.Sprintf("tx%d", i)
		stub.MockTransactionStart(txID)
		if err := cc.AddEvent(ctx, eventType, "B1", `{"n":1}`, ""); err != nil {
			t.Fatalf("AddEvent(%s) failed: %v", eventType, err)
		}
		stub.MockTransactionEnd(txID)
	}

	entries, err := cc.GetEvents(ctx, "B1")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].EventType != "CollectionEvent" || entries[2].EventType != "QualityEvent" {
		t.Errorf("entries out of order: %+v", entries)
	}
	if entries[0].Timestamp == "" || entries[0].BatchID != "B1" {
		t.Errorf("entry not stamped: %+v", entries[0])
	}

	raw, _ := stub.GetState("BATCH_B1")
	if raw == nil {
		t.Error("state key BATCH_B1 should exist")
	}
}

func TestGetEventsUnknownBatch(t *testing.T) {
	_, ctx := setupStub()

	entries, err := new(trace.Contract).GetEvents(ctx, "NOPE")
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("GetEvents(unknown) = %v, want empty", entries)
	}
}

func TestBatchesAreIsolated(t *testing.T) {
	stub, ctx := setupStub()
	cc := new(trace.Contract)

	stub.MockTransactionStart("tx1")
	cc.AddEvent(ctx, "CollectionEvent", "B1", "{}", "")
	cc.AddEvent(ctx, "CollectionEvent", "B2", "{}", "sha256:ab")
	stub.MockTransactionEnd("tx1")

	b2, _ := cc.GetEvents(ctx, "B2")
	if len(b2) != 1 || b2[0].IPFSHash != "sha256:ab" {
		t.Errorf("B2 = %+v", b2)
	}
}

func TestAddEventValidation(t *testing.T) {
	stub, ctx := setupStub()
	cc := new(trace.Contract)
	stub.MockTransactionStart("tx1")
	defer stub.MockTransactionEnd("tx1")

	tests := []struct {
		name      string
		eventType string
		batchID   string
		payload   string
	}{
		{"missing event type", "", "B1", "{}"},
		{"missing batch id", "CollectionEvent", "", "{}"},
		{"payload not json", "CollectionEvent", "B1", "{oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cc.AddEvent(ctx, tt.eventType, tt.batchID, tt.payload, ""); err == nil {
				t.Error("AddEvent should fail")
			}
		})
	}

	if raw, _ := stub.GetState("BATCH_B1"); raw != nil {
		t.Error("rejected events must not be stored")
	}
}
