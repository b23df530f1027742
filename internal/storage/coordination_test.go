package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// createTestCoordinationRecord creates a test record with sensible defaults.
func createTestCoordinationRecord(id string) *CoordinationRecord {
	return &CoordinationRecord{
		ID:            id,
		OrderHash:     "hash-" + id,
		Hashlock:      "lock-" + id,
		State:         CoordinationStatePending,
		SrcChain:      "ETH",
		DstChain:      "ICP",
		SrcAmount:     100000,
		DstAmount:     500000,
		Maker:         "maker-addr",
		Taker:         "taker-addr",
		TotalDuration: time.Hour,
		Buffer:        3 * time.Minute,
		Plan:          json.RawMessage(`{"buffer":180000000000}`),
	}
}

func TestCoordinationCRUD(t *testing.T) {
	store := newTestStorage(t)

	rec := createTestCoordinationRecord("coord-001")
	if err := store.SaveCoordination(rec); err != nil {
		t.Fatalf("SaveCoordination() error = %v", err)
	}

	got, err := store.GetCoordination("coord-001")
	if err != nil {
		t.Fatalf("GetCoordination() error = %v", err)
	}
	if got.OrderHash != rec.OrderHash {
		t.Errorf("OrderHash = %s, want %s", got.OrderHash, rec.OrderHash)
	}
	if got.State != CoordinationStatePending {
		t.Errorf("State = %s, want pending", got.State)
	}
	if got.TotalDuration != time.Hour {
		t.Errorf("TotalDuration = %v, want 1h", got.TotalDuration)
	}
	if got.Buffer != 3*time.Minute {
		t.Errorf("Buffer = %v, want 3m", got.Buffer)
	}
	if string(got.Plan) != string(rec.Plan) {
		t.Errorf("Plan = %s, want %s", got.Plan, rec.Plan)
	}

	// Update via upsert
	rec.State = CoordinationStateActive
	rec.SrcEscrowID = "esc-src"
	rec.DstEscrowID = "esc-dst"
	rec.Extensions = 1
	if err := store.SaveCoordination(rec); err != nil {
		t.Fatalf("SaveCoordination() update error = %v", err)
	}

	got, _ = store.GetCoordination("coord-001")
	if got.State != CoordinationStateActive {
		t.Errorf("State after update = %s, want active", got.State)
	}
	if got.SrcEscrowID != "esc-src" || got.DstEscrowID != "esc-dst" {
		t.Errorf("escrow ids = %s / %s", got.SrcEscrowID, got.DstEscrowID)
	}
	if got.Extensions != 1 {
		t.Errorf("Extensions = %d, want 1", got.Extensions)
	}
}

func TestCoordinationNotFound(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.GetCoordination("missing"); !errors.Is(err, ErrCoordinationNotFound) {
		t.Errorf("GetCoordination(missing) = %v, want ErrCoordinationNotFound", err)
	}
	if _, err := store.GetCoordinationByOrderHash("missing"); !errors.Is(err, ErrCoordinationNotFound) {
		t.Errorf("GetCoordinationByOrderHash(missing) = %v, want ErrCoordinationNotFound", err)
	}
}

func TestCoordinationOrderHashUnique(t *testing.T) {
	store := newTestStorage(t)

	a := createTestCoordinationRecord("coord-a")
	b := createTestCoordinationRecord("coord-b")
	b.OrderHash = a.OrderHash

	if err := store.SaveCoordination(a); err != nil {
		t.Fatalf("SaveCoordination(a) error = %v", err)
	}
	if err := store.SaveCoordination(b); !errors.Is(err, ErrOrderHashExists) {
		t.Errorf("SaveCoordination(b) = %v, want ErrOrderHashExists", err)
	}

	got, err := store.GetCoordinationByOrderHash(a.OrderHash)
	if err != nil {
		t.Fatalf("GetCoordinationByOrderHash() error = %v", err)
	}
	if got.ID != "coord-a" {
		t.Errorf("ID = %s, want coord-a", got.ID)
	}
}

func TestGetOpenCoordinations(t *testing.T) {
	store := newTestStorage(t)

	open := createTestCoordinationRecord("coord-open")
	failed := createTestCoordinationRecord("coord-failed")
	failed.State = CoordinationStateFailed
	failed.FailureReason = "hashlock mismatch"

	store.SaveCoordination(open)
	store.SaveCoordination(failed)

	records, err := store.GetOpenCoordinations()
	if err != nil {
		t.Fatalf("GetOpenCoordinations() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "coord-open" {
		t.Errorf("GetOpenCoordinations() = %d records, want only coord-open", len(records))
	}
}

func TestCoordinationEvents(t *testing.T) {
	store := newTestStorage(t)

	store.SaveCoordination(createTestCoordinationRecord("coord-ev"))

	store.AppendCoordinationEvent("coord-ev", "escrows_created", "")
	store.AppendCoordinationEvent("coord-ev", "secret_revealed", "chain=ICP")

	events, err := store.GetCoordinationEvents("coord-ev")
	if err != nil {
		t.Fatalf("GetCoordinationEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Event != "escrows_created" || events[1].Detail != "chain=ICP" {
		t.Errorf("events = %+v", events)
	}
}
