package storage

import (
	"errors"
	"testing"
)

func TestDepositHoldAndPay(t *testing.T) {
	store := newTestStorage(t)

	if err := store.HoldDeposit("esc-1", "coord-1", "ETH", 1000); err != nil {
		t.Fatalf("HoldDeposit() error = %v", err)
	}

	// Duplicate hold is a no-op
	if err := store.HoldDeposit("esc-1", "coord-1", "ETH", 9999); err != nil {
		t.Fatalf("duplicate HoldDeposit() error = %v", err)
	}

	d, err := store.GetDeposit("esc-1")
	if err != nil {
		t.Fatalf("GetDeposit() error = %v", err)
	}
	if d.Status != DepositStatusHeld {
		t.Errorf("Status = %s, want held", d.Status)
	}
	if d.Amount != 1000 {
		t.Errorf("Amount = %d, want 1000 (duplicate hold must not overwrite)", d.Amount)
	}

	if err := store.PayDeposit("esc-1", "executor-addr"); err != nil {
		t.Fatalf("PayDeposit() error = %v", err)
	}

	d, _ = store.GetDeposit("esc-1")
	if d.Status != DepositStatusPaid {
		t.Errorf("Status = %s, want paid", d.Status)
	}
	if d.Payee != "executor-addr" {
		t.Errorf("Payee = %s, want executor-addr", d.Payee)
	}
	if d.PaidAt.IsZero() {
		t.Error("PaidAt should be set")
	}

	// Double pay rejected
	if err := store.PayDeposit("esc-1", "other-addr"); !errors.Is(err, ErrDepositAlreadyPaid) {
		t.Errorf("second PayDeposit() = %v, want ErrDepositAlreadyPaid", err)
	}
	d, _ = store.GetDeposit("esc-1")
	if d.Payee != "executor-addr" {
		t.Errorf("Payee after double pay = %s, want executor-addr", d.Payee)
	}
}

func TestPayDepositNotFound(t *testing.T) {
	store := newTestStorage(t)

	if err := store.PayDeposit("missing", "addr"); !errors.Is(err, ErrDepositNotFound) {
		t.Errorf("PayDeposit(missing) = %v, want ErrDepositNotFound", err)
	}
	if _, err := store.GetDeposit("missing"); !errors.Is(err, ErrDepositNotFound) {
		t.Errorf("GetDeposit(missing) = %v, want ErrDepositNotFound", err)
	}
}

func TestDepositsByCoordination(t *testing.T) {
	store := newTestStorage(t)

	store.HoldDeposit("esc-src", "coord-1", "ETH", 1000)
	store.HoldDeposit("esc-dst", "coord-1", "ICP", 500)
	store.HoldDeposit("esc-x", "coord-2", "ETH", 700)

	entries, err := store.GetDepositsByCoordination("coord-1")
	if err != nil {
		t.Fatalf("GetDepositsByCoordination() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

func TestDepositTotals(t *testing.T) {
	store := newTestStorage(t)

	store.HoldDeposit("esc-1", "coord-1", "ETH", 1000)
	store.HoldDeposit("esc-2", "coord-2", "ETH", 2000)
	store.HoldDeposit("esc-3", "coord-3", "ICP", 500)
	store.PayDeposit("esc-2", "executor")

	held, paid, err := store.DepositTotals()
	if err != nil {
		t.Fatalf("DepositTotals() error = %v", err)
	}
	if held["ETH"] != 1000 {
		t.Errorf("held[ETH] = %d, want 1000", held["ETH"])
	}
	if held["ICP"] != 500 {
		t.Errorf("held[ICP] = %d, want 500", held["ICP"])
	}
	if paid["ETH"] != 2000 {
		t.Errorf("paid[ETH] = %d, want 2000", paid["ETH"])
	}
}
