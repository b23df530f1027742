// Package ledger tracks safety deposits. Each escrow leg carries a
// deposit sized off the locked amount; it is held when the escrow is
// created and paid to whichever caller executes the finalizing
// operation, compensating public executors for acting on someone
// else's escrow.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/crosslock-exchange/crosslock/internal/backend"
	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// Ledger errors.
var (
	ErrDepositTooSmall = errors.New("safety deposit below minimum")
)

// Ledger manages safety deposit accounting over persistent storage.
type Ledger struct {
	store *storage.Storage
	cfg   config.DepositConfig
	log   *logging.Logger
}

// New creates a deposit ledger.
func New(store *storage.Storage, cfg config.DepositConfig) *Ledger {
	return &Ledger{
		store: store,
		cfg:   cfg,
		log:   logging.GetDefault().Component("ledger"),
	}
}

// RequiredDeposit returns the minimum safety deposit for a locked amount.
func (l *Ledger) RequiredDeposit(amount uint64) uint64 {
	return l.cfg.MinDeposit(amount)
}

// ValidateDeposit checks a proposed deposit against the minimum.
func (l *Ledger) ValidateDeposit(amount, deposit uint64) error {
	if min := l.cfg.MinDeposit(amount); deposit < min {
		return fmt.Errorf("%w: %d < %d for amount %d", ErrDepositTooSmall, deposit, min, amount)
	}
	return nil
}

// Hold records a deposit as held for an escrow. Idempotent.
func (l *Ledger) Hold(escrowID, coordinationID, chain string, amount uint64) error {
	if err := l.store.HoldDeposit(escrowID, coordinationID, chain, amount); err != nil {
		return fmt.Errorf("hold deposit: %w", err)
	}
	l.log.Debug("deposit held", "escrow", escrowID, "chain", chain, "amount", amount)
	return nil
}

// PayTo marks the deposit paid to the executing caller and, when the
// chain's backend settles payouts directly, moves the funds. Backends
// whose escrows settle on chain only get the ledger entry.
func (l *Ledger) PayTo(ctx context.Context, b backend.Backend, escrowAddress, escrowID, payee string) error {
	entry, err := l.store.GetDeposit(escrowID)
	if err != nil {
		return err
	}

	if err := l.store.PayDeposit(escrowID, payee); err != nil {
		return err
	}

	if b != nil {
		err := b.Payout(ctx, escrowAddress, payee, entry.Amount)
		if err != nil && !errors.Is(err, backend.ErrUnsupportedOperation) {
			return fmt.Errorf("deposit payout: %w", err)
		}
	}

	l.log.Info("deposit paid", "escrow", escrowID, "payee", payee, "amount", entry.Amount)
	return nil
}

// Entry returns the deposit entry for an escrow.
func (l *Ledger) Entry(escrowID string) (*storage.DepositEntry, error) {
	return l.store.GetDeposit(escrowID)
}

// EntriesFor returns the deposit entries of a coordination record.
func (l *Ledger) EntriesFor(coordinationID string) ([]*storage.DepositEntry, error) {
	return l.store.GetDepositsByCoordination(coordinationID)
}

// Totals returns the summed held and paid deposits per chain.
func (l *Ledger) Totals() (held, paid map[string]uint64, err error) {
	return l.store.DepositTotals()
}
