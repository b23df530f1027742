// Package escrow - lifecycle state machine.
// The machine serializes operations per escrow, so a finalizing
// operation executes exactly once even under concurrent callers.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crosslock-exchange/crosslock/internal/backend"
	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/internal/timelock"
	"github.com/crosslock-exchange/crosslock/pkg/helpers"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// Receipt describes an executed finalizing operation.
type Receipt struct {
	EscrowID   string    `json:"escrow_id"`
	Operation  string    `json:"operation"` // "withdraw" or "cancel"
	ExecutedBy string    `json:"executed_by"`
	AmountTo   string    `json:"amount_to"`
	Amount     uint64    `json:"amount"`
	DepositTo  string    `json:"deposit_to"`
	Deposit    uint64    `json:"deposit"`
	ExecutedAt time.Time `json:"executed_at"`
}

// StateMachine drives escrow lifecycles against persistent storage
// and chain backends.
type StateMachine struct {
	store    *storage.Storage
	backends *backend.Registry
	deposits *ledger.Ledger
	creds    *Credentials
	log      *logging.Logger

	// per-escrow locks
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStateMachine creates an escrow state machine.
func NewStateMachine(store *storage.Storage, backends *backend.Registry, deposits *ledger.Ledger, creds *Credentials) *StateMachine {
	return &StateMachine{
		store:    store,
		backends: backends,
		deposits: deposits,
		creds:    creds,
		log:      logging.GetDefault().Component("escrow"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lock returns the mutex serializing operations on one escrow.
func (m *StateMachine) lock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Create validates parameters, persists a new escrow in the created
// state and holds its safety deposit.
func (m *StateMachine) Create(ctx context.Context, params *CreateParams) (*Escrow, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if _, ok := m.backends.Get(params.Chain); !ok {
		return nil, fmt.Errorf("%w: no backend for chain %s", ErrInvalidParams, params.Chain)
	}

	asset, err := resolveAsset(params.Asset, params.Chain, params.Amount)
	if err != nil {
		return nil, err
	}
	if err := m.deposits.ValidateDeposit(params.Amount, params.SafetyDeposit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	e := &Escrow{
		ID:             uuid.New().String(),
		CoordinationID: params.CoordinationID,
		Role:           params.Role,
		Chain:          params.Chain,
		Asset:          asset.Symbol,
		Address:        params.Address,
		Locker:         params.Locker,
		Counterparty:   params.Counterparty,
		Amount:         params.Amount,
		SafetyDeposit:  params.SafetyDeposit,
		Hashlock:       params.Hashlock,
		Status:         StatusCreated,
		Schedule:       params.Schedule,
	}

	if err := m.save(e); err != nil {
		return nil, err
	}
	if err := m.deposits.Hold(e.ID, e.CoordinationID, e.Chain, e.SafetyDeposit); err != nil {
		return nil, err
	}
	m.appendEvent(e.ID, "created", fmt.Sprintf("chain=%s role=%s", e.Chain, e.Role))

	m.log.Info("escrow created", "id", e.ID, "chain", e.Chain, "role", e.Role, "amount", e.Amount)
	return e, nil
}

// Fund verifies the escrow address holds the locked amount plus the
// safety deposit and moves the escrow to funded.
func (m *StateMachine) Fund(ctx context.Context, id string) (*Escrow, error) {
	l := m.lock(id)
	l.Lock()
	defer l.Unlock()

	e, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if e.IsFinalized() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFinalized, e.Status)
	}

	b, ok := m.backends.Get(e.Chain)
	if !ok {
		return nil, fmt.Errorf("%w: no backend for chain %s", ErrInvalidState, e.Chain)
	}
	bal, err := b.Balance(ctx, e.Address)
	if err != nil {
		return nil, fmt.Errorf("funding check: %w", err)
	}
	if bal < e.Amount+e.SafetyDeposit {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, bal, e.Amount+e.SafetyDeposit)
	}

	if err := e.TransitionTo(StatusFunded); err != nil {
		return nil, err
	}
	e.FundedAt = time.Now()
	if err := m.save(e); err != nil {
		return nil, err
	}
	m.appendEvent(e.ID, "funded", fmt.Sprintf("balance=%d", bal))

	m.log.Info("escrow funded", "id", e.ID, "balance", bal)
	return e, nil
}

// Activate moves a funded escrow to active once its funding has
// reached finality, approximated by the private withdrawal window
// opening.
func (m *StateMachine) Activate(ctx context.Context, id string) (*Escrow, error) {
	l := m.lock(id)
	l.Lock()
	defer l.Unlock()

	e, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if e.IsFinalized() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFinalized, e.Status)
	}
	if time.Now().Before(e.Schedule.WithdrawalPrivateStart) {
		return nil, fmt.Errorf("%w: funding not final until %v", ErrTimelockNotElapsed, e.Schedule.WithdrawalPrivateStart)
	}

	if err := e.TransitionTo(StatusActive); err != nil {
		return nil, err
	}
	if err := m.save(e); err != nil {
		return nil, err
	}
	m.appendEvent(e.ID, "activated", "")

	m.log.Info("escrow active", "id", e.ID)
	return e, nil
}

// Withdraw releases the locked amount to the counterparty in exchange
// for the hashlock preimage, and pays the safety deposit to the
// caller. The designated counterparty may withdraw once its private
// window opens; any registered executor may once the public window
// opens. Withdrawal closes when cancellation opens.
func (m *StateMachine) Withdraw(ctx context.Context, id, caller string, secret []byte) (*Receipt, error) {
	l := m.lock(id)
	l.Lock()
	defer l.Unlock()

	e, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if e.IsFinalized() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFinalized, e.Status)
	}

	now := time.Now()
	if err := m.authorizeWithdraw(e, caller, now); err != nil {
		return nil, err
	}

	// Hashlock check comes after window checks so probing secrets
	// against a closed escrow leaks nothing.
	if !e.VerifySecret(secret) {
		return nil, ErrInvalidHashlock
	}

	b, ok := m.backends.Get(e.Chain)
	if !ok {
		return nil, fmt.Errorf("%w: no backend for chain %s", ErrInvalidState, e.Chain)
	}
	bal, err := b.Balance(ctx, e.Address)
	if err != nil {
		return nil, fmt.Errorf("balance check: %w", err)
	}
	if bal < e.Amount {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, bal, e.Amount)
	}

	// The hashlock binds to this escrow's coordination for good. A
	// hashlock already bound elsewhere aborts before any payout.
	if err := m.store.SaveRevealedSecret(&storage.RevealedSecret{
		Hashlock:       e.Hashlock,
		CoordinationID: e.CoordinationID,
		EscrowID:       e.ID,
		Secret:         helpers.BytesToHex(secret),
		SourceChain:    e.Chain,
		ObservedAt:     now,
	}); err != nil {
		return nil, fmt.Errorf("bind secret: %w", err)
	}

	// A funded escrow withdrawn inside an open window is final by
	// construction.
	if e.Status == StatusFunded {
		if err := e.TransitionTo(StatusActive); err != nil {
			return nil, err
		}
	}
	if err := e.TransitionTo(StatusWithdrawn); err != nil {
		return nil, err
	}

	if err := b.Payout(ctx, e.Address, e.Counterparty, e.Amount); err != nil && !isUnsupported(err) {
		return nil, fmt.Errorf("amount payout: %w", err)
	}
	if err := m.deposits.PayTo(ctx, b, e.Address, e.ID, caller); err != nil {
		return nil, err
	}

	e.ExecutedBy = caller
	e.Secret = helpers.BytesToHex(secret)
	e.FinalizedAt = now
	if err := m.save(e); err != nil {
		return nil, err
	}

	m.appendEvent(e.ID, "withdrawn", fmt.Sprintf("by=%s", caller))

	m.log.Info("escrow withdrawn", "id", e.ID, "by", caller, "amount", e.Amount)
	return &Receipt{
		EscrowID:   e.ID,
		Operation:  "withdraw",
		ExecutedBy: caller,
		AmountTo:   e.Counterparty,
		Amount:     e.Amount,
		DepositTo:  caller,
		Deposit:    e.SafetyDeposit,
		ExecutedAt: now,
	}, nil
}

// Cancel returns the locked amount to the locker after the
// cancellation window opens, and pays the safety deposit to the
// caller. The locker may cancel once its window opens; any registered
// executor may once the public cancellation window opens.
func (m *StateMachine) Cancel(ctx context.Context, id, caller string) (*Receipt, error) {
	l := m.lock(id)
	l.Lock()
	defer l.Unlock()

	e, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if e.IsFinalized() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFinalized, e.Status)
	}

	now := time.Now()
	if !e.Schedule.CancellationElapsed(now) {
		return nil, fmt.Errorf("%w: cancellation opens at %v", ErrTimelockNotElapsed, e.Schedule.CancellationStart)
	}
	if caller != e.Locker {
		if !e.Schedule.PublicCancellationElapsed(now) {
			return nil, fmt.Errorf("%w: only the locker may cancel before %v", ErrUnauthorized, e.Schedule.CancellationPublicStart)
		}
		if err := m.requireCredential(caller); err != nil {
			return nil, err
		}
	}

	b, ok := m.backends.Get(e.Chain)
	if !ok {
		return nil, fmt.Errorf("%w: no backend for chain %s", ErrInvalidState, e.Chain)
	}

	funded := e.Status != StatusCreated
	if err := e.TransitionTo(StatusCancelled); err != nil {
		return nil, err
	}

	// Nothing to return from an unfunded escrow.
	if funded {
		if err := b.Payout(ctx, e.Address, e.Locker, e.Amount); err != nil && !isUnsupported(err) {
			return nil, fmt.Errorf("refund payout: %w", err)
		}
		if err := m.deposits.PayTo(ctx, b, e.Address, e.ID, caller); err != nil {
			return nil, err
		}
	}

	e.ExecutedBy = caller
	e.FinalizedAt = now
	if err := m.save(e); err != nil {
		return nil, err
	}
	m.appendEvent(e.ID, "cancelled", fmt.Sprintf("by=%s", caller))

	m.log.Info("escrow cancelled", "id", e.ID, "by", caller)
	return &Receipt{
		EscrowID:   e.ID,
		Operation:  "cancel",
		ExecutedBy: caller,
		AmountTo:   e.Locker,
		Amount:     e.Amount,
		DepositTo:  caller,
		Deposit:    e.SafetyDeposit,
		ExecutedAt: now,
	}, nil
}

// authorizeWithdraw enforces window and caller rules for a withdrawal
// at the given instant.
func (m *StateMachine) authorizeWithdraw(e *Escrow, caller string, now time.Time) error {
	if e.Schedule.CancellationElapsed(now) {
		return fmt.Errorf("%w: withdrawal closed at %v", ErrTimelockExpired, e.Schedule.CancellationStart)
	}
	if now.Before(e.Schedule.WithdrawalPrivateStart) {
		return fmt.Errorf("%w: withdrawal opens at %v", ErrTimelockNotElapsed, e.Schedule.WithdrawalPrivateStart)
	}
	if caller == e.Counterparty {
		return nil
	}
	if now.Before(e.Schedule.WithdrawalPublicStart) {
		return fmt.Errorf("%w: only the counterparty may withdraw before %v", ErrUnauthorized, e.Schedule.WithdrawalPublicStart)
	}
	return m.requireCredential(caller)
}

func (m *StateMachine) requireCredential(caller string) error {
	ok, err := m.creds.Has(caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s holds no executor credential", ErrUnauthorized, caller)
	}
	return nil
}

// UpdateSchedule replaces the timelock schedule of an open escrow.
// Used when a partition extension moves the deadlines.
func (m *StateMachine) UpdateSchedule(id string, sched timelock.Schedule) (*Escrow, error) {
	l := m.lock(id)
	l.Lock()
	defer l.Unlock()

	e, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if e.IsFinalized() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFinalized, e.Status)
	}
	if err := sched.Validate(); err != nil {
		return nil, err
	}

	e.Schedule = sched
	if err := m.save(e); err != nil {
		return nil, err
	}
	m.appendEvent(e.ID, "schedule_extended", fmt.Sprintf("cancellation=%d", sched.CancellationStart.Unix()))
	return e, nil
}

// Get retrieves an escrow by ID.
func (m *StateMachine) Get(id string) (*Escrow, error) {
	r, err := m.store.GetEscrow(id)
	if err != nil {
		return nil, err
	}
	return fromRecord(r), nil
}

// ByCoordination returns the escrow legs of a coordination record.
func (m *StateMachine) ByCoordination(coordinationID string) ([]*Escrow, error) {
	records, err := m.store.GetEscrowsByCoordination(coordinationID)
	if err != nil {
		return nil, err
	}
	escrows := make([]*Escrow, len(records))
	for i, r := range records {
		escrows[i] = fromRecord(r)
	}
	return escrows, nil
}

// List returns escrows, newest first.
func (m *StateMachine) List(limit int, includeFinalized bool) ([]*Escrow, error) {
	records, err := m.store.ListEscrows(limit, includeFinalized)
	if err != nil {
		return nil, err
	}
	escrows := make([]*Escrow, len(records))
	for i, r := range records {
		escrows[i] = fromRecord(r)
	}
	return escrows, nil
}

// appendEvent writes to the escrow's audit trail. A failed append is
// logged and never silently dropped.
func (m *StateMachine) appendEvent(id, event, detail string) {
	if err := m.store.AppendEscrowEvent(id, event, detail); err != nil {
		m.log.Error("event append failed", "id", id, "event", event, "error", err)
	}
}

func (m *StateMachine) save(e *Escrow) error {
	r := e.record()
	if err := m.store.SaveEscrow(r); err != nil {
		return fmt.Errorf("save escrow: %w", err)
	}
	e.CreatedAt = r.CreatedAt
	e.UpdatedAt = r.UpdatedAt
	return nil
}

func isUnsupported(err error) bool {
	return errors.Is(err, backend.ErrUnsupportedOperation)
}

// resolveAsset validates an escrow's asset against the configured
// asset table. An empty symbol resolves to the chain's native asset.
func resolveAsset(symbol, chainSymbol string, amount uint64) (config.Asset, error) {
	var asset config.Asset
	var ok bool
	if symbol == "" {
		asset, ok = config.NativeAssetFor(chainSymbol)
		if !ok {
			return asset, fmt.Errorf("%w: no native asset for chain %s", ErrInvalidParams, chainSymbol)
		}
	} else {
		asset, ok = config.GetAsset(symbol)
		if !ok {
			return asset, fmt.Errorf("%w: unsupported asset %s", ErrInvalidParams, symbol)
		}
		if asset.Chain != chainSymbol {
			return asset, fmt.Errorf("%w: asset %s lives on chain %s, not %s", ErrInvalidParams, symbol, asset.Chain, chainSymbol)
		}
	}

	if amount < asset.MinAmount {
		return asset, fmt.Errorf("%w: amount %d below minimum %d for %s", ErrInvalidParams, amount, asset.MinAmount, asset.Symbol)
	}
	if asset.MaxAmount > 0 && amount > asset.MaxAmount {
		return asset, fmt.Errorf("%w: amount %d above maximum %d for %s", ErrInvalidParams, amount, asset.MaxAmount, asset.Symbol)
	}
	return asset, nil
}
