// Package escrow implements hashlocked, timelocked escrow state.
// This package contains ONLY escrow-specific logic (lifecycle state
// machine, hashlock verification, window authorization). It uses
// existing packages directly:
//   - timelock.Schedule for window checks
//   - backend.Backend for balance observation and payouts
//   - ledger.Ledger for safety deposit accounting
//   - storage for persistence
package escrow

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/internal/timelock"
	"github.com/crosslock-exchange/crosslock/pkg/helpers"
)

// Common errors
var (
	ErrInvalidHashlock     = errors.New("secret does not match hashlock")
	ErrTimelockNotElapsed  = errors.New("timelock has not elapsed")
	ErrTimelockExpired     = errors.New("timelock window has expired")
	ErrInsufficientBalance = errors.New("insufficient escrow balance")
	ErrUnauthorized        = errors.New("caller not authorized")
	ErrAlreadyFinalized    = errors.New("escrow already finalized")
	ErrInvalidState        = errors.New("invalid escrow state")
	ErrInvalidParams       = errors.New("invalid escrow parameters")
)

// Role represents which leg of a swap an escrow is.
type Role string

const (
	RoleSource      Role = "source"
	RoleDestination Role = "destination"
)

// Status represents the lifecycle state of an escrow.
type Status string

const (
	StatusCreated   Status = "created"
	StatusFunded    Status = "funded"
	StatusActive    Status = "active"
	StatusWithdrawn Status = "withdrawn"
	StatusCancelled Status = "cancelled"

	// StatusExpired is derived, never stored: an open escrow whose
	// cancellation window has started reports as expired.
	StatusExpired Status = "expired"
)

// Escrow represents one hashlocked escrow leg.
type Escrow struct {
	ID             string `json:"id"`
	CoordinationID string `json:"coordination_id"`

	Role    Role   `json:"role"`
	Chain   string `json:"chain"`
	Asset   string `json:"asset"`
	Address string `json:"address"`

	// Locker deposited the funds; Counterparty claims them with the
	// secret.
	Locker       string `json:"locker"`
	Counterparty string `json:"counterparty"`

	Amount        uint64 `json:"amount"`
	SafetyDeposit uint64 `json:"safety_deposit"`

	// SHA-256 hash of the secret, hex encoded.
	Hashlock string `json:"hashlock"`

	Status   Status            `json:"status"`
	Schedule timelock.Schedule `json:"schedule"`

	ExecutedBy    string `json:"executed_by,omitempty"`
	Secret        string `json:"secret,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FundedAt    time.Time `json:"funded_at,omitempty"`
	FinalizedAt time.Time `json:"finalized_at,omitempty"`
}

// TransitionTo attempts to transition the escrow to a new status.
func (e *Escrow) TransitionTo(newStatus Status) error {
	valid := map[Status][]Status{
		StatusCreated:   {StatusFunded, StatusCancelled},
		StatusFunded:    {StatusActive, StatusCancelled},
		StatusActive:    {StatusWithdrawn, StatusCancelled},
		StatusWithdrawn: {}, // Terminal state
		StatusCancelled: {}, // Terminal state
	}

	validTransitions, ok := valid[e.Status]
	if !ok {
		return fmt.Errorf("%w: unknown current status %s", ErrInvalidState, e.Status)
	}

	for _, validStatus := range validTransitions {
		if validStatus == newStatus {
			e.Status = newStatus
			return nil
		}
	}

	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidState, e.Status, newStatus)
}

// IsFinalized returns true if the escrow is in a terminal status.
func (e *Escrow) IsFinalized() bool {
	switch e.Status {
	case StatusWithdrawn, StatusCancelled:
		return true
	default:
		return false
	}
}

// EffectiveStatus returns the stored status, or StatusExpired for an
// open escrow whose cancellation window has started.
func (e *Escrow) EffectiveStatus(now time.Time) Status {
	if !e.IsFinalized() && e.Schedule.CancellationElapsed(now) {
		return StatusExpired
	}
	return e.Status
}

// HashSecret computes the SHA-256 hashlock of a secret.
func HashSecret(secret []byte) []byte {
	hash := sha256.Sum256(secret)
	return hash[:]
}

// VerifySecret checks a secret against a hex-encoded hashlock in
// constant time.
func (e *Escrow) VerifySecret(secret []byte) bool {
	want, err := helpers.HexToBytes(e.Hashlock)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	return helpers.ConstantTimeCompare(HashSecret(secret), want)
}

// CreateParams are the inputs for creating an escrow leg.
type CreateParams struct {
	CoordinationID string            `json:"coordination_id"`
	Role           Role              `json:"role"`
	Chain          string            `json:"chain"`
	Asset          string            `json:"asset"`
	Address        string            `json:"address"`
	Locker         string            `json:"locker"`
	Counterparty   string            `json:"counterparty"`
	Amount         uint64            `json:"amount"`
	SafetyDeposit  uint64            `json:"safety_deposit"`
	Hashlock       string            `json:"hashlock"`
	Schedule       timelock.Schedule `json:"schedule"`
}

// Validate checks the parameters.
func (p *CreateParams) Validate() error {
	if p.Role != RoleSource && p.Role != RoleDestination {
		return fmt.Errorf("%w: role %q", ErrInvalidParams, p.Role)
	}
	if p.Chain == "" || p.Address == "" {
		return fmt.Errorf("%w: chain and address required", ErrInvalidParams)
	}
	if p.Locker == "" || p.Counterparty == "" {
		return fmt.Errorf("%w: locker and counterparty required", ErrInvalidParams)
	}
	if p.Locker == p.Counterparty {
		return fmt.Errorf("%w: locker and counterparty must differ", ErrInvalidParams)
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}

	lock, err := helpers.HexToBytes(p.Hashlock)
	if err != nil || len(lock) != sha256.Size {
		return fmt.Errorf("%w: hashlock must be 32 hex-encoded bytes", ErrInvalidParams)
	}
	if helpers.IsZeroBytes(lock) {
		return fmt.Errorf("%w: hashlock must not be zero", ErrInvalidParams)
	}

	return p.Schedule.Validate()
}

// record converts to the storage representation.
func (e *Escrow) record() *storage.EscrowRecord {
	return &storage.EscrowRecord{
		ID:                      e.ID,
		CoordinationID:          e.CoordinationID,
		Role:                    string(e.Role),
		Chain:                   e.Chain,
		Asset:                   e.Asset,
		Address:                 e.Address,
		Locker:                  e.Locker,
		Counterparty:            e.Counterparty,
		Amount:                  e.Amount,
		SafetyDeposit:           e.SafetyDeposit,
		Hashlock:                e.Hashlock,
		Status:                  storage.EscrowStatus(e.Status),
		T0:                      e.Schedule.T0,
		WithdrawalPrivateStart:  e.Schedule.WithdrawalPrivateStart,
		WithdrawalPublicStart:   e.Schedule.WithdrawalPublicStart,
		CancellationStart:       e.Schedule.CancellationStart,
		CancellationPublicStart: e.Schedule.CancellationPublicStart,
		ExecutedBy:              e.ExecutedBy,
		Secret:                  e.Secret,
		FailureReason:           e.FailureReason,
		CreatedAt:               e.CreatedAt,
		UpdatedAt:               e.UpdatedAt,
		FundedAt:                e.FundedAt,
		FinalizedAt:             e.FinalizedAt,
	}
}

// fromRecord converts from the storage representation.
func fromRecord(r *storage.EscrowRecord) *Escrow {
	return &Escrow{
		ID:             r.ID,
		CoordinationID: r.CoordinationID,
		Role:           Role(r.Role),
		Chain:          r.Chain,
		Asset:          r.Asset,
		Address:        r.Address,
		Locker:         r.Locker,
		Counterparty:   r.Counterparty,
		Amount:         r.Amount,
		SafetyDeposit:  r.SafetyDeposit,
		Hashlock:       r.Hashlock,
		Status:         Status(r.Status),
		Schedule: timelock.Schedule{
			T0:                      r.T0,
			WithdrawalPrivateStart:  r.WithdrawalPrivateStart,
			WithdrawalPublicStart:   r.WithdrawalPublicStart,
			CancellationStart:       r.CancellationStart,
			CancellationPublicStart: r.CancellationPublicStart,
		},
		ExecutedBy:    r.ExecutedBy,
		Secret:        r.Secret,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		FundedAt:      r.FundedAt,
		FinalizedAt:   r.FinalizedAt,
	}
}
