// Package storage - Escrow persistence.
// CRUD operations for escrow legs and their event logs, enabling
// recovery after engine restart.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Escrow persistence errors
var (
	ErrEscrowNotFound = errors.New("escrow not found")
)

// EscrowStatus represents the lifecycle state of an escrow.
type EscrowStatus string

const (
	EscrowStatusCreated   EscrowStatus = "created"
	EscrowStatusFunded    EscrowStatus = "funded"
	EscrowStatusActive    EscrowStatus = "active"
	EscrowStatusWithdrawn EscrowStatus = "withdrawn"
	EscrowStatusCancelled EscrowStatus = "cancelled"
)

// EscrowRecord represents a persisted escrow leg.
type EscrowRecord struct {
	// Identity
	ID             string `json:"id"`
	CoordinationID string `json:"coordination_id"`

	// Leg
	Role    string `json:"role"` // "source" or "destination"
	Chain   string `json:"chain"`
	Asset   string `json:"asset"`
	Address string `json:"address"`

	// Parties
	Locker       string `json:"locker"`
	Counterparty string `json:"counterparty"`

	// Amounts in the chain's smallest unit
	Amount        uint64 `json:"amount"`
	SafetyDeposit uint64 `json:"safety_deposit"`

	// SHA-256 hashlock, hex encoded
	Hashlock string `json:"hashlock"`

	// State
	Status EscrowStatus `json:"status"`

	// Timelock schedule
	T0                      time.Time `json:"t0"`
	WithdrawalPrivateStart  time.Time `json:"withdrawal_private_start"`
	WithdrawalPublicStart   time.Time `json:"withdrawal_public_start"`
	CancellationStart       time.Time `json:"cancellation_start"`
	CancellationPublicStart time.Time `json:"cancellation_public_start"`

	// Finalization
	ExecutedBy    string `json:"executed_by,omitempty"`
	Secret        string `json:"secret,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	// Timing
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FundedAt    time.Time `json:"funded_at,omitempty"`
	FinalizedAt time.Time `json:"finalized_at,omitempty"`
}

// EscrowEvent is one entry in an escrow's audit trail.
type EscrowEvent struct {
	EscrowID  string    `json:"escrow_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveEscrow saves or updates an escrow record.
// Uses UPSERT pattern - creates if not exists, updates if exists.
func (s *Storage) SaveEscrow(e *EscrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
		INSERT INTO escrows (
			id, coordination_id, role, chain, asset, address,
			locker, counterparty, amount, safety_deposit, hashlock,
			status, t0, withdrawal_private_start, withdrawal_public_start,
			cancellation_start, cancellation_public_start,
			executed_by, secret, failure_reason,
			created_at, updated_at, funded_at, finalized_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			withdrawal_private_start = excluded.withdrawal_private_start,
			withdrawal_public_start = excluded.withdrawal_public_start,
			cancellation_start = excluded.cancellation_start,
			cancellation_public_start = excluded.cancellation_public_start,
			executed_by = excluded.executed_by,
			secret = excluded.secret,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at,
			funded_at = excluded.funded_at,
			finalized_at = excluded.finalized_at
	`

	_, err := s.db.Exec(query,
		e.ID,
		e.CoordinationID,
		e.Role,
		e.Chain,
		e.Asset,
		e.Address,
		e.Locker,
		e.Counterparty,
		e.Amount,
		e.SafetyDeposit,
		e.Hashlock,
		string(e.Status),
		e.T0.Unix(),
		e.WithdrawalPrivateStart.Unix(),
		e.WithdrawalPublicStart.Unix(),
		e.CancellationStart.Unix(),
		e.CancellationPublicStart.Unix(),
		e.ExecutedBy,
		e.Secret,
		e.FailureReason,
		e.CreatedAt.Unix(),
		e.UpdatedAt.Unix(),
		timeToUnixOrZero(e.FundedAt),
		timeToUnixOrZero(e.FinalizedAt),
	)
	return err
}

// GetEscrow retrieves an escrow by ID.
func (s *Storage) GetEscrow(id string) (*EscrowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(escrowSelect+" WHERE id = ?", id)
	e, err := scanEscrowRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

// GetEscrowsByCoordination returns the escrow legs of a coordination record.
func (s *Storage) GetEscrowsByCoordination(coordinationID string) ([]*EscrowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(escrowSelect+" WHERE coordination_id = ? ORDER BY role DESC", coordinationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrowRecords(rows)
}

// GetOpenEscrows returns all escrows that are not in a terminal state.
// These are candidates for recovery on startup.
func (s *Storage) GetOpenEscrows() ([]*EscrowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(escrowSelect + `
		WHERE status NOT IN ('withdrawn', 'cancelled')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrowRecords(rows)
}

// ListEscrows returns escrows ordered by last update, newest first.
func (s *Storage) ListEscrows(limit int, includeFinalized bool) ([]*EscrowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := escrowSelect
	if !includeFinalized {
		query += " WHERE status NOT IN ('withdrawn', 'cancelled')"
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscrowRecords(rows)
}

// EscrowCount returns counts of open and finalized escrows.
func (s *Storage) EscrowCount() (open, finalized int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM escrows WHERE status NOT IN ('withdrawn', 'cancelled')",
	).Scan(&open)
	if err != nil {
		return
	}

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM escrows WHERE status IN ('withdrawn', 'cancelled')",
	).Scan(&finalized)
	return
}

// AppendEscrowEvent records one entry in an escrow's audit trail.
func (s *Storage) AppendEscrowEvent(escrowID, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO escrow_events (escrow_id, event, detail, created_at) VALUES (?, ?, ?, ?)",
		escrowID, event, detail, time.Now().Unix(),
	)
	return err
}

// GetEscrowEvents returns an escrow's audit trail, oldest first.
func (s *Storage) GetEscrowEvents(escrowID string) ([]*EscrowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT escrow_id, event, detail, created_at FROM escrow_events WHERE escrow_id = ? ORDER BY id ASC",
		escrowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*EscrowEvent
	for rows.Next() {
		var ev EscrowEvent
		var detail sql.NullString
		var createdAt int64
		if err := rows.Scan(&ev.EscrowID, &ev.Event, &detail, &createdAt); err != nil {
			return nil, err
		}
		if detail.Valid {
			ev.Detail = detail.String
		}
		ev.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Helper functions

const escrowSelect = `
	SELECT id, coordination_id, role, chain, asset, address,
		locker, counterparty, amount, safety_deposit, hashlock,
		status, t0, withdrawal_private_start, withdrawal_public_start,
		cancellation_start, cancellation_public_start,
		executed_by, secret, failure_reason,
		created_at, updated_at, funded_at, finalized_at
	FROM escrows`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEscrowRecord(row scanner) (*EscrowRecord, error) {
	var e EscrowRecord
	var executedBy, secret, failureReason sql.NullString
	var t0, wPriv, wPub, cStart, cPub int64
	var createdAt, updatedAt, fundedAt, finalizedAt int64

	err := row.Scan(
		&e.ID,
		&e.CoordinationID,
		&e.Role,
		&e.Chain,
		&e.Asset,
		&e.Address,
		&e.Locker,
		&e.Counterparty,
		&e.Amount,
		&e.SafetyDeposit,
		&e.Hashlock,
		&e.Status,
		&t0,
		&wPriv,
		&wPub,
		&cStart,
		&cPub,
		&executedBy,
		&secret,
		&failureReason,
		&createdAt,
		&updatedAt,
		&fundedAt,
		&finalizedAt,
	)
	if err != nil {
		return nil, err
	}

	if executedBy.Valid {
		e.ExecutedBy = executedBy.String
	}
	if secret.Valid {
		e.Secret = secret.String
	}
	if failureReason.Valid {
		e.FailureReason = failureReason.String
	}

	e.T0 = time.Unix(t0, 0)
	e.WithdrawalPrivateStart = time.Unix(wPriv, 0)
	e.WithdrawalPublicStart = time.Unix(wPub, 0)
	e.CancellationStart = time.Unix(cStart, 0)
	e.CancellationPublicStart = time.Unix(cPub, 0)
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	if fundedAt > 0 {
		e.FundedAt = time.Unix(fundedAt, 0)
	}
	if finalizedAt > 0 {
		e.FinalizedAt = time.Unix(finalizedAt, 0)
	}

	return &e, nil
}

func collectEscrowRecords(rows *sql.Rows) ([]*EscrowRecord, error) {
	var escrows []*EscrowRecord
	for rows.Next() {
		e, err := scanEscrowRecord(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}
	return escrows, rows.Err()
}
