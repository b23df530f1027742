// Package storage - Safety deposit ledger persistence.
// One entry per escrow leg: held when the escrow is created, paid to
// the executing caller when the escrow finalizes.
package storage

import (
	"database/sql"
	"errors"
	"time"
)

// Deposit ledger errors
var (
	ErrDepositNotFound    = errors.New("deposit entry not found")
	ErrDepositAlreadyPaid = errors.New("deposit already paid")
)

// DepositStatus represents the state of a safety deposit.
type DepositStatus string

const (
	DepositStatusHeld DepositStatus = "held"
	DepositStatusPaid DepositStatus = "paid"
)

// DepositEntry is one safety deposit in the ledger.
type DepositEntry struct {
	EscrowID       string        `json:"escrow_id"`
	CoordinationID string        `json:"coordination_id"`
	Chain          string        `json:"chain"`
	Amount         uint64        `json:"amount"`
	Status         DepositStatus `json:"status"`
	Payee          string        `json:"payee,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	PaidAt         time.Time     `json:"paid_at,omitempty"`
}

// HoldDeposit records a deposit as held for an escrow. Idempotent: a
// second hold for the same escrow is a no-op.
func (s *Storage) HoldDeposit(escrowID, coordinationID, chain string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO deposit_ledger (escrow_id, coordination_id, chain, amount, status, created_at)
		VALUES (?, ?, ?, ?, 'held', ?)
		ON CONFLICT(escrow_id) DO NOTHING
	`
	_, err := s.db.Exec(query, escrowID, coordinationID, chain, amount, time.Now().Unix())
	return err
}

// PayDeposit marks a held deposit as paid to the given payee. Paying a
// deposit twice fails with ErrDepositAlreadyPaid.
func (s *Storage) PayDeposit(escrowID, payee string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		"UPDATE deposit_ledger SET status = 'paid', payee = ?, paid_at = ? WHERE escrow_id = ? AND status = 'held'",
		payee, time.Now().Unix(), escrowID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var status string
		err := s.db.QueryRow("SELECT status FROM deposit_ledger WHERE escrow_id = ?", escrowID).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrDepositNotFound
		}
		if err != nil {
			return err
		}
		return ErrDepositAlreadyPaid
	}
	return nil
}

// GetDeposit retrieves the deposit entry for an escrow.
func (s *Storage) GetDeposit(escrowID string) (*DepositEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(depositSelect+" WHERE escrow_id = ?", escrowID)
	d, err := scanDepositEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrDepositNotFound
	}
	return d, err
}

// GetDepositsByCoordination returns the deposit entries of a coordination record.
func (s *Storage) GetDepositsByCoordination(coordinationID string) ([]*DepositEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(depositSelect+" WHERE coordination_id = ? ORDER BY created_at ASC", coordinationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*DepositEntry
	for rows.Next() {
		d, err := scanDepositEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, d)
	}
	return entries, rows.Err()
}

// DepositTotals returns the summed held and paid amounts per chain.
func (s *Storage) DepositTotals() (held, paid map[string]uint64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	held = make(map[string]uint64)
	paid = make(map[string]uint64)

	rows, err := s.db.Query("SELECT chain, status, SUM(amount) FROM deposit_ledger GROUP BY chain, status")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var chain, status string
		var total uint64
		if err := rows.Scan(&chain, &status, &total); err != nil {
			return nil, nil, err
		}
		switch DepositStatus(status) {
		case DepositStatusHeld:
			held[chain] = total
		case DepositStatusPaid:
			paid[chain] = total
		}
	}
	return held, paid, rows.Err()
}

// Helper functions

const depositSelect = `
	SELECT escrow_id, coordination_id, chain, amount, status, payee, created_at, paid_at
	FROM deposit_ledger`

func scanDepositEntry(row scanner) (*DepositEntry, error) {
	var d DepositEntry
	var payee sql.NullString
	var createdAt int64
	var paidAt sql.NullInt64

	err := row.Scan(
		&d.EscrowID,
		&d.CoordinationID,
		&d.Chain,
		&d.Amount,
		&d.Status,
		&payee,
		&createdAt,
		&paidAt,
	)
	if err != nil {
		return nil, err
	}

	if payee.Valid {
		d.Payee = payee.String
	}
	d.CreatedAt = time.Unix(createdAt, 0)
	if paidAt.Valid && paidAt.Int64 > 0 {
		d.PaidAt = time.Unix(paidAt.Int64, 0)
	}

	return &d, nil
}
