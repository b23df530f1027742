// Package storage - Revealed secret persistence.
// The hashlock is the primary key: a hashlock binds to exactly one
// coordination record for its lifetime, so recording a reveal for an
// already-used hashlock fails.
package storage

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Secret persistence errors
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrHashlockUsed   = errors.New("hashlock already bound")
)

// RevealedSecret is a secret observed on chain, keyed by its hashlock.
type RevealedSecret struct {
	Hashlock       string    `json:"hashlock"`
	CoordinationID string    `json:"coordination_id"`
	EscrowID       string    `json:"escrow_id"`
	Secret         string    `json:"secret"`
	SourceChain    string    `json:"source_chain"`
	ObservedAt     time.Time `json:"observed_at"`
}

// SaveRevealedSecret records a revealed secret. Saving the same
// hashlock for the same coordination record is a no-op; saving it for
// a different one fails with ErrHashlockUsed.
func (s *Storage) SaveRevealedSecret(r *RevealedSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRow("SELECT coordination_id FROM revealed_secrets WHERE hashlock = ?", r.Hashlock).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		// first reveal, fall through to insert
	case err != nil:
		return err
	case existing == r.CoordinationID:
		return nil
	default:
		return ErrHashlockUsed
	}

	if r.ObservedAt.IsZero() {
		r.ObservedAt = time.Now()
	}

	_, err = s.db.Exec(
		"INSERT INTO revealed_secrets (hashlock, coordination_id, escrow_id, secret, source_chain, observed_at) VALUES (?, ?, ?, ?, ?, ?)",
		r.Hashlock, r.CoordinationID, r.EscrowID, r.Secret, r.SourceChain, r.ObservedAt.Unix(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrHashlockUsed
	}
	return err
}

// GetRevealedSecret retrieves a revealed secret by hashlock.
func (s *Storage) GetRevealedSecret(hashlock string) (*RevealedSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r RevealedSecret
	var observedAt int64
	err := s.db.QueryRow(
		"SELECT hashlock, coordination_id, escrow_id, secret, source_chain, observed_at FROM revealed_secrets WHERE hashlock = ?",
		hashlock,
	).Scan(&r.Hashlock, &r.CoordinationID, &r.EscrowID, &r.Secret, &r.SourceChain, &observedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ObservedAt = time.Unix(observedAt, 0)
	return &r, nil
}

// IsHashlockUsed reports whether a hashlock is already bound to a
// coordination record.
func (s *Storage) IsHashlockUsed(hashlock string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`
		SELECT (SELECT COUNT(*) FROM revealed_secrets WHERE hashlock = ?)
		     + (SELECT COUNT(*) FROM coordination_records WHERE hashlock = ?)`,
		hashlock, hashlock).Scan(&count)
	return count > 0, err
}
