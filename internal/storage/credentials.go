// Package storage - Executor credential persistence.
package storage

import (
	"database/sql"
	"errors"
	"time"
)

// Credential persistence errors
var (
	ErrCredentialNotFound = errors.New("credential not found")
)

// Credential is a registered public-window executor.
type Credential struct {
	Caller       string    `json:"caller"`
	PubKey       string    `json:"pubkey"`
	RegisteredAt time.Time `json:"registered_at"`
}

// SaveCredential registers or replaces a caller's credential.
func (s *Storage) SaveCredential(c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = time.Now()
	}

	query := `
		INSERT INTO credentials (caller, pubkey, registered_at) VALUES (?, ?, ?)
		ON CONFLICT(caller) DO UPDATE SET pubkey = excluded.pubkey, registered_at = excluded.registered_at
	`
	_, err := s.db.Exec(query, c.Caller, c.PubKey, c.RegisteredAt.Unix())
	return err
}

// GetCredential retrieves a caller's credential.
func (s *Storage) GetCredential(caller string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Credential
	var registeredAt int64
	err := s.db.QueryRow(
		"SELECT caller, pubkey, registered_at FROM credentials WHERE caller = ?",
		caller,
	).Scan(&c.Caller, &c.PubKey, &registeredAt)
	if err == sql.ErrNoRows {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	c.RegisteredAt = time.Unix(registeredAt, 0)
	return &c, nil
}

// HasCredential reports whether a caller is registered.
func (s *Storage) HasCredential(caller string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM credentials WHERE caller = ?", caller).Scan(&count)
	return count > 0, err
}

// ListCredentials returns all registered credentials.
func (s *Storage) ListCredentials() ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT caller, pubkey, registered_at FROM credentials ORDER BY registered_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		var c Credential
		var registeredAt int64
		if err := rows.Scan(&c.Caller, &c.PubKey, &registeredAt); err != nil {
			return nil, err
		}
		c.RegisteredAt = time.Unix(registeredAt, 0)
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}
