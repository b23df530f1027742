// Package storage - Coordination record persistence.
// A coordination record ties the two escrow legs of a cross-chain swap
// together and stores the timelock plan for recovery and extension.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Coordination persistence errors
var (
	ErrCoordinationNotFound = errors.New("coordination record not found")
	ErrOrderHashExists      = errors.New("order hash already coordinated")
)

// CoordinationState represents the state of a coordination record.
type CoordinationState string

const (
	CoordinationStatePending        CoordinationState = "pending"
	CoordinationStateEscrowsCreated CoordinationState = "escrows_created"
	CoordinationStateActive         CoordinationState = "active"
	CoordinationStateSecretRevealed CoordinationState = "secret_revealed"
	CoordinationStateCompleted      CoordinationState = "completed"
	CoordinationStateFailed         CoordinationState = "failed"
)

// CoordinationRecord represents a persisted cross-chain coordination.
type CoordinationRecord struct {
	// Identity
	ID        string `json:"id"`
	OrderHash string `json:"order_hash"`
	Hashlock  string `json:"hashlock"`

	// State
	State CoordinationState `json:"state"`

	// Legs
	SrcChain    string `json:"src_chain"`
	DstChain    string `json:"dst_chain"`
	SrcEscrowID string `json:"src_escrow_id,omitempty"`
	DstEscrowID string `json:"dst_escrow_id,omitempty"`
	SrcAmount   uint64 `json:"src_amount"`
	DstAmount   uint64 `json:"dst_amount"`

	// Parties
	Maker string `json:"maker"`
	Taker string `json:"taker"`

	// Plan parameters
	TotalDuration time.Duration   `json:"total_duration"`
	Buffer        time.Duration   `json:"buffer"`
	Plan          json.RawMessage `json:"plan"`
	Extensions    int             `json:"extensions"`

	// Failure tracking
	FailureReason string `json:"failure_reason,omitempty"`

	// Timing
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// SaveCoordination saves or updates a coordination record.
// Uses UPSERT pattern - creates if not exists, updates if exists.
// A conflicting order hash on a different record fails the insert.
func (s *Storage) SaveCoordination(c *CoordinationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `
		INSERT INTO coordination_records (
			id, order_hash, hashlock, state,
			src_chain, dst_chain, src_escrow_id, dst_escrow_id,
			src_amount, dst_amount, maker, taker,
			total_duration, buffer, plan, extensions,
			failure_reason, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			src_escrow_id = excluded.src_escrow_id,
			dst_escrow_id = excluded.dst_escrow_id,
			plan = excluded.plan,
			extensions = excluded.extensions,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`

	_, err := s.db.Exec(query,
		c.ID,
		c.OrderHash,
		c.Hashlock,
		string(c.State),
		c.SrcChain,
		c.DstChain,
		c.SrcEscrowID,
		c.DstEscrowID,
		c.SrcAmount,
		c.DstAmount,
		c.Maker,
		c.Taker,
		int64(c.TotalDuration/time.Second),
		int64(c.Buffer/time.Second),
		string(c.Plan),
		c.Extensions,
		c.FailureReason,
		c.CreatedAt.Unix(),
		c.UpdatedAt.Unix(),
		timeToUnixOrZero(c.CompletedAt),
	)
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) &&
		sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(err.Error(), "order_hash") {
		return ErrOrderHashExists
	}
	return err
}

// GetCoordination retrieves a coordination record by ID.
func (s *Storage) GetCoordination(id string) (*CoordinationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(coordinationSelect+" WHERE id = ?", id)
	c, err := scanCoordinationRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrCoordinationNotFound
	}
	return c, err
}

// GetCoordinationByOrderHash retrieves a coordination record by its order hash.
func (s *Storage) GetCoordinationByOrderHash(orderHash string) (*CoordinationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(coordinationSelect+" WHERE order_hash = ?", orderHash)
	c, err := scanCoordinationRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrCoordinationNotFound
	}
	return c, err
}

// GetOpenCoordinations returns all records that are not in a terminal
// state. These drive recovery on startup and the reconcile loop.
func (s *Storage) GetOpenCoordinations() ([]*CoordinationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(coordinationSelect + `
		WHERE state NOT IN ('completed', 'failed')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCoordinationRecords(rows)
}

// ListCoordinations returns records ordered by last update, newest first.
func (s *Storage) ListCoordinations(limit int, includeCompleted bool) ([]*CoordinationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := coordinationSelect
	if !includeCompleted {
		query += " WHERE state NOT IN ('completed', 'failed')"
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
	return collectCoordinationRecords(rows)
}

// AppendCoordinationEvent records one entry in a coordination record's
// audit trail.
func (s *Storage) AppendCoordinationEvent(coordinationID, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO coordination_events (coordination_id, event, detail, created_at) VALUES (?, ?, ?, ?)",
		coordinationID, event, detail, time.Now().Unix(),
	)
	return err
}

// CoordinationEvent is one entry in a coordination record's audit trail.
type CoordinationEvent struct {
	CoordinationID string    `json:"coordination_id"`
	Event          string    `json:"event"`
	Detail         string    `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// GetCoordinationEvents returns a record's audit trail, oldest first.
func (s *Storage) GetCoordinationEvents(coordinationID string) ([]*CoordinationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT coordination_id, event, detail, created_at FROM coordination_events WHERE coordination_id = ? ORDER BY id ASC",
		coordinationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*CoordinationEvent
	for rows.Next() {
		var ev CoordinationEvent
		var detail sql.NullString
		var createdAt int64
		if err := rows.Scan(&ev.CoordinationID, &ev.Event, &detail, &createdAt); err != nil {
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

const coordinationSelect = `
	SELECT id, order_hash, hashlock, state,
		src_chain, dst_chain, src_escrow_id, dst_escrow_id,
		src_amount, dst_amount, maker, taker,
		total_duration, buffer, plan, extensions,
		failure_reason, created_at, updated_at, completed_at
	FROM coordination_records`

func scanCoordinationRecord(row scanner) (*CoordinationRecord, error) {
	var c CoordinationRecord
	var srcEscrowID, dstEscrowID, plan, failureReason sql.NullString
	var totalDuration, buffer int64
	var createdAt, updatedAt, completedAt int64

	err := row.Scan(
		&c.ID,
		&c.OrderHash,
		&c.Hashlock,
		&c.State,
		&c.SrcChain,
		&c.DstChain,
		&srcEscrowID,
		&dstEscrowID,
		&c.SrcAmount,
		&c.DstAmount,
		&c.Maker,
		&c.Taker,
		&totalDuration,
		&buffer,
		&plan,
		&c.Extensions,
		&failureReason,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if srcEscrowID.Valid {
		c.SrcEscrowID = srcEscrowID.String
	}
	if dstEscrowID.Valid {
		c.DstEscrowID = dstEscrowID.String
	}
	if plan.Valid {
		c.Plan = json.RawMessage(plan.String)
	}
	if failureReason.Valid {
		c.FailureReason = failureReason.String
	}

	c.TotalDuration = time.Duration(totalDuration) * time.Second
	c.Buffer = time.Duration(buffer) * time.Second
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt > 0 {
		c.CompletedAt = time.Unix(completedAt, 0)
	}

	return &c, nil
}

func collectCoordinationRecords(rows *sql.Rows) ([]*CoordinationRecord, error) {
	var records []*CoordinationRecord
	for rows.Next() {
		c, err := scanCoordinationRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, c)
	}
	return records, rows.Err()
}
