// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the crosslock engine.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "crosslock.db")

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	// Initialize schema
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Settings/config table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- =========================================================================
	-- Escrows
	-- =========================================================================

	-- One row per escrow leg. The timelock schedule is stored inline as
	-- absolute unix timestamps so window checks survive a restart.
	CREATE TABLE IF NOT EXISTS escrows (
		id TEXT PRIMARY KEY,
		coordination_id TEXT NOT NULL,

		-- Which leg this escrow is
		role TEXT NOT NULL,
		chain TEXT NOT NULL,
		asset TEXT NOT NULL,
		address TEXT NOT NULL,

		-- Parties
		locker TEXT NOT NULL,
		counterparty TEXT NOT NULL,

		-- Amounts in the chain's smallest unit
		amount INTEGER NOT NULL,
		safety_deposit INTEGER NOT NULL,

		-- SHA-256 hashlock, hex encoded
		hashlock TEXT NOT NULL,

		-- Lifecycle state (created, funded, active, withdrawn, cancelled)
		status TEXT NOT NULL DEFAULT 'created',

		-- Timelock schedule (unix seconds)
		t0 INTEGER NOT NULL,
		withdrawal_private_start INTEGER NOT NULL,
		withdrawal_public_start INTEGER NOT NULL,
		cancellation_start INTEGER NOT NULL,
		cancellation_public_start INTEGER NOT NULL,

		-- Finalization
		executed_by TEXT,
		secret TEXT,
		failure_reason TEXT,

		-- Timing
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		funded_at INTEGER,
		finalized_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_escrows_coordination ON escrows(coordination_id);
	CREATE INDEX IF NOT EXISTS idx_escrows_status ON escrows(status);
	CREATE INDEX IF NOT EXISTS idx_escrows_chain ON escrows(chain);
	CREATE INDEX IF NOT EXISTS idx_escrows_hashlock ON escrows(hashlock);

	-- Escrow event log (audit trail per escrow)
	CREATE TABLE IF NOT EXISTS escrow_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		escrow_id TEXT NOT NULL,
		event TEXT NOT NULL,
		detail TEXT,
		created_at INTEGER NOT NULL,

		FOREIGN KEY (escrow_id) REFERENCES escrows(id)
	);

	CREATE INDEX IF NOT EXISTS idx_escrow_events_escrow ON escrow_events(escrow_id);

	-- =========================================================================
	-- Coordination
	-- =========================================================================

	-- One row per cross-chain swap. Links the two escrow legs and keeps
	-- the full timelock plan as JSON for recovery and extension.
	CREATE TABLE IF NOT EXISTS coordination_records (
		id TEXT PRIMARY KEY,
		order_hash TEXT NOT NULL,
		hashlock TEXT NOT NULL,

		-- State (pending, escrows_created, active, secret_revealed, completed, failed)
		state TEXT NOT NULL DEFAULT 'pending',

		-- Legs
		src_chain TEXT NOT NULL,
		dst_chain TEXT NOT NULL,
		src_escrow_id TEXT,
		dst_escrow_id TEXT,
		src_amount INTEGER NOT NULL,
		dst_amount INTEGER NOT NULL,

		-- Parties
		maker TEXT NOT NULL,
		taker TEXT NOT NULL,

		-- Plan parameters
		total_duration INTEGER NOT NULL,
		buffer INTEGER NOT NULL,
		plan TEXT NOT NULL,
		extensions INTEGER NOT NULL DEFAULT 0,

		-- Failure tracking
		failure_reason TEXT,

		-- Timing
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_coordination_order_hash ON coordination_records(order_hash);
	CREATE INDEX IF NOT EXISTS idx_coordination_state ON coordination_records(state);
	CREATE INDEX IF NOT EXISTS idx_coordination_hashlock ON coordination_records(hashlock);

	-- Coordination event log
	CREATE TABLE IF NOT EXISTS coordination_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		coordination_id TEXT NOT NULL,
		event TEXT NOT NULL,
		detail TEXT,
		created_at INTEGER NOT NULL,

		FOREIGN KEY (coordination_id) REFERENCES coordination_records(id)
	);

	CREATE INDEX IF NOT EXISTS idx_coordination_events_record ON coordination_events(coordination_id);

	-- =========================================================================
	-- Safety deposit ledger
	-- =========================================================================

	-- One row per escrow leg's deposit. Held on creation, paid to the
	-- executing caller when the escrow finalizes.
	CREATE TABLE IF NOT EXISTS deposit_ledger (
		escrow_id TEXT PRIMARY KEY,
		coordination_id TEXT NOT NULL,
		chain TEXT NOT NULL,
		amount INTEGER NOT NULL,

		-- Status (held, paid)
		status TEXT NOT NULL DEFAULT 'held',
		payee TEXT,

		created_at INTEGER NOT NULL,
		paid_at INTEGER,

		FOREIGN KEY (escrow_id) REFERENCES escrows(id)
	);

	CREATE INDEX IF NOT EXISTS idx_deposit_ledger_coordination ON deposit_ledger(coordination_id);
	CREATE INDEX IF NOT EXISTS idx_deposit_ledger_status ON deposit_ledger(status);

	-- =========================================================================
	-- Revealed secrets
	-- =========================================================================

	-- Hashlock is the primary key: a hashlock binds to exactly one
	-- coordination record, ever. Reuse fails the insert.
	CREATE TABLE IF NOT EXISTS revealed_secrets (
		hashlock TEXT PRIMARY KEY,
		coordination_id TEXT NOT NULL,
		escrow_id TEXT NOT NULL,
		secret TEXT NOT NULL,
		source_chain TEXT NOT NULL,
		observed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_revealed_secrets_coordination ON revealed_secrets(coordination_id);

	-- =========================================================================
	-- Executor credentials
	-- =========================================================================

	-- Registered callers allowed to execute public-window operations.
	CREATE TABLE IF NOT EXISTS credentials (
		caller TEXT PRIMARY KEY,
		pubkey TEXT NOT NULL,
		registered_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SetSetting stores a key/value setting.
func (s *Storage) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := s.db.Exec(query, key, value, time.Now().Unix())
	return err
}

// GetSetting returns a setting value, empty string if unset.
func (s *Storage) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Helper functions

func timeToUnixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
