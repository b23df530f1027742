package backend

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimBackend is an in-memory ledger used for tests and local
// development. It supports the full Backend surface plus direct
// funding and scripted health, so a swap can run end to end without
// external nodes.
type SimBackend struct {
	symbol      string
	finalityLag time.Duration

	mu        sync.RWMutex
	connected bool
	balances  map[string]uint64
	reveals   []SecretReveal

	partitionedSince time.Time
}

// NewSimBackend creates a simulated ledger for the given chain symbol.
func NewSimBackend(symbol string, finalityLag time.Duration) *SimBackend {
	return &SimBackend{
		symbol:      symbol,
		finalityLag: finalityLag,
		balances:    make(map[string]uint64),
	}
}

// Type returns TypeSim.
func (s *SimBackend) Type() Type {
	return TypeSim
}

// Chain returns the chain symbol.
func (s *SimBackend) Chain() string {
	return s.symbol
}

// Connect marks the backend connected.
func (s *SimBackend) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// Close marks the backend disconnected.
func (s *SimBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// IsConnected returns true if connected.
func (s *SimBackend) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Fund credits an address.
func (s *SimBackend) Fund(ctx context.Context, address string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[address] += amount
	return nil
}

// Balance returns the balance at an address.
func (s *SimBackend) Balance(ctx context.Context, address string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[address], nil
}

// Payout moves funds from one address to another.
func (s *SimBackend) Payout(ctx context.Context, from, to string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientFunds, from, s.balances[from], amount)
	}
	s.balances[from] -= amount
	s.balances[to] += amount
	return nil
}

// Health reports the scripted health state.
func (s *SimBackend) Health(ctx context.Context) (*Health, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	h := &Health{
		Status:      HealthHealthy,
		FinalityLag: s.finalityLag,
		CheckedAt:   now,
	}
	if !s.partitionedSince.IsZero() {
		h.Status = HealthPartitioned
		h.PartitionFor = now.Sub(s.partitionedSince)
	}
	return h, nil
}

// SetPartitioned scripts a partition starting at the given instant.
// A zero time clears the partition.
func (s *SimBackend) SetPartitioned(since time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitionedSince = since
}

// RecordReveal registers a secret reveal as if a withdrawal had
// executed on chain.
func (s *SimBackend) RecordReveal(escrowAddress string, secret []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reveals = append(s.reveals, SecretReveal{
		EscrowAddress: escrowAddress,
		Secret:        append([]byte(nil), secret...),
		ObservedAt:    time.Now(),
	})
}

// SecretReveals returns reveals observed since the given instant.
func (s *SimBackend) SecretReveals(ctx context.Context, since time.Time) ([]SecretReveal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SecretReveal
	for _, r := range s.reveals {
		if r.ObservedAt.After(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

var (
	_ Backend       = (*SimBackend)(nil)
	_ Funder        = (*SimBackend)(nil)
	_ SecretWatcher = (*SimBackend)(nil)
)
