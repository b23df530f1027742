package backend

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// withdrawnTopic matches the escrow factory's withdrawal event:
// EscrowWithdrawn(address indexed escrow, bytes32 secret).
var withdrawnTopic = crypto.Keccak256Hash([]byte("EscrowWithdrawn(address,bytes32)"))

// EVMBackend observes escrows on an EVM chain through a JSON-RPC node.
// The escrow contracts settle themselves on withdrawal and
// cancellation, so Payout is observation-only here.
type EVMBackend struct {
	symbol      string
	url         string
	factory     common.Address
	finalityLag time.Duration

	mu        sync.RWMutex
	client    *ethclient.Client
	connected bool

	// log filter cursor
	lastBlock uint64

	// partition tracking
	lastSeen         time.Time
	partitionedSince time.Time
}

// NewEVMBackend creates a backend for an EVM chain.
func NewEVMBackend(symbol, url string, factory common.Address, finalityLag time.Duration) *EVMBackend {
	return &EVMBackend{
		symbol:      symbol,
		url:         url,
		factory:     factory,
		finalityLag: finalityLag,
	}
}

// Type returns TypeEVM.
func (e *EVMBackend) Type() Type {
	return TypeEVM
}

// Chain returns the chain symbol.
func (e *EVMBackend) Chain() string {
	return e.symbol
}

// Connect dials the node and records the current head as the log cursor.
func (e *EVMBackend) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	client, err := ethclient.DialContext(ctx, e.url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	height, err := client.BlockNumber(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	e.client = client
	e.lastBlock = height
	e.lastSeen = time.Now()
	e.connected = true
	return nil
}

// Close closes the connection.
func (e *EVMBackend) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
	e.connected = false
	return nil
}

// IsConnected returns true if connected.
func (e *EVMBackend) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Balance returns the native balance at an escrow address.
func (e *EVMBackend) Balance(ctx context.Context, address string) (uint64, error) {
	e.mu.RLock()
	client := e.client
	e.mu.RUnlock()
	if client == nil {
		return 0, ErrNotConnected
	}

	bal, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, fmt.Errorf("balance query: %w", err)
	}
	if !bal.IsUint64() {
		return 0, fmt.Errorf("balance overflows uint64: %s", bal.String())
	}
	return bal.Uint64(), nil
}

// Payout is not supported, the escrow contract pays out itself when a
// withdrawal or cancellation executes on chain.
func (e *EVMBackend) Payout(ctx context.Context, from, to string, amount uint64) error {
	return fmt.Errorf("%w: evm escrows settle on chain", ErrUnsupportedOperation)
}

// Health probes the node head and declares a partition once the node
// stops answering or advancing.
func (e *EVMBackend) Health(ctx context.Context) (*Health, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	h := &Health{
		FinalityLag: e.finalityLag,
		CheckedAt:   now,
	}

	if e.client == nil {
		h.Status = HealthPartitioned
		h.PartitionFor = e.markPartitioned(now)
		return h, nil
	}

	height, err := e.client.BlockNumber(ctx)
	if err != nil {
		h.Status = HealthPartitioned
		h.PartitionFor = e.markPartitioned(now)
		return h, nil
	}

	h.Status = HealthHealthy
	h.BlockHeight = int64(height)
	e.lastSeen = now
	e.partitionedSince = time.Time{}
	return h, nil
}

func (e *EVMBackend) markPartitioned(now time.Time) time.Duration {
	if e.partitionedSince.IsZero() {
		since := e.lastSeen
		if since.IsZero() {
			since = now
		}
		e.partitionedSince = since
	}
	return now.Sub(e.partitionedSince)
}

// SecretReveals filters factory logs since the last call and extracts
// the secrets revealed by executed withdrawals.
func (e *EVMBackend) SecretReveals(ctx context.Context, since time.Time) ([]SecretReveal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return nil, ErrNotConnected
	}
	if e.factory == (common.Address{}) {
		return nil, nil
	}

	latest, err := e.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("head query: %w", err)
	}
	if latest <= e.lastBlock {
		return nil, nil
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(e.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(latest),
		Addresses: []common.Address{e.factory},
		Topics:    [][]common.Hash{{withdrawnTopic}},
	}

	logs, err := e.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("log filter: %w", err)
	}
	e.lastBlock = latest

	now := time.Now()
	var reveals []SecretReveal
	for _, lg := range logs {
		if len(lg.Topics) < 2 || len(lg.Data) < 32 {
			continue
		}
		escrow := common.BytesToAddress(lg.Topics[1].Bytes())
		secret := make([]byte, 32)
		copy(secret, lg.Data[:32])
		reveals = append(reveals, SecretReveal{
			EscrowAddress: escrow.Hex(),
			Secret:        secret,
			ObservedAt:    now,
		})
	}
	return reveals, nil
}

var (
	_ Backend       = (*EVMBackend)(nil)
	_ SecretWatcher = (*EVMBackend)(nil)
)
