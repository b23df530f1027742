package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/crosslock-exchange/crosslock/pkg/helpers"
)

// GatewayBackend talks to a canister-hosted ledger through its HTTP
// gateway. The gateway executes payouts itself; the engine submits the
// instruction and verifies the resulting balances.
type GatewayBackend struct {
	symbol      string
	baseURL     string
	finalityLag time.Duration
	httpClient  *http.Client

	mu        sync.RWMutex
	connected bool

	lastSeen         time.Time
	partitionedSince time.Time
}

// NewGatewayBackend creates a gateway backend.
func NewGatewayBackend(symbol, baseURL string, finalityLag time.Duration) *GatewayBackend {
	return &GatewayBackend{
		symbol:      symbol,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		finalityLag: finalityLag,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Type returns TypeGateway.
func (g *GatewayBackend) Type() Type {
	return TypeGateway
}

// Chain returns the chain symbol.
func (g *GatewayBackend) Chain() string {
	return g.symbol
}

// Connect tests the connection with a health probe.
func (g *GatewayBackend) Connect(ctx context.Context) error {
	var result struct {
		Status string `json:"status"`
	}
	if err := g.get(ctx, "/v1/health", &result); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	g.lastSeen = time.Now()
	return nil
}

// Close closes the connection.
func (g *GatewayBackend) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	return nil
}

// IsConnected returns true if connected.
func (g *GatewayBackend) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

// Balance returns the balance at an escrow address.
func (g *GatewayBackend) Balance(ctx context.Context, address string) (uint64, error) {
	var result struct {
		Balance uint64 `json:"balance"`
	}
	if err := g.get(ctx, "/v1/escrow/"+address+"/balance", &result); err != nil {
		return 0, err
	}
	return result.Balance, nil
}

// Payout instructs the gateway to release funds from an escrow address.
func (g *GatewayBackend) Payout(ctx context.Context, from, to string, amount uint64) error {
	body := struct {
		To     string `json:"to"`
		Amount uint64 `json:"amount"`
	}{To: to, Amount: amount}

	return g.post(ctx, "/v1/escrow/"+from+"/payout", body, nil)
}

// Health probes the gateway and declares a partition when it stops
// answering.
func (g *GatewayBackend) Health(ctx context.Context) (*Health, error) {
	var result struct {
		Status      string `json:"status"`
		BlockHeight int64  `json:"block_height"`
	}
	err := g.get(ctx, "/v1/health", &result)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	h := &Health{
		FinalityLag: g.finalityLag,
		CheckedAt:   now,
	}

	if err != nil || result.Status != "ok" {
		h.Status = HealthPartitioned
		if g.partitionedSince.IsZero() {
			since := g.lastSeen
			if since.IsZero() {
				since = now
			}
			g.partitionedSince = since
		}
		h.PartitionFor = now.Sub(g.partitionedSince)
		return h, nil
	}

	h.Status = HealthHealthy
	h.BlockHeight = result.BlockHeight
	g.lastSeen = now
	g.partitionedSince = time.Time{}
	return h, nil
}

// SecretReveals returns secrets the gateway observed since the given
// instant.
func (g *GatewayBackend) SecretReveals(ctx context.Context, since time.Time) ([]SecretReveal, error) {
	var result []struct {
		EscrowAddress string    `json:"escrow_address"`
		Secret        string    `json:"secret"`
		ObservedAt    time.Time `json:"observed_at"`
	}
	path := "/v1/reveals?since=" + since.UTC().Format(time.RFC3339)
	if err := g.get(ctx, path, &result); err != nil {
		return nil, err
	}

	reveals := make([]SecretReveal, 0, len(result))
	for _, r := range result {
		secret, err := helpers.HexToBytes(r.Secret)
		if err != nil {
			continue
		}
		reveals = append(reveals, SecretReveal{
			EscrowAddress: r.EscrowAddress,
			Secret:        secret,
			ObservedAt:    r.ObservedAt,
		})
	}
	return reveals, nil
}

func (g *GatewayBackend) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", g.baseURL+path, nil)
	if err != nil {
		return err
	}
	return g.do(req, out)
}

func (g *GatewayBackend) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, out)
}

func (g *GatewayBackend) do(req *http.Request, out interface{}) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrAddressNotFound
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	_ Backend       = (*GatewayBackend)(nil)
	_ SecretWatcher = (*GatewayBackend)(nil)
)
