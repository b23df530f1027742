package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/coordinator"
	"github.com/crosslock-exchange/crosslock/internal/escrow"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/internal/timelock"
	"github.com/crosslock-exchange/crosslock/pkg/helpers"
)

// Version of the engine
const Version = "0.1.0-dev"

// ========================================
// Engine handlers
// ========================================

// EngineStatusResult is the response for engine_status.
type EngineStatusResult struct {
	Running   bool     `json:"running"`
	Version   string   `json:"version"`
	Chains    []string `json:"chains"`
	Escrows   int      `json:"escrows"`
	Uptime    string   `json:"uptime"`
	WSClients int      `json:"ws_clients"`
}

func (s *Server) engineStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	open, finalized, err := s.store.EscrowCount()
	if err != nil {
		return nil, err
	}

	wsClients := 0
	if s.wsHub != nil {
		wsClients = s.wsHub.ClientCount()
	}

	return &EngineStatusResult{
		Running:   true,
		Version:   Version,
		Chains:    s.backends.List(),
		Escrows:   open + finalized,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		WSClients: wsClients,
	}, nil
}

// ========================================
// Escrow handlers
// ========================================

// EscrowCreateParams is the request for escrow_create.
type EscrowCreateParams struct {
	CoordinationID string            `json:"coordination_id,omitempty"`
	Role           string            `json:"role"`
	Chain          string            `json:"chain"`
	Asset          string            `json:"asset,omitempty"`
	Address        string            `json:"address"`
	Locker         string            `json:"locker"`
	Counterparty   string            `json:"counterparty"`
	Amount         uint64            `json:"amount"`
	SafetyDeposit  uint64            `json:"safety_deposit"`
	Hashlock       string            `json:"hashlock"`
	Schedule       timelock.Schedule `json:"schedule"`
}

func (s *Server) escrowCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p EscrowCreateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrInvalidParams, err)
	}

	e, err := s.machine.Create(ctx, &escrow.CreateParams{
		CoordinationID: p.CoordinationID,
		Role:           escrow.Role(p.Role),
		Chain:          p.Chain,
		Asset:          p.Asset,
		Address:        p.Address,
		Locker:         p.Locker,
		Counterparty:   p.Counterparty,
		Amount:         p.Amount,
		SafetyDeposit:  p.SafetyDeposit,
		Hashlock:       p.Hashlock,
		Schedule:       p.Schedule,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("escrow created via RPC", "id", e.ID, "chain", e.Chain)
	return e, nil
}

// EscrowIDParams identifies an escrow.
type EscrowIDParams struct {
	ID string `json:"id"`
}

func (s *Server) escrowFund(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p EscrowIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrInvalidParams, err)
	}
	return s.machine.Fund(ctx, p.ID)
}

// EscrowWithdrawParams is the request for escrow_withdraw.
type EscrowWithdrawParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`

	// Secret is the hashlock preimage, hex encoded.
	Secret string `json:"secret"`
}

func (s *Server) escrowWithdraw(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p EscrowWithdrawParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrInvalidParams, err)
	}

	secret, err := helpers.HexToBytes(p.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: secret: %v", escrow.ErrInvalidParams, err)
	}
	return s.machine.Withdraw(ctx, p.ID, p.Caller, secret)
}

// EscrowCancelParams is the request for escrow_cancel.
type EscrowCancelParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

func (s *Server) escrowCancel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p EscrowCancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrInvalidParams, err)
	}
	return s.machine.Cancel(ctx, p.ID, p.Caller)
}

// EscrowStatusResult is the response for escrow_status.
type EscrowStatusResult struct {
	Escrow *escrow.Escrow `json:"escrow"`

	// EffectiveStatus folds expiry into the stored status.
	EffectiveStatus escrow.Status          `json:"effective_status"`
	Events          []*storage.EscrowEvent `json:"events"`
}

func (s *Server) escrowStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p EscrowIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrInvalidParams, err)
	}

	e, err := s.machine.Get(p.ID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.GetEscrowEvents(p.ID)
	if err != nil {
		return nil, err
	}

	return &EscrowStatusResult{
		Escrow:          e,
		EffectiveStatus: e.EffectiveStatus(time.Now()),
		Events:          events,
	}, nil
}

// ListParams bounds a listing.
type ListParams struct {
	Limit            int  `json:"limit,omitempty"`
	IncludeFinalized bool `json:"include_finalized,omitempty"`
}

// EscrowListResult is the response for escrow_list.
type EscrowListResult struct {
	Escrows []*escrow.Escrow `json:"escrows"`
	Count   int              `json:"count"`
}

func (s *Server) escrowList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	p := ListParams{Limit: 100}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", escrow.ErrInvalidParams, err)
		}
	}

	escrows, err := s.machine.List(p.Limit, p.IncludeFinalized)
	if err != nil {
		return nil, err
	}
	return &EscrowListResult{Escrows: escrows, Count: len(escrows)}, nil
}

// ========================================
// Coordination handlers
// ========================================

// CoordinationCreateParams is the request for coordination_create.
type CoordinationCreateParams struct {
	SrcChain         string `json:"src_chain"`
	DstChain         string `json:"dst_chain"`
	SrcAsset         string `json:"src_asset,omitempty"`
	DstAsset         string `json:"dst_asset,omitempty"`
	SrcAmount        uint64 `json:"src_amount"`
	DstAmount        uint64 `json:"dst_amount"`
	Maker            string `json:"maker"`
	Taker            string `json:"taker"`
	SrcEscrowAddress string `json:"src_escrow_address,omitempty"`
	DstEscrowAddress string `json:"dst_escrow_address,omitempty"`
	SrcSafetyDeposit uint64 `json:"src_safety_deposit"`
	DstSafetyDeposit uint64 `json:"dst_safety_deposit"`
	Hashlock         string `json:"hashlock"`
	DurationSeconds  int64  `json:"duration_seconds"`
}

func (s *Server) coordinationCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CoordinationCreateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", coordinator.ErrInvalidSwapParams, err)
	}

	return s.coord.CreateSwap(ctx, &coordinator.SwapParams{
		SrcChain:         p.SrcChain,
		DstChain:         p.DstChain,
		SrcAsset:         p.SrcAsset,
		DstAsset:         p.DstAsset,
		SrcAmount:        p.SrcAmount,
		DstAmount:        p.DstAmount,
		Maker:            p.Maker,
		Taker:            p.Taker,
		SrcEscrowAddress: p.SrcEscrowAddress,
		DstEscrowAddress: p.DstEscrowAddress,
		SrcSafetyDeposit: p.SrcSafetyDeposit,
		DstSafetyDeposit: p.DstSafetyDeposit,
		Hashlock:         p.Hashlock,
		Duration:         time.Duration(p.DurationSeconds) * time.Second,
	})
}

// CoordinationIDParams identifies a coordination record.
type CoordinationIDParams struct {
	ID string `json:"id"`
}

// CoordinationStatusResult is the response for coordination_status.
type CoordinationStatusResult struct {
	Record  *storage.CoordinationRecord  `json:"record"`
	Escrows []*escrow.Escrow             `json:"escrows"`
	Events  []*storage.CoordinationEvent `json:"events"`
}

func (s *Server) coordinationStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CoordinationIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", coordinator.ErrInvalidSwapParams, err)
	}

	rec, err := s.coord.Get(p.ID)
	if err != nil {
		return nil, err
	}
	escrows, err := s.machine.ByCoordination(p.ID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.GetCoordinationEvents(p.ID)
	if err != nil {
		return nil, err
	}

	return &CoordinationStatusResult{Record: rec, Escrows: escrows, Events: events}, nil
}

// CoordinationListParams bounds a coordination listing.
type CoordinationListParams struct {
	Limit            int  `json:"limit,omitempty"`
	IncludeCompleted bool `json:"include_completed,omitempty"`
}

// CoordinationListResult is the response for coordination_list.
type CoordinationListResult struct {
	Records []*storage.CoordinationRecord `json:"records"`
	Count   int                           `json:"count"`
}

func (s *Server) coordinationList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	p := CoordinationListParams{Limit: 100}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", coordinator.ErrInvalidSwapParams, err)
		}
	}

	records, err := s.coord.List(p.Limit, p.IncludeCompleted)
	if err != nil {
		return nil, err
	}
	return &CoordinationListResult{Records: records, Count: len(records)}, nil
}

// ========================================
// Safety deposit ledger handlers
// ========================================

// LedgerEntryParams is the request for ledger_entry.
type LedgerEntryParams struct {
	EscrowID       string `json:"escrow_id,omitempty"`
	CoordinationID string `json:"coordination_id,omitempty"`
}

func (s *Server) ledgerEntry(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p LedgerEntryParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrInvalidParams, err)
	}

	if p.EscrowID != "" {
		return s.deposits.Entry(p.EscrowID)
	}
	if p.CoordinationID != "" {
		return s.deposits.EntriesFor(p.CoordinationID)
	}
	return nil, fmt.Errorf("%w: escrow_id or coordination_id required", escrow.ErrInvalidParams)
}

// LedgerTotalsResult is the response for ledger_totals.
type LedgerTotalsResult struct {
	Held map[string]uint64 `json:"held"`
	Paid map[string]uint64 `json:"paid"`
}

func (s *Server) ledgerTotals(ctx context.Context, params json.RawMessage) (interface{}, error) {
	held, paid, err := s.deposits.Totals()
	if err != nil {
		return nil, err
	}
	return &LedgerTotalsResult{Held: held, Paid: paid}, nil
}

// ========================================
// Credential handlers
// ========================================

// CredentialRegisterParams is the request for credential_register.
type CredentialRegisterParams struct {
	Caller string `json:"caller"`

	// PubKey is a compressed secp256k1 public key, hex encoded.
	PubKey string `json:"pubkey"`
}

func (s *Server) credentialRegister(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CredentialRegisterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", escrow.ErrInvalidCredential, err)
	}

	if err := s.creds.Register(p.Caller, p.PubKey); err != nil {
		return nil, err
	}
	s.log.Info("credential registered", "caller", p.Caller)
	return map[string]bool{"registered": true}, nil
}

func (s *Server) credentialList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.creds.List()
}
