// Package coordinator drives cross-chain escrow pairs. The controller
// plans a shared timelock schedule for both legs, creates the escrows,
// and reconciles their state against chain observations: funding,
// secret reveals, partitions and expiry.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/crosslock-exchange/crosslock/internal/backend"
	"github.com/crosslock-exchange/crosslock/internal/chain"
	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/escrow"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/internal/timelock"
	"github.com/crosslock-exchange/crosslock/pkg/helpers"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// Common errors
var (
	ErrUnsupportedChain  = errors.New("unsupported chain")
	ErrInvalidSwapParams = errors.New("invalid swap parameters")
	ErrHashlockReused    = errors.New("hashlock already bound to another swap")
	ErrPartitionDetected = errors.New("chain partition detected")
	ErrRecordNotFound    = storage.ErrCoordinationNotFound
)

// SwapParams describes a cross-chain swap to coordinate.
type SwapParams struct {
	SrcChain string `json:"src_chain"`
	DstChain string `json:"dst_chain"`

	SrcAmount uint64 `json:"src_amount"`
	DstAmount uint64 `json:"dst_amount"`

	// Asset symbols. Empty resolves to each chain's native asset.
	SrcAsset string `json:"src_asset,omitempty"`
	DstAsset string `json:"dst_asset,omitempty"`

	// Maker locks on the source chain and holds the secret; taker
	// locks on the destination chain.
	Maker string `json:"maker"`
	Taker string `json:"taker"`

	// Escrow addresses. Empty derives a deterministic address from
	// the order hash and chain.
	SrcEscrowAddress string `json:"src_escrow_address,omitempty"`
	DstEscrowAddress string `json:"dst_escrow_address,omitempty"`

	SrcSafetyDeposit uint64 `json:"src_safety_deposit"`
	DstSafetyDeposit uint64 `json:"dst_safety_deposit"`

	// SHA-256 hashlock, hex encoded. The maker keeps the preimage.
	Hashlock string `json:"hashlock"`

	// Total source-chain duration. The destination leg is derived.
	Duration time.Duration `json:"duration"`
}

// Validate checks the parameters.
func (p *SwapParams) Validate() error {
	if p.SrcChain == p.DstChain {
		return fmt.Errorf("%w: source and destination chain must differ", ErrInvalidSwapParams)
	}
	if p.SrcAmount == 0 || p.DstAmount == 0 {
		return fmt.Errorf("%w: amounts must be positive", ErrInvalidSwapParams)
	}
	if p.Maker == "" || p.Taker == "" || p.Maker == p.Taker {
		return fmt.Errorf("%w: distinct maker and taker required", ErrInvalidSwapParams)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidSwapParams)
	}
	return nil
}

// OrderHash computes the keccak-256 hash identifying this swap. The
// same parameters always produce the same hash, which makes
// coordination idempotent.
func (p *SwapParams) OrderHash() string {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%d|%s|%s|%s|%d",
		p.SrcChain, p.DstChain, p.SrcAsset, p.DstAsset, p.SrcAmount, p.DstAmount,
		p.Maker, p.Taker, p.Hashlock, int64(p.Duration/time.Second))
	return helpers.BytesToHex(h.Sum(nil))
}

// deriveEscrowAddress computes the deterministic escrow address for
// one leg of a swap: the low 20 bytes of keccak-256 over the order
// hash, chain and role.
func deriveEscrowAddress(orderHash, chainSymbol string, role escrow.Role) string {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%s|%s|%s", orderHash, chainSymbol, role)
	return helpers.BytesToHex(h.Sum(nil)[12:])
}

// Controller coordinates cross-chain escrow pairs.
type Controller struct {
	store    *storage.Storage
	machine  *escrow.StateMachine
	backends *backend.Registry
	planner  *timelock.Planner
	network  chain.Network
	cfg      config.CoordinationConfig
	log      *logging.Logger

	// chain health tracking
	mu     sync.RWMutex
	health map[string]*chainHealth

	// one extension per record per partition episode
	extended map[string]time.Time

	// issued recommendations per record, keyed action/escrow
	recommended map[string]map[string]bool

	// high-water mark per chain for reveal polling
	revealCursor map[string]time.Time

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a coordination controller.
func New(store *storage.Storage, machine *escrow.StateMachine, backends *backend.Registry, planner *timelock.Planner, network chain.Network, cfg config.CoordinationConfig) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:        store,
		machine:      machine,
		backends:     backends,
		planner:      planner,
		network:      network,
		cfg:          cfg,
		log:          logging.GetDefault().Component("coordinator"),
		health:       make(map[string]*chainHealth),
		extended:     make(map[string]time.Time),
		recommended:  make(map[string]map[string]bool),
		revealCursor: make(map[string]time.Time),
		events:       make(chan Event, 100),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Events returns the channel carrying coordination events.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// CreateSwap plans the timelock schedules for both legs, creates both
// escrows and persists the coordination record. Calling it again with
// the same parameters returns the existing record.
func (c *Controller) CreateSwap(ctx context.Context, params *SwapParams) (*storage.CoordinationRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	orderHash := params.OrderHash()
	if existing, err := c.store.GetCoordinationByOrderHash(orderHash); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrCoordinationNotFound) {
		return nil, err
	}

	srcParams, ok := chain.Get(params.SrcChain, c.network)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, params.SrcChain)
	}
	dstParams, ok := chain.Get(params.DstChain, c.network)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, params.DstChain)
	}

	// A hashlock binds to one swap forever.
	used, err := c.store.IsHashlockUsed(params.Hashlock)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, fmt.Errorf("%w: %s", ErrHashlockReused, params.Hashlock)
	}

	plan, err := c.planner.Plan(time.Now(), params.Duration, srcParams.FinalityLag, dstParams.FinalityLag)
	if err != nil {
		return nil, err
	}

	coordinationID := uuid.New().String()

	srcAddress := params.SrcEscrowAddress
	if srcAddress == "" {
		srcAddress = deriveEscrowAddress(orderHash, params.SrcChain, escrow.RoleSource)
	}
	dstAddress := params.DstEscrowAddress
	if dstAddress == "" {
		dstAddress = deriveEscrowAddress(orderHash, params.DstChain, escrow.RoleDestination)
	}

	src, err := c.machine.Create(ctx, &escrow.CreateParams{
		CoordinationID: coordinationID,
		Role:           escrow.RoleSource,
		Chain:          params.SrcChain,
		Asset:          params.SrcAsset,
		Address:        srcAddress,
		Locker:         params.Maker,
		Counterparty:   params.Taker,
		Amount:         params.SrcAmount,
		SafetyDeposit:  params.SrcSafetyDeposit,
		Hashlock:       params.Hashlock,
		Schedule:       plan.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("source escrow: %w", err)
	}

	dst, err := c.machine.Create(ctx, &escrow.CreateParams{
		CoordinationID: coordinationID,
		Role:           escrow.RoleDestination,
		Chain:          params.DstChain,
		Asset:          params.DstAsset,
		Address:        dstAddress,
		Locker:         params.Taker,
		Counterparty:   params.Maker,
		Amount:         params.DstAmount,
		SafetyDeposit:  params.DstSafetyDeposit,
		Hashlock:       params.Hashlock,
		Schedule:       plan.Destination,
	})
	if err != nil {
		return nil, fmt.Errorf("destination escrow: %w", err)
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}

	rec := &storage.CoordinationRecord{
		ID:            coordinationID,
		OrderHash:     orderHash,
		Hashlock:      params.Hashlock,
		State:         storage.CoordinationStatePending,
		SrcChain:      params.SrcChain,
		DstChain:      params.DstChain,
		SrcEscrowID:   src.ID,
		DstEscrowID:   dst.ID,
		SrcAmount:     params.SrcAmount,
		DstAmount:     params.DstAmount,
		Maker:         params.Maker,
		Taker:         params.Taker,
		TotalDuration: params.Duration,
		Buffer:        plan.Buffer,
		Plan:          planJSON,
	}
	if err := c.store.SaveCoordination(rec); err != nil {
		return nil, err
	}
	c.appendEvent(rec.ID, "pending",
		fmt.Sprintf("src=%s dst=%s buffer=%s", src.ID, dst.ID, plan.Buffer))

	c.log.Info("swap coordinated", "id", rec.ID, "src", params.SrcChain, "dst", params.DstChain, "buffer", plan.Buffer)
	c.emit(Event{Type: EventSwapCreated, CoordinationID: rec.ID})
	return rec, nil
}

// Get retrieves a coordination record by ID.
func (c *Controller) Get(id string) (*storage.CoordinationRecord, error) {
	return c.store.GetCoordination(id)
}

// List returns coordination records, newest first.
func (c *Controller) List(limit int, includeCompleted bool) ([]*storage.CoordinationRecord, error) {
	return c.store.ListCoordinations(limit, includeCompleted)
}

// plan decodes a record's stored timelock plan.
func (c *Controller) plan(rec *storage.CoordinationRecord) (*timelock.Plan, error) {
	var p timelock.Plan
	if err := json.Unmarshal(rec.Plan, &p); err != nil {
		return nil, fmt.Errorf("decode plan for %s: %w", rec.ID, err)
	}
	return &p, nil
}

// appendEvent writes to a record's event log. A failed append is
// logged and never silently dropped.
func (c *Controller) appendEvent(id, event, detail string) {
	if err := c.store.AppendCoordinationEvent(id, event, detail); err != nil {
		c.log.Error("event append failed", "id", id, "event", event, "error", err)
	}
}

func (c *Controller) emit(ev Event) {
	ev.Timestamp = time.Now()
	select {
	case c.events <- ev:
	default:
		// slow consumer, drop rather than stall the reconcile loop
	}
}
