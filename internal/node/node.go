package node

import (
	"context"
	"fmt"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/backend"
	"github.com/crosslock-exchange/crosslock/internal/chain"
	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/coordinator"
	"github.com/crosslock-exchange/crosslock/internal/escrow"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/internal/rpc"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/internal/timelock"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

// Node wires the engine's components together and manages their
// lifecycle.
type Node struct {
	cfg *Config
	log *logging.Logger

	store    *storage.Storage
	backends *backend.Registry
	deposits *ledger.Ledger
	creds    *escrow.Credentials
	machine  *escrow.StateMachine
	coord    *coordinator.Controller
	rpc      *rpc.Server

	started time.Time
}

// New builds a node from the daemon configuration.
func New(cfg *Config) (*Node, error) {
	logging.SetDefault(logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	}))

	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	backends, err := buildRegistry(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	engineCfg := config.NewEngineConfig(config.NetworkType(cfg.NetworkType))
	coordCfg := engineCfg.Coordination
	if cfg.Coordination.PollInterval > 0 {
		coordCfg.PollInterval = cfg.Coordination.PollInterval
	}
	if cfg.Coordination.HealthConfirmation > 0 {
		coordCfg.HealthConfirmation = cfg.Coordination.HealthConfirmation
	}
	if cfg.Coordination.PartitionThreshold > 0 {
		coordCfg.PartitionThreshold = cfg.Coordination.PartitionThreshold
	}

	deposits := ledger.New(store, engineCfg.Deposit)
	creds := escrow.NewCredentials(store)
	machine := escrow.NewStateMachine(store, backends, deposits, creds)
	planner := timelock.NewPlanner(engineCfg.Timelock)
	coord := coordinator.New(store, machine, backends, planner, chain.Network(cfg.NetworkType), coordCfg)

	n := &Node{
		cfg:      cfg,
		log:      logging.GetDefault().Component("node"),
		store:    store,
		backends: backends,
		deposits: deposits,
		creds:    creds,
		machine:  machine,
		coord:    coord,
		rpc:      rpc.NewServer(store, machine, coord, deposits, creds, backends),
	}
	return n, nil
}

// buildRegistry constructs chain backends from the daemon config. A
// chain is registered when both its parameters and a backend config
// are known.
func buildRegistry(cfg *Config) (*backend.Registry, error) {
	network := chain.Network(cfg.NetworkType)
	reg := backend.NewRegistry()

	symbols := make(map[string]*backend.Config)
	for symbol, c := range backend.DefaultConfigs() {
		symbols[symbol] = c
	}
	for symbol, c := range cfg.Backends {
		symbols[symbol] = c
	}

	for symbol, bcfg := range symbols {
		params, ok := chain.Get(symbol, network)
		if !ok {
			continue
		}

		url := bcfg.MainnetURL
		if cfg.IsTestnet() {
			url = bcfg.TestnetURL
		}

		switch bcfg.Type {
		case backend.TypeSim:
			reg.Register(symbol, backend.NewSimBackend(symbol, params.FinalityLag))
		case backend.TypeEVM:
			factory := config.GetEscrowFactory(params.ChainID)
			reg.Register(symbol, backend.NewEVMBackend(symbol, url, factory, params.FinalityLag))
		case backend.TypeGateway:
			reg.Register(symbol, backend.NewGatewayBackend(symbol, url, params.FinalityLag))
		default:
			return nil, fmt.Errorf("unknown backend type %q for chain %s", bcfg.Type, symbol)
		}
	}

	return reg, nil
}

// Start connects the backends, recovers open swaps and starts the
// coordinator and the RPC server.
func (n *Node) Start(ctx context.Context) error {
	n.started = time.Now()

	if err := n.backends.ConnectAll(ctx); err != nil {
		return fmt.Errorf("connect backends: %w", err)
	}

	recovered, err := n.coord.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover open swaps: %w", err)
	}
	if recovered > 0 {
		n.log.Info("resuming open swaps", "count", recovered)
	}
	n.coord.Start()

	if err := n.rpc.Start(n.cfg.API.ListenAddr); err != nil {
		n.coord.Stop()
		return err
	}

	n.log.Info("node started",
		"network", n.cfg.NetworkType,
		"chains", n.backends.List(),
		"api", n.cfg.API.ListenAddr,
	)
	return nil
}

// Stop shuts everything down in reverse order.
func (n *Node) Stop() {
	if err := n.rpc.Stop(); err != nil {
		n.log.Warn("RPC shutdown error", "error", err)
	}
	n.coord.Stop()
	n.backends.CloseAll()
	if err := n.store.Close(); err != nil {
		n.log.Warn("storage close error", "error", err)
	}
	n.log.Info("node stopped", "uptime", n.Uptime().Round(time.Second))
}

// Uptime returns how long the node has been running.
func (n *Node) Uptime() time.Duration {
	if n.started.IsZero() {
		return 0
	}
	return time.Since(n.started)
}

// RPC returns the JSON-RPC server.
func (n *Node) RPC() *rpc.Server {
	return n.rpc
}

// Coordinator returns the coordination controller.
func (n *Node) Coordinator() *coordinator.Controller {
	return n.coord
}

// Store returns the storage layer.
func (n *Node) Store() *storage.Storage {
	return n.store
}
