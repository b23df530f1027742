package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/backend"
	"github.com/crosslock-exchange/crosslock/internal/chain"
	"github.com/crosslock-exchange/crosslock/internal/config"
	"github.com/crosslock-exchange/crosslock/internal/escrow"
	"github.com/crosslock-exchange/crosslock/internal/ledger"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/internal/timelock"
	"github.com/crosslock-exchange/crosslock/pkg/helpers"
)

type testEnv struct {
	ctrl    *Controller
	machine *escrow.StateMachine
	store   *storage.Storage
	simA    *backend.SimBackend
	simB    *backend.SimBackend
}

func newTestEnv(t *testing.T, cfg config.CoordinationConfig) *testEnv {
	t.Helper()

	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	simA := backend.NewSimBackend("SIMA", time.Second)
	simB := backend.NewSimBackend("SIMB", time.Second)
	simA.Connect(context.Background())
	simB.Connect(context.Background())

	reg := backend.NewRegistry()
	reg.Register("SIMA", simA)
	reg.Register("SIMB", simB)

	deposits := ledger.New(store, config.DefaultDepositConfig())
	creds := escrow.NewCredentials(store)
	machine := escrow.NewStateMachine(store, reg, deposits, creds)
	planner := timelock.NewPlanner(config.DefaultTimelockPolicy())

	ctrl := New(store, machine, reg, planner, chain.Testnet, cfg)
	t.Cleanup(ctrl.Stop)

	return &testEnv{ctrl: ctrl, machine: machine, store: store, simA: simA, simB: simB}
}

var testSecret = []byte{
	1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
	17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
}

func testHashlock() string {
	return helpers.BytesToHex(escrow.HashSecret(testSecret))
}

func testSwapParams() *SwapParams {
	return &SwapParams{
		SrcChain:         "SIMA",
		DstChain:         "SIMB",
		SrcAmount:        100000,
		DstAmount:        200000,
		Maker:            "maker-addr",
		Taker:            "taker-addr",
		SrcEscrowAddress: "src-escrow",
		DstEscrowAddress: "dst-escrow",
		SrcSafetyDeposit: 1000,
		DstSafetyDeposit: 2000,
		Hashlock:         testHashlock(),
		Duration:         30 * time.Minute,
	}
}

// scheduleAt builds a valid schedule with the four deadlines at the
// given offsets from now.
func scheduleAt(priv, pub, cancel, cancelPub time.Duration) timelock.Schedule {
	now := time.Now()
	return timelock.Schedule{
		T0:                      now.Add(priv - 30*time.Second),
		WithdrawalPrivateStart:  now.Add(priv),
		WithdrawalPublicStart:   now.Add(pub),
		CancellationStart:       now.Add(cancel),
		CancellationPublicStart: now.Add(cancelPub),
	}
}

// openWindows rewrites both legs' schedules so the private withdrawal
// window is already open and cancellation is far away.
func (env *testEnv) openWindows(t *testing.T, rec *storage.CoordinationRecord) {
	t.Helper()
	for _, id := range []string{rec.SrcEscrowID, rec.DstEscrowID} {
		if _, err := env.machine.UpdateSchedule(id, scheduleAt(-time.Minute, time.Hour, 2*time.Hour, 3*time.Hour)); err != nil {
			t.Fatalf("UpdateSchedule(%s) error = %v", id, err)
		}
	}
}

func drainEvents(c *Controller) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(events []Event, typ EventType) bool {
	for _, ev := range events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func TestCreateSwap(t *testing.T) {
	env := newTestEnv(t, config.DefaultCoordinationConfig())
	ctx := context.Background()

	rec, err := env.ctrl.CreateSwap(ctx, testSwapParams())
	if err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}

	if rec.State != storage.CoordinationStatePending {
		t.Errorf("state = %s, want %s", rec.State, storage.CoordinationStatePending)
	}
	if rec.OrderHash == "" {
		t.Error("order hash not set")
	}

	src, err := env.machine.Get(rec.SrcEscrowID)
	if err != nil {
		t.Fatalf("source escrow missing: %v", err)
	}
	dst, err := env.machine.Get(rec.DstEscrowID)
	if err != nil {
		t.Fatalf("destination escrow missing: %v", err)
	}

	if src.Locker != "maker-addr" || src.Counterparty != "taker-addr" {
		t.Errorf("source parties = %s/%s, want maker/taker", src.Locker, src.Counterparty)
	}
	if dst.Locker != "taker-addr" || dst.Counterparty != "maker-addr" {
		t.Errorf("destination parties = %s/%s, want taker/maker", dst.Locker, dst.Counterparty)
	}

	var plan timelock.Plan
	if err := json.Unmarshal(rec.Plan, &plan); err != nil {
		t.Fatalf("stored plan does not decode: %v", err)
	}
	if err := plan.Validate(); err != nil {
		t.Errorf("stored plan invalid: %v", err)
	}
	if !dst.Schedule.CancellationStart.Before(src.Schedule.CancellationStart) {
		t.Error("destination must become cancellable before the source")
	}

	if events := drainEvents(env.ctrl); !hasEvent(events, EventSwapCreated) {
		t.Error("swap_created event not emitted")
	}
}

func TestCreateSwapIdempotent(t *testing.T) {
	env := newTestEnv(t, config.DefaultCoordinationConfig())
	ctx := context.Background()

	first, err := env.ctrl.CreateSwap(ctx, testSwapParams())
	if err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}
	second, err := env.ctrl.CreateSwap(ctx, testSwapParams())
	if err != nil {
		t.Fatalf("CreateSwap() repeat error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat created a new record: %s != %s", second.ID, first.ID)
	}

	open, finalized, err := env.store.EscrowCount()
	if err != nil {
		t.Fatalf("EscrowCount() error = %v", err)
	}
	if open != 2 || finalized != 0 {
		t.Errorf("escrow count = %d open, %d finalized, want 2 open", open, finalized)
	}
}

func TestCreateSwapHashlockReuse(t *testing.T) {
	env := newTestEnv(t, config.DefaultCoordinationConfig())
	ctx := context.Background()

	if _, err := env.ctrl.CreateSwap(ctx, testSwapParams()); err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}

	// Different parameters, same hashlock.
	params := testSwapParams()
	params.SrcAmount = 999999
	if _, err := env.ctrl.CreateSwap(ctx, params); !errors.Is(err, ErrHashlockReused) {
		t.Errorf("CreateSwap() error = %v, want ErrHashlockReused", err)
	}
}

func TestCreateSwapValidation(t *testing.T) {
	env := newTestEnv(t, config.DefaultCoordinationConfig())
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*SwapParams)
		wantErr error
	}{
		{"same chain", func(p *SwapParams) { p.DstChain = p.SrcChain }, ErrInvalidSwapParams},
		{"zero source amount", func(p *SwapParams) { p.SrcAmount = 0 }, ErrInvalidSwapParams},
		{"zero destination amount", func(p *SwapParams) { p.DstAmount = 0 }, ErrInvalidSwapParams},
		{"maker is taker", func(p *SwapParams) { p.Taker = p.Maker }, ErrInvalidSwapParams},
		{"zero duration", func(p *SwapParams) { p.Duration = 0 }, ErrInvalidSwapParams},
		{"unknown source chain", func(p *SwapParams) { p.SrcChain = "DOGE" }, ErrUnsupportedChain},
		{"duration below minimum", func(p *SwapParams) { p.Duration = time.Minute }, timelock.ErrInvalidConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testSwapParams()
			tt.mutate(params)
			if _, err := env.ctrl.CreateSwap(ctx, params); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateSwap() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReconcileProgression(t *testing.T) {
	env := newTestEnv(t, config.DefaultCoordinationConfig())
	ctx := context.Background()

	rec, err := env.ctrl.CreateSwap(ctx, testSwapParams())
	if err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}
	env.openWindows(t, rec)

	env.simA.Fund(ctx, "src-escrow", 101000)
	env.simB.Fund(ctx, "dst-escrow", 202000)

	// First pass funds the legs, second activates them.
	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() pass 1 error = %v", err)
	}
	rec, _ = env.ctrl.Get(rec.ID)
	if rec.State != storage.CoordinationStateEscrowsCreated {
		t.Fatalf("state after funding = %s, want %s", rec.State, storage.CoordinationStateEscrowsCreated)
	}

	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() pass 2 error = %v", err)
	}
	rec, _ = env.ctrl.Get(rec.ID)
	if rec.State != storage.CoordinationStateActive {
		t.Fatalf("state = %s, want %s", rec.State, storage.CoordinationStateActive)
	}

	// The taker's withdrawal on the destination chain exposes the secret.
	env.simB.RecordReveal("dst-escrow", testSecret)
	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	rec, _ = env.ctrl.Get(rec.ID)
	if rec.State != storage.CoordinationStateSecretRevealed {
		t.Fatalf("state = %s, want %s", rec.State, storage.CoordinationStateSecretRevealed)
	}

	if _, err := env.machine.Withdraw(ctx, rec.DstEscrowID, "maker-addr", testSecret); err != nil {
		t.Fatalf("destination withdraw error = %v", err)
	}
	if _, err := env.machine.Withdraw(ctx, rec.SrcEscrowID, "taker-addr", testSecret); err != nil {
		t.Fatalf("source withdraw error = %v", err)
	}

	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	rec, _ = env.ctrl.Get(rec.ID)
	if rec.State != storage.CoordinationStateCompleted {
		t.Fatalf("state = %s, want %s", rec.State, storage.CoordinationStateCompleted)
	}
	if rec.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}

	events := drainEvents(env.ctrl)
	for _, want := range []EventType{EventEscrowsFunded, EventSwapActive, EventSecretRevealed, EventSwapCompleted} {
		if !hasEvent(events, want) {
			t.Errorf("event %s not emitted", want)
		}
	}
}

func TestReconcileBothLegsCancelled(t *testing.T) {
	env := newTestEnv(t, config.DefaultCoordinationConfig())
	ctx := context.Background()

	rec, err := env.ctrl.CreateSwap(ctx, testSwapParams())
	if err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}

	// Nobody funded; push cancellation into the past and cancel both legs.
	for _, id := range []string{rec.SrcEscrowID, rec.DstEscrowID} {
		if _, err := env.machine.UpdateSchedule(id, scheduleAt(-3*time.Hour, -2*time.Hour, -time.Hour, time.Hour)); err != nil {
			t.Fatalf("UpdateSchedule(%s) error = %v", id, err)
		}
	}
	src, _ := env.machine.Get(rec.SrcEscrowID)
	dst, _ := env.machine.Get(rec.DstEscrowID)
	if _, err := env.machine.Cancel(ctx, src.ID, src.Locker); err != nil {
		t.Fatalf("source cancel error = %v", err)
	}
	if _, err := env.machine.Cancel(ctx, dst.ID, dst.Locker); err != nil {
		t.Fatalf("destination cancel error = %v", err)
	}

	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	rec, _ = env.ctrl.Get(rec.ID)
	if rec.State != storage.CoordinationStateFailed {
		t.Errorf("state = %s, want %s", rec.State, storage.CoordinationStateFailed)
	}
	if rec.FailureReason == "" {
		t.Error("failure reason not recorded")
	}
	if events := drainEvents(env.ctrl); !hasEvent(events, EventSwapFailed) {
		t.Error("swap_failed event not emitted")
	}
}

func TestReconcilePartitionExtension(t *testing.T) {
	cfg := config.DefaultCoordinationConfig()
	cfg.PartitionThreshold = 10 * time.Millisecond
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	rec, err := env.ctrl.CreateSwap(ctx, testSwapParams())
	if err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}
	before, _ := env.machine.Get(rec.SrcEscrowID)

	env.simA.SetPartitioned(time.Now().Add(-time.Minute))
	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	rec, _ = env.ctrl.Get(rec.ID)
	if rec.Extensions != 1 {
		t.Fatalf("extensions = %d, want 1", rec.Extensions)
	}

	after, _ := env.machine.Get(rec.SrcEscrowID)
	if !after.Schedule.CancellationStart.After(before.Schedule.CancellationStart) {
		t.Error("source cancellation deadline was not pushed back")
	}
	dst, _ := env.machine.Get(rec.DstEscrowID)
	if !dst.Schedule.CancellationStart.Before(after.Schedule.CancellationStart) {
		t.Error("leg ordering lost across extension")
	}

	// Same episode: no second extension.
	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	rec, _ = env.ctrl.Get(rec.ID)
	if rec.Extensions != 1 {
		t.Errorf("extensions = %d after repeat reconcile, want 1", rec.Extensions)
	}

	// Healed and partitioned again: a new episode may extend once more.
	env.simA.SetPartitioned(time.Time{})
	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	env.simA.SetPartitioned(time.Now().Add(-time.Minute))
	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	rec, _ = env.ctrl.Get(rec.ID)
	if rec.Extensions != 2 {
		t.Errorf("extensions = %d after new episode, want 2", rec.Extensions)
	}

	events := drainEvents(env.ctrl)
	if !hasEvent(events, EventPartition) || !hasEvent(events, EventScheduleExtended) {
		t.Error("partition and extension events not emitted")
	}
}

func TestReconcileDistrustsRecentlyPartitionedChain(t *testing.T) {
	cfg := config.DefaultCoordinationConfig()
	cfg.HealthConfirmation = time.Hour
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	rec, err := env.ctrl.CreateSwap(ctx, testSwapParams())
	if err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}
	env.openWindows(t, rec)
	env.simA.Fund(ctx, "src-escrow", 101000)
	env.simB.Fund(ctx, "dst-escrow", 202000)

	env.simA.SetPartitioned(time.Now())
	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	env.simA.SetPartitioned(time.Time{})
	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	// SIMA healed moments ago and must sit out the confirmation
	// window; SIMB never partitioned and progresses immediately.
	src, _ := env.machine.Get(rec.SrcEscrowID)
	dst, _ := env.machine.Get(rec.DstEscrowID)
	if src.Status != escrow.StatusCreated {
		t.Errorf("source status = %s, want %s", src.Status, escrow.StatusCreated)
	}
	if dst.Status == escrow.StatusCreated {
		t.Error("destination should have progressed")
	}
}

func TestRecover(t *testing.T) {
	env := newTestEnv(t, config.DefaultCoordinationConfig())
	ctx := context.Background()

	if _, err := env.ctrl.CreateSwap(ctx, testSwapParams()); err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}

	n, err := env.ctrl.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Recover() = %d open swaps, want 1", n)
	}
}

func TestOrderHashDeterministic(t *testing.T) {
	a := testSwapParams().OrderHash()
	b := testSwapParams().OrderHash()
	if a != b {
		t.Errorf("order hash not deterministic: %s != %s", a, b)
	}

	params := testSwapParams()
	params.SrcAmount++
	if params.OrderHash() == a {
		t.Error("different parameters produced the same order hash")
	}
}

func TestCreateSwapDerivesEscrowAddresses(t *testing.T) {
	env := newTestEnv(t, config.DefaultCoordinationConfig())
	ctx := context.Background()

	params := testSwapParams()
	params.SrcEscrowAddress = ""
	params.DstEscrowAddress = ""

	rec, err := env.ctrl.CreateSwap(ctx, params)
	if err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}

	src, _ := env.machine.Get(rec.SrcEscrowID)
	dst, _ := env.machine.Get(rec.DstEscrowID)
	if src.Address == "" || dst.Address == "" {
		t.Fatal("escrow addresses not derived")
	}
	if src.Address == dst.Address {
		t.Error("legs derived the same address")
	}
	if want := deriveEscrowAddress(rec.OrderHash, "SIMA", escrow.RoleSource); src.Address != want {
		t.Errorf("source address = %s, want %s", src.Address, want)
	}

	// Caller-supplied addresses still win.
	explicit := testSwapParams()
	explicit.Hashlock = helpers.BytesToHex(escrow.HashSecret([]byte("another-secret-32-bytes-long....")))
	rec2, err := env.ctrl.CreateSwap(ctx, explicit)
	if err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}
	src2, _ := env.machine.Get(rec2.SrcEscrowID)
	if src2.Address != "src-escrow" {
		t.Errorf("source address = %s, want src-escrow", src2.Address)
	}
}

// countRecommendations tallies recommendation entries in a record's
// event log.
func countRecommendations(t *testing.T, store *storage.Storage, id string) int {
	t.Helper()
	events, err := store.GetCoordinationEvents(id)
	if err != nil {
		t.Fatalf("GetCoordinationEvents() error = %v", err)
	}
	n := 0
	for _, ev := range events {
		if ev.Event == "recommendation" {
			n++
		}
	}
	return n
}

func (env *testEnv) activate(t *testing.T, rec *storage.CoordinationRecord) {
	t.Helper()
	ctx := context.Background()

	env.openWindows(t, rec)
	env.simA.Fund(ctx, "src-escrow", 101000)
	env.simB.Fund(ctx, "dst-escrow", 202000)
	for i := 0; i < 2; i++ {
		if err := env.ctrl.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile() pass %d error = %v", i+1, err)
		}
	}

	got, _ := env.ctrl.Get(rec.ID)
	if got.State != storage.CoordinationStateActive {
		t.Fatalf("state = %s, want %s", got.State, storage.CoordinationStateActive)
	}
}

func TestReconcileFailsWhenCancellationOpens(t *testing.T) {
	env := newTestEnv(t, config.DefaultCoordinationConfig())
	ctx := context.Background()

	rec, err := env.ctrl.CreateSwap(ctx, testSwapParams())
	if err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}
	env.activate(t, rec)
	drainEvents(env.ctrl)

	// Nobody withdrew and both cancellation windows open.
	for _, id := range []string{rec.SrcEscrowID, rec.DstEscrowID} {
		if _, err := env.machine.UpdateSchedule(id, scheduleAt(-3*time.Hour, -2*time.Hour, -time.Minute, time.Hour)); err != nil {
			t.Fatalf("UpdateSchedule(%s) error = %v", id, err)
		}
	}

	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	rec, _ = env.ctrl.Get(rec.ID)
	if rec.State != storage.CoordinationStateFailed {
		t.Fatalf("state = %s, want %s", rec.State, storage.CoordinationStateFailed)
	}
	if rec.FailureReason == "" {
		t.Error("failure reason not recorded")
	}
	if rec.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}

	events := drainEvents(env.ctrl)
	if !hasEvent(events, EventSwapFailed) {
		t.Error("swap_failed event not emitted")
	}
	cancels := 0
	for _, ev := range events {
		if ev.Type == EventRecommendation && ev.Action == ActionCancelNow {
			cancels++
		}
	}
	if cancels != 2 {
		t.Errorf("cancel_now recommendations = %d, want one per leg", cancels)
	}
	if n := countRecommendations(t, env.store, rec.ID); n != 2 {
		t.Errorf("recommendation log entries = %d, want 2", n)
	}
}

func TestReconcileRecommendsClaimAfterWithdraw(t *testing.T) {
	env := newTestEnv(t, config.DefaultCoordinationConfig())
	ctx := context.Background()

	rec, err := env.ctrl.CreateSwap(ctx, testSwapParams())
	if err != nil {
		t.Fatalf("CreateSwap() error = %v", err)
	}
	env.activate(t, rec)
	drainEvents(env.ctrl)

	// The taker's withdrawal on the destination leg exposes the
	// secret; the maker must now claim the source leg in time.
	if _, err := env.machine.Withdraw(ctx, rec.DstEscrowID, "maker-addr", testSecret); err != nil {
		t.Fatalf("destination withdraw error = %v", err)
	}

	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	events := drainEvents(env.ctrl)
	found := false
	for _, ev := range events {
		if ev.Type == EventRecommendation && ev.Action == ActionClaimNow && ev.EscrowID == rec.SrcEscrowID {
			found = true
		}
	}
	if !found {
		t.Fatal("claim_now recommendation for the source leg not emitted")
	}

	// Re-reconciling does not duplicate the recommendation.
	if err := env.ctrl.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if n := countRecommendations(t, env.store, rec.ID); n != 1 {
		t.Errorf("recommendation log entries = %d, want 1", n)
	}
}
