// Package coordinator - the reconcile loop.
// Every tick the controller probes chain health, extends schedules
// through partitions, and walks each open coordination record forward
// against what the chains report. All decisions derive from persisted
// state, so a restarted engine picks up exactly where it stopped.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/backend"
	"github.com/crosslock-exchange/crosslock/internal/escrow"
	"github.com/crosslock-exchange/crosslock/internal/storage"
	"github.com/crosslock-exchange/crosslock/pkg/helpers"
)

// Start launches the reconcile loop.
func (c *Controller) Start() {
	go c.run()
	c.log.Info("coordinator started", "poll_interval", c.cfg.PollInterval)
}

// Stop stops the reconcile loop.
func (c *Controller) Stop() {
	c.cancel()
	c.log.Info("coordinator stopped")
}

func (c *Controller) run() {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.Reconcile(c.ctx); err != nil {
				c.log.Error("reconcile failed", "error", err)
			}
		}
	}
}

// Recover reports the open records found at startup. The reconcile
// loop drives them; schedules are absolute instants, so nothing needs
// recomputing after a restart.
func (c *Controller) Recover(ctx context.Context) (int, error) {
	records, err := c.store.GetOpenCoordinations()
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		c.log.Info("recovered open swap", "id", rec.ID, "state", rec.State)
	}
	return len(records), nil
}

// Reconcile runs one pass: health probe, reveal ingestion, then per
// record partition extension and state progression.
func (c *Controller) Reconcile(ctx context.Context) error {
	c.probeHealth(ctx)
	c.ingestReveals(ctx)

	records, err := c.store.GetOpenCoordinations()
	if err != nil {
		return err
	}

	for _, rec := range records {
		if err := c.reconcileRecord(ctx, rec); err != nil {
			c.log.Error("record reconcile failed", "id", rec.ID, "error", err)
		}
	}
	return nil
}

func (c *Controller) reconcileRecord(ctx context.Context, rec *storage.CoordinationRecord) error {
	now := time.Now()

	if err := c.maybeExtend(rec, now); err != nil {
		c.log.Warn("partition extension rejected", "id", rec.ID, "error", err)
	}

	src, err := c.machine.Get(rec.SrcEscrowID)
	if err != nil {
		return err
	}
	dst, err := c.machine.Get(rec.DstEscrowID)
	if err != nil {
		return err
	}

	// Terminal legs settle the record regardless of chain health.
	if src.IsFinalized() && dst.IsFinalized() {
		return c.finish(rec, src, dst, now)
	}

	// Claim and cancel recommendations come before progression, so a
	// swap running out of time is flagged on the same pass.
	failed, err := c.checkDeadlines(rec, src, dst, now)
	if err != nil || failed {
		return err
	}

	switch rec.State {
	case storage.CoordinationStatePending, storage.CoordinationStateEscrowsCreated:
		return c.progressFunding(ctx, rec, src, dst, now)
	case storage.CoordinationStateActive:
		return c.progressSecret(rec, now)
	case storage.CoordinationStateSecretRevealed:
		// Waiting for both legs to finalize.
		return nil
	default:
		return nil
	}
}

// checkDeadlines applies the two urgency rules. When one leg has been
// withdrawn, the other's holder is told to claim before its
// cancellation window opens. When a cancellation window opens with no
// withdrawal anywhere, both open legs are told to cancel and the
// record fails. Recommendations are idempotent per record and leg;
// re-issuing after a restart is harmless.
func (c *Controller) checkDeadlines(rec *storage.CoordinationRecord, src, dst *escrow.Escrow, now time.Time) (bool, error) {
	legs := []*escrow.Escrow{src, dst}

	if src.Status == escrow.StatusWithdrawn || dst.Status == escrow.StatusWithdrawn {
		for _, e := range legs {
			if e.IsFinalized() {
				continue
			}
			c.recommend(rec, ActionClaimNow, e,
				fmt.Sprintf("counterleg withdrawn, claim before %s", e.Schedule.CancellationStart.Format(time.RFC3339)))
		}
		return false, nil
	}

	expired := false
	for _, e := range legs {
		if !e.IsFinalized() && e.Schedule.CancellationElapsed(now) {
			expired = true
		}
	}
	if !expired {
		return false, nil
	}

	for _, e := range legs {
		if e.IsFinalized() {
			continue
		}
		c.recommend(rec, ActionCancelNow, e, "cancellation window open before completion")
	}

	rec.State = storage.CoordinationStateFailed
	rec.FailureReason = "cancellation window opened before completion"
	rec.CompletedAt = now
	if err := c.store.SaveCoordination(rec); err != nil {
		return false, err
	}
	c.appendEvent(rec.ID, string(rec.State), rec.FailureReason)
	c.emit(Event{Type: EventSwapFailed, CoordinationID: rec.ID, Detail: rec.FailureReason})
	c.log.Warn("swap failed", "id", rec.ID, "reason", rec.FailureReason)
	c.forget(rec.ID)
	return true, nil
}

// recommend issues an actionable recommendation for one escrow leg,
// once per record and leg, appending it to the record's event log.
func (c *Controller) recommend(rec *storage.CoordinationRecord, action RecommendedAction, e *escrow.Escrow, detail string) {
	key := string(action) + "/" + e.ID
	issued, ok := c.recommended[rec.ID]
	if !ok {
		issued = make(map[string]bool)
		c.recommended[rec.ID] = issued
	}
	if issued[key] {
		return
	}
	issued[key] = true

	c.appendEvent(rec.ID, "recommendation",
		fmt.Sprintf("action=%s escrow=%s chain=%s %s", action, e.ID, e.Chain, detail))
	c.emit(Event{
		Type:           EventRecommendation,
		CoordinationID: rec.ID,
		EscrowID:       e.ID,
		Chain:          e.Chain,
		Action:         action,
		Detail:         detail,
	})
	c.log.Warn("recommendation", "id", rec.ID, "action", action, "escrow", e.ID, "chain", e.Chain)
}

// forget drops per-record reconcile state once the record is terminal.
func (c *Controller) forget(id string) {
	delete(c.extended, id)
	delete(c.recommended, id)
}

// progressFunding funds and activates legs as their balances appear.
// The record moves to escrows_created when both legs are funded and to
// active when both are.
func (c *Controller) progressFunding(ctx context.Context, rec *storage.CoordinationRecord, src, dst *escrow.Escrow, now time.Time) error {
	for _, e := range []*escrow.Escrow{src, dst} {
		if !c.chainTrusted(e.Chain, now) {
			continue
		}

		var err error
		switch e.Status {
		case escrow.StatusCreated:
			if _, err = c.machine.Fund(ctx, e.ID); errors.Is(err, escrow.ErrInsufficientBalance) {
				err = nil // still waiting for the locker
			}
		case escrow.StatusFunded:
			if _, err = c.machine.Activate(ctx, e.ID); errors.Is(err, escrow.ErrTimelockNotElapsed) {
				err = nil // finality lag still running
			}
		}
		if err != nil {
			c.recommend(rec, ActionRetry, e, err.Error())
			return err
		}
	}

	src, _ = c.machine.Get(src.ID)
	dst, _ = c.machine.Get(dst.ID)

	if rec.State == storage.CoordinationStatePending &&
		src.Status != escrow.StatusCreated && dst.Status != escrow.StatusCreated {
		rec.State = storage.CoordinationStateEscrowsCreated
		if err := c.store.SaveCoordination(rec); err != nil {
			return err
		}
		c.appendEvent(rec.ID, "escrows_created", "")
		c.emit(Event{Type: EventEscrowsFunded, CoordinationID: rec.ID})
		c.log.Info("both legs funded", "id", rec.ID)
	}

	if src.Status == escrow.StatusActive && dst.Status == escrow.StatusActive {
		rec.State = storage.CoordinationStateActive
		if err := c.store.SaveCoordination(rec); err != nil {
			return err
		}
		c.appendEvent(rec.ID, "active", "")
		c.emit(Event{Type: EventSwapActive, CoordinationID: rec.ID})
		c.log.Info("swap active", "id", rec.ID)
	}
	return nil
}

// progressSecret flips the record once its hashlock's preimage has
// been observed anywhere.
func (c *Controller) progressSecret(rec *storage.CoordinationRecord, now time.Time) error {
	r, err := c.store.GetRevealedSecret(rec.Hashlock)
	if errors.Is(err, storage.ErrSecretNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	rec.State = storage.CoordinationStateSecretRevealed
	if err := c.store.SaveCoordination(rec); err != nil {
		return err
	}
	c.appendEvent(rec.ID, "secret_revealed", fmt.Sprintf("chain=%s", r.SourceChain))
	c.emit(Event{Type: EventSecretRevealed, CoordinationID: rec.ID, Chain: r.SourceChain})
	c.log.Info("secret revealed", "id", rec.ID, "chain", r.SourceChain)
	return nil
}

// finish settles a record whose legs are both terminal: completed if
// the exchange happened, failed otherwise.
func (c *Controller) finish(rec *storage.CoordinationRecord, src, dst *escrow.Escrow, now time.Time) error {
	withdrawn := src.Status == escrow.StatusWithdrawn || dst.Status == escrow.StatusWithdrawn

	if withdrawn {
		rec.State = storage.CoordinationStateCompleted
	} else {
		rec.State = storage.CoordinationStateFailed
		rec.FailureReason = "both legs cancelled"
	}
	rec.CompletedAt = now

	if err := c.store.SaveCoordination(rec); err != nil {
		return err
	}
	c.appendEvent(rec.ID, string(rec.State), "")

	if rec.State == storage.CoordinationStateCompleted {
		c.emit(Event{Type: EventSwapCompleted, CoordinationID: rec.ID})
		c.log.Info("swap completed", "id", rec.ID)
	} else {
		c.emit(Event{Type: EventSwapFailed, CoordinationID: rec.ID, Detail: rec.FailureReason})
		c.log.Warn("swap failed", "id", rec.ID, "reason", rec.FailureReason)
	}
	c.forget(rec.ID)
	return nil
}

// maybeExtend pushes a record's remaining deadlines back when either
// of its chains has been partitioned past the threshold. The extension
// is all or nothing and applied once per partition episode.
func (c *Controller) maybeExtend(rec *storage.CoordinationRecord, now time.Time) error {
	partition := c.partitionDuration(rec.SrcChain)
	if d := c.partitionDuration(rec.DstChain); d > partition {
		partition = d
	}

	if partition == 0 {
		// episode over, allow extension for the next one
		delete(c.extended, rec.ID)
		return nil
	}
	if partition < c.cfg.PartitionThreshold {
		return nil
	}
	if _, done := c.extended[rec.ID]; done {
		return nil
	}

	plan, err := c.plan(rec)
	if err != nil {
		return err
	}
	extended, err := c.planner.ExtendForPartition(plan, now, partition)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPartitionDetected, err)
	}

	if _, err := c.machine.UpdateSchedule(rec.SrcEscrowID, extended.Source); err != nil && !errors.Is(err, escrow.ErrAlreadyFinalized) {
		return err
	}
	if _, err := c.machine.UpdateSchedule(rec.DstEscrowID, extended.Destination); err != nil && !errors.Is(err, escrow.ErrAlreadyFinalized) {
		return err
	}

	planJSON, err := json.Marshal(extended)
	if err != nil {
		return err
	}
	rec.Plan = planJSON
	rec.Extensions++
	if err := c.store.SaveCoordination(rec); err != nil {
		return err
	}
	c.extended[rec.ID] = now

	c.appendEvent(rec.ID, "schedule_extended", fmt.Sprintf("partition=%s", partition))
	c.emit(Event{Type: EventScheduleExtended, CoordinationID: rec.ID, Detail: partition.String()})
	c.log.Warn("schedules extended", "id", rec.ID, "partition", partition, "extensions", rec.Extensions)
	return nil
}

// ingestReveals polls every secret-watching backend and binds observed
// preimages to their hashlocks. Cursors persist so a restart does not
// replay the whole reveal history.
func (c *Controller) ingestReveals(ctx context.Context) {
	for _, symbol := range c.backends.List() {
		b, _ := c.backends.Get(symbol)
		w, ok := b.(backend.SecretWatcher)
		if !ok {
			continue
		}

		since := c.loadCursor(symbol)

		reveals, err := w.SecretReveals(ctx, since)
		if err != nil {
			c.log.Debug("reveal poll failed", "chain", symbol, "error", err)
			continue
		}

		advanced := false
		for _, r := range reveals {
			c.bindReveal(symbol, r)
			if r.ObservedAt.After(since) {
				since = r.ObservedAt
				advanced = true
			}
		}

		if advanced {
			c.saveCursor(symbol, since)
		}
	}
}

func (c *Controller) loadCursor(symbol string) time.Time {
	c.mu.Lock()
	since, ok := c.revealCursor[symbol]
	c.mu.Unlock()
	if ok {
		return since
	}

	if v, err := c.store.GetSetting("reveal_cursor_" + symbol); err == nil && v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = time.Unix(unix, 0)
		}
	}
	c.mu.Lock()
	c.revealCursor[symbol] = since
	c.mu.Unlock()
	return since
}

func (c *Controller) saveCursor(symbol string, since time.Time) {
	c.mu.Lock()
	c.revealCursor[symbol] = since
	c.mu.Unlock()

	if err := c.store.SetSetting("reveal_cursor_"+symbol, strconv.FormatInt(since.Unix(), 10)); err != nil {
		c.log.Debug("cursor save failed", "chain", symbol, "error", err)
	}
}

// bindReveal matches an on-chain reveal to the escrow it settles and
// persists the hashlock binding.
func (c *Controller) bindReveal(chainSymbol string, r backend.SecretReveal) {
	hashlock := helpers.BytesToHex(escrow.HashSecret(r.Secret))

	records, err := c.store.GetOpenCoordinations()
	if err != nil {
		return
	}
	for _, rec := range records {
		if rec.Hashlock != hashlock {
			continue
		}
		err := c.store.SaveRevealedSecret(&storage.RevealedSecret{
			Hashlock:       hashlock,
			CoordinationID: rec.ID,
			EscrowID:       rec.DstEscrowID,
			Secret:         helpers.BytesToHex(r.Secret),
			SourceChain:    chainSymbol,
			ObservedAt:     r.ObservedAt,
		})
		if err != nil && !errors.Is(err, storage.ErrHashlockUsed) {
			c.log.Error("reveal bind failed", "id", rec.ID, "error", err)
		}
		return
	}
}
