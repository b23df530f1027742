// Package timelock derives the deadline schedules that keep a two-chain
// escrow pair safe. A schedule is a set of absolute instants anchored at
// the swap start: the private withdrawal window opens once the chain's
// finality lag has passed, the public windows and the cancellation
// window are offset from each other by a buffer sized from the slower
// chain's finality lag plus a coordination margin.
package timelock

import (
	"errors"
	"fmt"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/config"
)

// Planner errors.
var (
	ErrInvalidConfiguration = errors.New("invalid timelock configuration")
)

// Schedule holds the absolute deadlines for one escrow.
//
// Ordering invariant, checked by Validate:
//
//	WithdrawalPrivateStart < WithdrawalPublicStart < CancellationStart < CancellationPublicStart
type Schedule struct {
	T0                      time.Time `json:"t0"`
	WithdrawalPrivateStart  time.Time `json:"withdrawal_private_start"`
	WithdrawalPublicStart   time.Time `json:"withdrawal_public_start"`
	CancellationStart       time.Time `json:"cancellation_start"`
	CancellationPublicStart time.Time `json:"cancellation_public_start"`
}

// Validate checks the internal ordering of the schedule.
func (s Schedule) Validate() error {
	if !s.WithdrawalPrivateStart.Before(s.WithdrawalPublicStart) {
		return fmt.Errorf("%w: private withdrawal start %v not before public withdrawal start %v",
			ErrInvalidConfiguration, s.WithdrawalPrivateStart, s.WithdrawalPublicStart)
	}
	if !s.WithdrawalPublicStart.Before(s.CancellationStart) {
		return fmt.Errorf("%w: public withdrawal start %v not before cancellation start %v",
			ErrInvalidConfiguration, s.WithdrawalPublicStart, s.CancellationStart)
	}
	if !s.CancellationStart.Before(s.CancellationPublicStart) {
		return fmt.Errorf("%w: cancellation start %v not before public cancellation start %v",
			ErrInvalidConfiguration, s.CancellationStart, s.CancellationPublicStart)
	}
	return nil
}

// InPrivateWithdrawWindow reports whether the designated counterparty
// may withdraw at the given instant.
func (s Schedule) InPrivateWithdrawWindow(now time.Time) bool {
	return !now.Before(s.WithdrawalPrivateStart) && now.Before(s.CancellationStart)
}

// InPublicWithdrawWindow reports whether any credentialed caller may
// withdraw at the given instant.
func (s Schedule) InPublicWithdrawWindow(now time.Time) bool {
	return !now.Before(s.WithdrawalPublicStart)
}

// CancellationElapsed reports whether the locker may cancel.
func (s Schedule) CancellationElapsed(now time.Time) bool {
	return !now.Before(s.CancellationStart)
}

// PublicCancellationElapsed reports whether any credentialed caller may cancel.
func (s Schedule) PublicCancellationElapsed(now time.Time) bool {
	return !now.Before(s.CancellationPublicStart)
}

// Plan pairs the schedules of the two legs of a swap.
type Plan struct {
	Source      Schedule      `json:"source"`
	Destination Schedule      `json:"destination"`
	Buffer      time.Duration `json:"buffer"`
}

// Validate checks both schedules and the cross-chain invariants: the
// destination leg must be cancellable at least one buffer before the
// source leg, and its public withdrawal window must open strictly
// before the source cancellation window does.
func (p Plan) Validate() error {
	if err := p.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := p.Destination.Validate(); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if p.Destination.CancellationStart.After(p.Source.CancellationStart.Add(-p.Buffer)) {
		return fmt.Errorf("%w: destination cancellation %v too close to source cancellation %v (buffer %v)",
			ErrInvalidConfiguration, p.Destination.CancellationStart, p.Source.CancellationStart, p.Buffer)
	}
	if !p.Destination.WithdrawalPublicStart.Before(p.Source.CancellationStart) {
		return fmt.Errorf("%w: destination public withdrawal %v not before source cancellation %v",
			ErrInvalidConfiguration, p.Destination.WithdrawalPublicStart, p.Source.CancellationStart)
	}
	return nil
}

// Planner derives plans under a fixed policy.
type Planner struct {
	policy config.TimelockPolicy
}

// NewPlanner creates a planner with the given policy.
func NewPlanner(policy config.TimelockPolicy) *Planner {
	return &Planner{policy: policy}
}

// Policy returns the planner's policy.
func (p *Planner) Policy() config.TimelockPolicy {
	return p.policy
}

// Plan derives the schedules for both legs of a swap starting at t0
// with total duration total. srcFinality and dstFinality are the
// worst-case finality lags of the source and destination chains. The
// source chain carries the full duration; the destination leg gives up
// one buffer so the counterparty can always claim there before the
// source becomes cancellable.
func (p *Planner) Plan(t0 time.Time, total, srcFinality, dstFinality time.Duration) (*Plan, error) {
	if total <= 0 || srcFinality <= 0 || dstFinality <= 0 {
		return nil, fmt.Errorf("%w: durations must be positive", ErrInvalidConfiguration)
	}
	if total < p.policy.MinTotalDuration {
		return nil, fmt.Errorf("%w: total duration %v below minimum %v",
			ErrInvalidConfiguration, total, p.policy.MinTotalDuration)
	}

	buffer := srcFinality
	if dstFinality > buffer {
		buffer = dstFinality
	}
	buffer += p.policy.CoordinationMargin

	if buffer > p.policy.MaxBuffer(total) {
		return nil, fmt.Errorf("%w: buffer %v exceeds %d bps of duration %v",
			ErrInvalidConfiguration, buffer, p.policy.MaxBufferFractionBPS, total)
	}

	srcCancel := t0.Add(total)
	dstCancel := srcCancel.Add(-buffer)

	plan := &Plan{
		Source: Schedule{
			T0:                      t0,
			WithdrawalPrivateStart:  t0.Add(srcFinality),
			WithdrawalPublicStart:   srcCancel.Add(-buffer),
			CancellationStart:       srcCancel,
			CancellationPublicStart: srcCancel.Add(buffer),
		},
		Destination: Schedule{
			T0:                      t0,
			WithdrawalPrivateStart:  t0.Add(dstFinality),
			WithdrawalPublicStart:   dstCancel.Add(-buffer),
			CancellationStart:       dstCancel,
			CancellationPublicStart: dstCancel.Add(buffer),
		},
		Buffer: buffer,
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// ExtendForPartition returns a copy of the plan with every deadline
// that has not yet elapsed at now pushed back by the policy-scaled
// partition duration. The extension is all or nothing: if the result
// would violate any invariant, the original plan stands and an error
// is returned.
func (p *Planner) ExtendForPartition(plan *Plan, now time.Time, partition time.Duration) (*Plan, error) {
	if partition <= 0 {
		return nil, fmt.Errorf("%w: partition duration must be positive", ErrInvalidConfiguration)
	}

	ext := p.policy.ExtensionFor(partition)
	extended := &Plan{
		Source:      extendSchedule(plan.Source, now, ext),
		Destination: extendSchedule(plan.Destination, now, ext),
		Buffer:      plan.Buffer,
	}

	if err := extended.Validate(); err != nil {
		return nil, fmt.Errorf("partition extension rejected: %w", err)
	}
	return extended, nil
}

func extendSchedule(s Schedule, now time.Time, ext time.Duration) Schedule {
	out := s
	if now.Before(s.WithdrawalPrivateStart) {
		out.WithdrawalPrivateStart = s.WithdrawalPrivateStart.Add(ext)
	}
	if now.Before(s.WithdrawalPublicStart) {
		out.WithdrawalPublicStart = s.WithdrawalPublicStart.Add(ext)
	}
	if now.Before(s.CancellationStart) {
		out.CancellationStart = s.CancellationStart.Add(ext)
	}
	if now.Before(s.CancellationPublicStart) {
		out.CancellationPublicStart = s.CancellationPublicStart.Add(ext)
	}
	return out
}
