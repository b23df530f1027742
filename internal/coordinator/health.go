// Package coordinator - chain health tracking.
// The controller probes every backend each reconcile tick. After a
// partition a chain is trusted again only once it has answered
// healthily for a full confirmation window, so a flapping node cannot
// flip swaps between partitioned and healthy every poll.
package coordinator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crosslock-exchange/crosslock/internal/backend"
)

// chainHealth is the controller's view of one chain.
type chainHealth struct {
	status       backend.HealthStatus
	partitionFor time.Duration
	healthySince time.Time
	sawPartition bool
}

// probeHealth polls every registered backend concurrently and updates
// the health map.
func (c *Controller) probeHealth(ctx context.Context) {
	symbols := c.backends.List()

	g, gctx := errgroup.WithContext(ctx)
	results := make([]*backend.Health, len(symbols))

	for i, symbol := range symbols {
		b, _ := c.backends.Get(symbol)
		g.Go(func() error {
			h, err := b.Health(gctx)
			if err == nil {
				results[i] = h
			}
			return nil
		})
	}
	g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for i, symbol := range symbols {
		h := results[i]
		if h == nil {
			continue
		}

		prev := c.health[symbol]
		cur := &chainHealth{
			status:       h.Status,
			partitionFor: h.PartitionFor,
		}
		if prev != nil {
			cur.sawPartition = prev.sawPartition
		}

		switch h.Status {
		case backend.HealthHealthy:
			if prev == nil || prev.status != backend.HealthHealthy {
				cur.healthySince = now
				if prev != nil && prev.status == backend.HealthPartitioned {
					c.log.Info("partition healed", "chain", symbol, "lasted", prev.partitionFor)
					c.emit(Event{Type: EventPartitionHealed, Chain: symbol})
				}
			} else {
				cur.healthySince = prev.healthySince
			}
		case backend.HealthPartitioned:
			cur.sawPartition = true
			if prev == nil || prev.status != backend.HealthPartitioned {
				c.log.Warn("partition detected", "chain", symbol)
				c.emit(Event{Type: EventPartition, Chain: symbol, Detail: h.PartitionFor.String()})
			}
		}

		c.health[symbol] = cur
	}
}

// chainTrusted reports whether a chain's observations may drive state
// changes. A chain that never partitioned is trusted as soon as it
// reports healthy; one that did must stay healthy for the confirmation
// window first.
func (c *Controller) chainTrusted(symbol string, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.health[symbol]
	if !ok || h.status != backend.HealthHealthy {
		return false
	}
	if !h.sawPartition {
		return true
	}
	return now.Sub(h.healthySince) >= c.cfg.HealthConfirmation
}

// partitionDuration returns how long a chain has been partitioned,
// zero if healthy.
func (c *Controller) partitionDuration(symbol string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.health[symbol]
	if !ok || h.status != backend.HealthPartitioned {
		return 0
	}
	return h.partitionFor
}
