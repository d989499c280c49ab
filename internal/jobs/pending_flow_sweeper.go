// pending_flow_sweeper.go implements the PendingFlowSweeper background job. Flows
// that are started but never completed stay in pending_flows forever otherwise;
// the sweeper deletes rows older than the pending TTL on a fixed interval. The
// redis backend expires flows on its own and does not need the job.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xerolink/xerolink/internal/safego"
	"github.com/xerolink/xerolink/internal/telemetry"
)

// FlowPurger deletes pending flows created before cutoff
type FlowPurger interface {
	DeleteFlowsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PendingFlowSweeper periodically removes abandoned authorization flows.
type PendingFlowSweeper struct {
	repo     FlowPurger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

// NewPendingFlowSweeper creates a sweeper deleting flows older than ttl every interval.
func NewPendingFlowSweeper(repo FlowPurger, ttl, interval time.Duration) *PendingFlowSweeper {
	return &PendingFlowSweeper{
		repo:     repo,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in the background. It sweeps once immediately, then
// on every tick until ctx is cancelled or Stop is called. A non-positive
// interval or ttl leaves the job disabled.
func (s *PendingFlowSweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	if s.interval <= 0 || s.ttl <= 0 {
		slog.Info("pending flow sweeper disabled", "interval", s.interval, "ttl", s.ttl)
		close(s.done)
		return
	}

	safego.Go("pending-flow-sweeper", func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("pending flow sweeper started", "interval", s.interval, "ttl", s.ttl)
		s.Sweep(ctx)
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stopChan:
				slog.Info("pending flow sweeper stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop ends the loop and waits for an in-progress sweep to finish
func (s *PendingFlowSweeper) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

// Sweep deletes every flow older than the ttl and returns how many were removed
func (s *PendingFlowSweeper) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := s.now().Add(-s.ttl)
	n, err := s.repo.DeleteFlowsCreatedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("pending flow sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		telemetry.PendingFlowsSweptTotal.Add(float64(n))
		slog.Info("swept abandoned pending flows", "count", n, "cutoff", cutoff)
	}
	return n
}
