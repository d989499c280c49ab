// account_link_counter.go samples the number of stored account links into the
// xero_account_links gauge.
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

// LinkCounter counts stored account links
type LinkCounter interface {
	CountAccountLinks(ctx context.Context) (int, error)
}

// AccountLinkCounter periodically refreshes telemetry.AccountLinks.
type AccountLinkCounter struct {
	repo     LinkCounter
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

// NewAccountLinkCounter creates a counter sampling every interval.
func NewAccountLinkCounter(repo LinkCounter, interval time.Duration) *AccountLinkCounter {
	return &AccountLinkCounter{
		repo:     repo,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start samples once immediately and then on every tick until ctx is
// cancelled or Stop is called. A non-positive interval disables the job.
func (c *AccountLinkCounter) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	if c.interval <= 0 {
		close(c.done)
		return
	}

	safego.Go("account-link-counter", func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Sample(ctx)
		for {
			select {
			case <-ticker.C:
				c.Sample(ctx)
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop ends the loop and waits for it to exit
func (c *AccountLinkCounter) Stop() {
	if !c.started.Load() {
		return
	}
	c.stopOnce.Do(func() { close(c.stopChan) })
	<-c.done
}

// Sample reads the current count into the gauge. A failed count leaves the
// previous value in place.
func (c *AccountLinkCounter) Sample(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n, err := c.repo.CountAccountLinks(ctx)
	if err != nil {
		slog.Warn("account link count failed", "error", err)
		return 0, err
	}
	telemetry.AccountLinks.Set(float64(n))
	return n, nil
}
