package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultDispatchInterval = time.Minute

// Dispatcher periodically delivers due reminders and hands them over to
// escalation.
type Dispatcher struct {
	manager  *Manager
	clk      clock.Clock
	interval time.Duration
	logger   *zap.SugaredLogger

	mu sync.Mutex
}

func NewDispatcher(m *Manager, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	return &Dispatcher{
		manager:  m,
		clk:      m.clk,
		interval: interval,
		logger:   m.logger,
	}
}

// Run ticks until ctx is done. The first tick happens right away.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Infof("dispatcher started, interval %s", d.interval)

	for {
		d.Tick(ctx)

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-d.clk.After(d.interval):
		}
	}
}

// Tick delivers every reminder due now and returns how many were handled.
// Ticks never overlap.
func (d *Dispatcher) Tick(ctx context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, r := range d.manager.Due(d.clk.Now()) {
		if ctx.Err() != nil {
			break
		}

		// a failed send is already logged; escalation retries it
		if err := d.manager.Deliver(ctx, r, false); errors.Is(err, errDeliveryCancelled) {
			break
		}
		d.manager.MarkDelivered(ctx, r.ID)
		if len(r.EscalationDelays) > 0 {
			d.manager.StartEscalation(r.ID)
		}
		n++
	}
	return n
}
