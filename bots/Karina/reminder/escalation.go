package reminder

import (
	"context"
	"time"

	"karina/bots/Karina/metrics"
)

type exitReason string

const (
	exitConfirmed exitReason = "confirmed"
	exitCancelled exitReason = "cancelled"
	exitExhausted exitReason = "exhausted"
)

// chain is a running escalation sequence of one reminder.
type chain struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartEscalation runs the reminder's escalation delays in the background.
// A chain already running for the id is cancelled first. Nothing starts for
// a confirmed, snoozed or unknown reminder or one without delays.
func (m *Manager) StartEscalation(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok {
		m.logger.Warnw("escalation requested for unknown reminder", "id", id)
		return false
	}

	m.cancelChainLocked(id)

	if r.Confirmed || r.DeferredUntil != nil || len(r.EscalationDelays) == 0 {
		return false
	}
	if m.base.Err() != nil {
		return false
	}

	delays := append([]int(nil), r.EscalationDelays...)
	ctx, cancel := context.WithCancel(m.base)
	c := &chain{cancel: cancel, done: make(chan struct{})}
	m.chains[id] = c

	m.wg.Add(1)
	go m.escalate(ctx, c, id, delays)

	m.logger.Infow("escalation started", "id", id, "delays", delays)
	return true
}

// Escalating reports whether a chain is running for the id.
func (m *Manager) Escalating(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.chains[id]
	return ok
}

func (m *Manager) escalate(ctx context.Context, c *chain, id string, delays []int) {
	defer m.wg.Done()
	defer close(c.done)

	reason := m.runSteps(ctx, id, delays)

	m.mu.Lock()
	if m.chains[id] == c {
		delete(m.chains, id)
	}
	m.mu.Unlock()
	c.cancel()

	metrics.EscalationExits.WithLabelValues(string(reason)).Inc()
	m.logger.Infow("escalation finished", "id", id, "reason", reason)
}

func (m *Manager) runSteps(ctx context.Context, id string, delays []int) exitReason {
	for _, minutes := range delays {
		if minutes > 0 {
			d := time.Duration(minutes) * time.Minute
			t := m.clk.NewTimer(d)
			if m.waitHook != nil {
				m.waitHook(id, d)
			}

			select {
			case <-ctx.Done():
				t.Stop()
				return m.stoppedReason(id)
			case <-t.C:
			}
		}

		snap, reason, ok := m.nextStep(ctx, id)
		if !ok {
			return reason
		}

		if err := m.Deliver(ctx, snap, true); err != nil && ctx.Err() != nil {
			return m.stoppedReason(id)
		}
	}
	return exitExhausted
}

// nextStep re-checks the reminder under the lock and returns the snapshot to
// deliver at the next severity level.
func (m *Manager) nextStep(ctx context.Context, id string) (*Reminder, exitReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil {
		return nil, m.stoppedReasonLocked(id), false
	}

	r, ok := m.reminders[id]
	if !ok {
		return nil, exitCancelled, false
	}
	if r.Confirmed {
		return nil, exitConfirmed, false
	}
	if r.DeferredUntil != nil {
		return nil, exitCancelled, false
	}

	snap := r.Clone()
	snap.Severity = r.Severity.Next()
	return snap, "", true
}

func (m *Manager) stoppedReason(id string) exitReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stoppedReasonLocked(id)
}

func (m *Manager) stoppedReasonLocked(id string) exitReason {
	if r, ok := m.reminders[id]; ok && r.Confirmed {
		return exitConfirmed
	}
	return exitCancelled
}

func (m *Manager) cancelChainLocked(id string) {
	c, ok := m.chains[id]
	if !ok {
		return
	}
	c.cancel()
	delete(m.chains, id)
}
