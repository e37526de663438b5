package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"
)

var msk = time.FixedZone("MSK", 3*60*60)

type sentMessage struct {
	recipient int64
	text      string
	controls  []Control
}

type recordingSink struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *recordingSink) Send(ctx context.Context, recipient int64, text string, controls []Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, sentMessage{recipient, text, controls})
	return s.err
}

func (s *recordingSink) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func (s *recordingSink) texts() []string {
	var res []string
	for _, m := range s.messages() {
		res = append(res, m.text)
	}
	return res
}

type phraserFunc func(ctx context.Context, req PhraseRequest) (string, error)

func (f phraserFunc) Generate(ctx context.Context, req PhraseRequest) (string, error) {
	return f(ctx, req)
}

type fixture struct {
	clk   clock.FakeClock
	store *MemoryStore
	sink  *recordingSink
	m     *Manager
	armed chan time.Duration
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()

	clk := clock.NewFake()
	clk.Set(time.Date(2024, 1, 15, 21, 0, 0, 0, msk))

	f := &fixture{
		clk:   clk,
		store: NewMemoryStore(),
		sink:  &recordingSink{},
		armed: make(chan time.Duration, 16),
	}

	o := Options{
		Store:     f.store,
		Sink:      f.sink,
		Clock:     clk,
		Logger:    zap.NewNop().Sugar(),
		Recipient: 7,
		Location:  msk,
	}
	for _, opt := range opts {
		opt(&o)
	}

	f.m = NewManager(o)
	f.m.waitHook = func(id string, d time.Duration) { f.armed <- d }
	t.Cleanup(f.m.Close)
	return f
}

// awaitTimer blocks until an escalation step armed its timer.
func (f *fixture) awaitTimer(t *testing.T) time.Duration {
	t.Helper()

	select {
	case d := <-f.armed:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("escalation timer was never armed")
	}
	return 0
}

func at(hour, min int) time.Time {
	return time.Date(2024, 1, 15, hour, min, 0, 0, msk)
}

func healthReminder() *Reminder {
	return &Reminder{
		ID:               "health_20240115",
		Category:         CategoryHealth,
		Message:          "Take your pills",
		ScheduledTime:    at(22, 0),
		EscalationDelays: []int{10, 30, 60},
		Active:           true,
	}
}
