package reminder

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"karina/bots/Karina/metrics"
)

const (
	defaultPhraseTimeout = 15 * time.Second
	defaultStoreTimeout  = 5 * time.Second
)

var (
	ErrReminderExists = errors.New("reminder already exists")

	errNoID              = errors.New("reminder has no id")
	errDeliveryCancelled = errors.New("delivery cancelled")
)

// Options configure a Manager. Store, Sink and Recipient are required.
type Options struct {
	Store         Store
	Sink          Sink
	Phraser       Phraser
	Composer      *Composer
	Clock         clock.Clock
	Logger        *zap.SugaredLogger
	Recipient     int64
	Location      *time.Location
	PhraseTimeout time.Duration
	StoreTimeout  time.Duration
}

// Manager owns the in-memory reminder set and is the only writer to the
// store. The map and the escalation chains share one mutex, so cancelling a
// chain and starting its replacement is atomic.
type Manager struct {
	store         Store
	sink          Sink
	phraser       Phraser
	composer      *Composer
	clk           clock.Clock
	logger        *zap.SugaredLogger
	recipient     int64
	loc           *time.Location
	phraseTimeout time.Duration
	storeTimeout  time.Duration

	mu        sync.Mutex
	reminders map[string]*Reminder
	chains    map[string]*chain

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	// waitHook is called right after an escalation step armed its timer
	waitHook func(id string, d time.Duration)
}

func NewManager(o Options) *Manager {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.PhraseTimeout <= 0 {
		o.PhraseTimeout = defaultPhraseTimeout
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}

	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:         o.Store,
		sink:          o.Sink,
		phraser:       o.Phraser,
		composer:      o.Composer,
		clk:           o.Clock,
		logger:        o.Logger,
		recipient:     o.Recipient,
		loc:           o.Location,
		phraseTimeout: o.PhraseTimeout,
		storeTimeout:  o.StoreTimeout,
		reminders:     make(map[string]*Reminder),
		chains:        make(map[string]*chain),
		base:          base,
		shutdown:      cancel,
	}
}

// Add inserts a new reminder and persists it. An id that is already known
// is rejected with ErrReminderExists rather than overwritten; a persistence
// failure is only logged.
func (m *Manager) Add(ctx context.Context, r *Reminder) error {
	if r.ID == "" {
		return errNoID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reminders[r.ID]; ok {
		return errors.Wrap(ErrReminderExists, r.ID)
	}

	c := r.Clone()
	m.normalize(c)
	m.reminders[c.ID] = c
	m.persistLocked(ctx, c)

	m.logger.Infow("reminder added", "id", c.ID, "category", c.Category, "at", c.ScheduledTime)
	return nil
}

// AddIfAbsent adds the reminder unless its id is known in memory or in the
// store. It reports whether the reminder was added.
func (m *Manager) AddIfAbsent(ctx context.Context, r *Reminder) (bool, error) {
	if r.ID == "" {
		return false, errNoID
	}

	m.mu.Lock()
	_, ok := m.reminders[r.ID]
	m.mu.Unlock()
	if ok {
		return false, nil
	}

	sctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	existing, err := m.store.Get(sctx, r.ID)
	cancel()
	if err != nil {
		// the in-memory set is the source of truth while the store is down
		metrics.StoreErrors.WithLabelValues("get").Inc()
		m.logger.Warnw("failed checking reminder in store", "id", r.ID, "err", err)
	}
	if existing != nil {
		return false, nil
	}

	err = m.Add(ctx, r)
	if errors.Is(err, ErrReminderExists) {
		return false, nil
	}
	return err == nil, err
}

// LoadActive fills the in-memory set with active reminders from the store.
// It must finish before the dispatcher starts. An unreachable store leaves
// the set empty.
func (m *Manager) LoadActive(ctx context.Context) int {
	sctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	rs, err := m.store.ListActive(sctx)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("list_active").Inc()
		m.logger.Errorw("failed loading active reminders; starting with none", "err", err)
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range rs {
		if _, ok := m.reminders[r.ID]; ok {
			continue
		}
		m.normalize(r)
		m.reminders[r.ID] = r
		n++
	}

	m.logger.Infof("loaded %d active reminders", n)
	return n
}

// Confirm acknowledges the reminder and cancels its escalation. Unknown ids
// are logged and ignored.
func (m *Manager) Confirm(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok {
		m.logger.Warnw("confirmation for unknown reminder", "id", id)
		return false
	}

	m.cancelChainLocked(id)
	if r.Confirmed {
		return true
	}

	r.Confirmed = true
	r.Active = false
	m.persistLocked(ctx, r)

	m.logger.Infow("reminder confirmed", "id", id)
	return true
}

// Snooze deactivates the reminder and schedules a fresh successor with id
// SnoozeID(id) minutes from now. It returns a copy of the successor. A
// reminder is snoozed at most once; later requests for it are ignored.
func (m *Manager) Snooze(ctx context.Context, id string, minutes int) (*Reminder, bool) {
	if minutes <= 0 {
		m.logger.Warnw("ignoring snooze with non-positive duration", "id", id, "minutes", minutes)
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok {
		m.logger.Warnw("snooze for unknown reminder", "id", id)
		return nil, false
	}
	if r.Confirmed {
		m.logger.Infow("reminder is already confirmed; not snoozing", "id", id)
		return nil, false
	}
	if _, exists := m.reminders[SnoozeID(id)]; exists || r.DeferredUntil != nil {
		// a button of the original message was pressed after it was snoozed
		m.logger.Warnw("ignored stale snooze", "id", id, "minutes", minutes)
		return nil, false
	}

	m.cancelChainLocked(id)

	until := m.clk.Now().In(m.loc).Add(time.Duration(minutes) * time.Minute)
	r.Active = false
	r.DeferredUntil = &until
	m.persistLocked(ctx, r)

	next := r.Clone()
	next.ID = SnoozeID(id)
	next.ScheduledTime = until
	next.Severity = SeverityNormal
	next.Active = true
	next.Confirmed = false
	next.DeferredUntil = nil
	if next.Context == nil {
		next.Context = make(map[string]any)
	}
	next.Context[ctxSnoozedFrom] = id

	m.reminders[next.ID] = next
	m.persistLocked(ctx, next)

	m.logger.Infow("reminder snoozed", "id", id, "successor", next.ID, "until", until)
	return next.Clone(), true
}

// HandleCallback maps a control token onto Confirm or Snooze.
func (m *Manager) HandleCallback(ctx context.Context, token string) (Callback, bool, error) {
	cb, err := ParseToken(token)
	if err != nil {
		return cb, false, err
	}

	switch cb.Action {
	case ActionConfirm, ActionSkip:
		return cb, m.Confirm(ctx, cb.ID), nil
	case ActionSnooze:
		_, ok := m.Snooze(ctx, cb.ID, cb.Minutes)
		return cb, ok, nil
	}
	return cb, false, ErrBadToken
}

// ConfirmPending confirms every reminder that is escalating or was delivered
// today and still waits for an answer.
func (m *Manager) ConfirmPending(ctx context.Context) int {
	n := 0
	for _, id := range m.pendingIDs() {
		if m.Confirm(ctx, id) {
			n++
		}
	}
	return n
}

// SnoozePending snoozes the same reminders ConfirmPending would confirm.
func (m *Manager) SnoozePending(ctx context.Context, minutes int) int {
	n := 0
	for _, id := range m.pendingIDs() {
		if _, ok := m.Snooze(ctx, id, minutes); ok {
			n++
		}
	}
	return n
}

func (m *Manager) pendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now().In(m.loc)
	ids := make([]string, 0, len(m.chains))
	for id, r := range m.reminders {
		if _, escalating := m.chains[id]; escalating || awaitsAnswer(r, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// awaitsAnswer reports whether r was delivered on now's day and has been
// neither confirmed nor snoozed.
func awaitsAnswer(r *Reminder, now time.Time) bool {
	if r.Active || r.Confirmed || r.DeferredUntil != nil {
		return false
	}
	at := r.ScheduledTime.In(now.Location())
	if at.After(now) {
		return false
	}
	y1, m1, d1 := at.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Get returns a copy of the reminder.
func (m *Manager) Get(id string) (*Reminder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// List returns copies of the reminders that are still waiting to fire or
// are escalating, ordered by scheduled time.
func (m *Manager) List() []*Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []*Reminder
	for id, r := range m.reminders {
		if _, escalating := m.chains[id]; r.Active || escalating {
			res = append(res, r.Clone())
		}
	}
	sortBySchedule(res)
	return res
}

// Due returns copies of the reminders due at now, oldest first.
func (m *Manager) Due(now time.Time) []*Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []*Reminder
	for _, r := range m.reminders {
		if r.Due(now) {
			res = append(res, r.Clone())
		}
	}
	sortBySchedule(res)
	return res
}

// MarkDelivered records the initial delivery so the dispatcher doesn't fire
// the reminder again.
func (m *Manager) MarkDelivered(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok {
		return false
	}

	r.Active = false
	m.persistLocked(ctx, r)
	return true
}

// Deliver renders r and hands it to the sink. r is a snapshot; its severity
// is recorded on the managed reminder whether or not the send succeeded.
// Failures are logged here, callers don't need to act on the error.
func (m *Manager) Deliver(ctx context.Context, r *Reminder, forceNew bool) error {
	text := m.render(ctx, r, forceNew)

	controls, dropped := controlsFor(r)
	if dropped > 0 {
		m.logger.Warnw("dropped controls with oversized tokens", "id", r.ID, "dropped", dropped)
	}

	// a confirmation may have arrived while the text was generated
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errDeliveryCancelled, err.Error())
	}

	result := "ok"
	err := m.sink.Send(ctx, m.recipient, text, controls)
	if err != nil {
		result = "failed"
		m.logger.Errorw("failed delivering reminder", "id", r.ID, "severity", r.Severity, "err", err)
	} else {
		m.logger.Infow("reminder delivered", "id", r.ID, "severity", r.Severity)
	}
	metrics.Deliveries.WithLabelValues(string(r.Category), r.Severity.String(), result).Inc()

	m.mu.Lock()
	if cur, ok := m.reminders[r.ID]; ok {
		if r.Severity > cur.Severity {
			cur.Severity = r.Severity
		}
		m.persistLocked(ctx, cur)
	}
	m.mu.Unlock()

	return err
}

// Close stops all escalation chains and waits for them.
func (m *Manager) Close() {
	m.shutdown()
	m.wg.Wait()
}

// Wait blocks until every escalation chain has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) render(ctx context.Context, r *Reminder, forceNew bool) string {
	var extra string
	if r.Category == CategoryMorning && m.composer != nil {
		extra = m.composer.Compose(ctx)
	}
	return composeText(r, m.phrase(ctx, r, forceNew), extra)
}

type phraseResult struct {
	text string
	err  error
}

// phrase asks the generator for wording and falls back to the phrase bank on
// error or timeout. The generator runs in its own goroutine so a generator
// ignoring its context can't hold up delivery.
func (m *Manager) phrase(ctx context.Context, r *Reminder, forceNew bool) string {
	if m.phraser == nil {
		return FallbackPhrase(r)
	}

	pctx, cancel := context.WithTimeout(ctx, m.phraseTimeout)
	defer cancel()

	req := PhraseRequest{
		Category: r.Category,
		Severity: r.Severity,
		Message:  r.Message,
		Context:  r.Clone().Context,
		TimeHint: r.ScheduledTime,
		ForceNew: forceNew,
	}

	ch := make(chan phraseResult, 1)
	go func() {
		text, err := m.phraser.Generate(pctx, req)
		ch <- phraseResult{text, err}
	}()

	var res phraseResult
	select {
	case res = <-ch:
	case <-pctx.Done():
		res.err = pctx.Err()
	}

	text := strings.TrimSpace(res.text)
	if res.err != nil || text == "" {
		m.logger.Warnw("falling back to phrase bank", "id", r.ID, "err", res.err)
		metrics.PhraseFallbacks.WithLabelValues(string(r.Category)).Inc()
		return FallbackPhrase(r)
	}
	return text
}

// persistLocked writes r to the store. The write is awaited but a failure
// only gets logged: the in-memory state stays authoritative. It outlives a
// cancelled caller context, e.g. a confirmation cancelling its own chain.
func (m *Manager) persistLocked(ctx context.Context, r *Reminder) {
	r.UpdatedAt = m.clk.Now().In(m.loc)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
	defer cancel()

	if err := m.store.Upsert(sctx, r); err != nil {
		metrics.StoreErrors.WithLabelValues("upsert").Inc()
		m.logger.Errorw("failed persisting reminder", "id", r.ID, "err", err)
	}
}

func (m *Manager) normalize(r *Reminder) {
	r.ScheduledTime = r.ScheduledTime.In(m.loc)
	if r.DeferredUntil != nil {
		d := r.DeferredUntil.In(m.loc)
		r.DeferredUntil = &d
	}
	if r.Context == nil {
		r.Context = make(map[string]any)
	}
}

func sortBySchedule(rs []*Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].ScheduledTime.Equal(rs[j].ScheduledTime) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].ScheduledTime.Before(rs[j].ScheduledTime)
	})
}
