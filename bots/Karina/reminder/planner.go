package reminder

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"karina/bots/Karina/logger"
)

const (
	DefaultPlanCron = "5 0 * * *"
	DefaultSyncCron = "0 * * * *"

	// MissedGrace is how late a daily reminder may still be created.
	MissedGrace = 30 * time.Minute

	meetingSnooze = 5
)

var (
	ErrEmptyText = errors.New("reminder text is empty")
	ErrInThePast = errors.New("reminder time is in the past")
)

// Submitter runs named jobs in the background.
type Submitter interface {
	Submit(name string, f func(ctx context.Context) error) bool
}

type PlannerOptions struct {
	Manager  *Manager
	Store    Store
	Events   EventSource
	Tasks    Submitter
	PlanCron string
	SyncCron string
}

// Planner creates reminders from the category rules and the calendar, and
// owns the user settings.
type Planner struct {
	manager *Manager
	store   Store
	events  EventSource
	tasks   Submitter
	clk     clock.Clock
	loc     *time.Location
	logger  *zap.SugaredLogger

	planSpec string
	syncSpec string
	cron     *cron.Cron

	mu       sync.RWMutex
	settings Settings
}

func NewPlanner(o PlannerOptions) *Planner {
	if o.PlanCron == "" {
		o.PlanCron = DefaultPlanCron
	}
	if o.SyncCron == "" {
		o.SyncCron = DefaultSyncCron
	}
	m := o.Manager
	return &Planner{
		manager:  m,
		store:    o.Store,
		events:   o.Events,
		tasks:    o.Tasks,
		clk:      m.clk,
		loc:      m.loc,
		logger:   m.logger,
		planSpec: o.PlanCron,
		syncSpec: o.SyncCron,
		settings: DefaultSettings(),
	}
}

// LoadSettings applies the settings persisted in the store over the
// defaults.
func (p *Planner) LoadSettings(ctx context.Context) {
	values, err := p.store.LoadSettings(ctx)
	if err != nil {
		p.logger.Errorw("failed loading settings; using defaults", "err", err)
		return
	}

	p.mu.Lock()
	skipped := p.settings.Apply(values)
	p.mu.Unlock()

	if len(skipped) > 0 {
		p.logger.Warnw("ignored invalid stored settings", "names", skipped)
	}
}

// Settings returns a copy of the current settings.
func (p *Planner) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.clone()
}

// Set changes one setting and persists it in the background.
func (p *Planner) Set(name, value string) error {
	p.mu.Lock()
	err := p.settings.Set(name, value)
	var formatted string
	if err == nil {
		formatted, _ = p.settings.Get(name)
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}

	save := func(ctx context.Context) error {
		return p.store.SaveSetting(ctx, name, formatted)
	}
	if p.tasks == nil || !p.tasks.Submit("save setting "+name, save) {
		if err := save(context.Background()); err != nil {
			p.logger.Errorw("failed saving setting", "name", name, "err", err)
		}
	}

	p.logger.Infow("setting changed", "name", name, "value", formatted)
	return nil
}

type dailyRule struct {
	category Category
	at       func(s *Settings) TimeOfDay
	delays   func(s *Settings) []int
	message  string
}

func noDelays(*Settings) []int { return nil }

func fixedDelays(d ...int) func(*Settings) []int {
	return func(*Settings) []int { return d }
}

var dailyRules = []dailyRule{
	{CategoryMorning, func(s *Settings) TimeOfDay { return s.MorningAt }, noDelays, "Good morning"},
	{CategoryLunch, func(s *Settings) TimeOfDay { return s.LunchAt }, fixedDelays(20), "Lunch"},
	{CategoryBreak, func(s *Settings) TimeOfDay { return s.BreakAt }, fixedDelays(15), "Take a break"},
	{CategoryHealth, func(s *Settings) TimeOfDay { return s.HealthAt }, func(s *Settings) []int { return s.HealthDelays }, "Take your pills"},
	{CategoryEvening, func(s *Settings) TimeOfDay { return s.EveningAt }, noDelays, "Time to sleep"},
}

// PlanDay creates the daily category reminders for day. Running it again for
// the same day creates nothing new.
func (p *Planner) PlanDay(ctx context.Context, day time.Time) int {
	s := p.Settings()
	day = day.In(p.loc)
	now := p.clk.Now().In(p.loc)

	n := 0
	for _, rule := range dailyRules {
		at := rule.at(&s).On(day)
		if now.Sub(at) > MissedGrace {
			continue
		}

		added, err := p.manager.AddIfAbsent(ctx, &Reminder{
			ID:               DailyID(rule.category, day),
			Category:         rule.category,
			Message:          rule.message,
			ScheduledTime:    at,
			EscalationDelays: append([]int(nil), rule.delays(&s)...),
			Active:           true,
		})
		if err != nil {
			p.logger.Errorw("failed planning reminder", "category", rule.category, "err", err)
			continue
		}
		if added {
			n++
		}
	}

	p.logger.Infof("planned %d reminders for %s", n, day.Format("2006-01-02"))
	return n
}

// SyncMeetings creates a reminder before every event of today that is still
// ahead.
func (p *Planner) SyncMeetings(ctx context.Context) (int, error) {
	if p.events == nil {
		return 0, nil
	}

	evs, err := p.events.TodayEvents(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed fetching events")
	}

	s := p.Settings()
	lead := time.Duration(s.MeetingLead) * time.Minute
	now := p.clk.Now().In(p.loc)

	var delays []int
	if s.MeetingLead > meetingSnooze {
		delays = []int{meetingSnooze}
	}

	n := 0
	for _, ev := range evs {
		start := ev.Start.In(p.loc)
		at := start.Add(-lead)
		if at.Before(now) {
			continue
		}

		added, err := p.manager.AddIfAbsent(ctx, &Reminder{
			ID:               MeetingID(start),
			Category:         CategoryMeeting,
			Message:          ev.Summary,
			ScheduledTime:    at,
			EscalationDelays: delays,
			Active:           true,
			Context: map[string]any{
				ctxTitle:         ev.Summary,
				ctxMinutesBefore: s.MeetingLead,
				ctxCalendar:      ev.Calendar,
			},
		})
		if err != nil {
			p.logger.Errorw("failed adding meeting reminder", "event", ev.Summary, "err", err)
			continue
		}
		if added {
			n++
		}
	}

	if n > 0 {
		p.logger.Infof("added %d meeting reminders", n)
	}
	return n, nil
}

// Remind creates a custom reminder at the given time.
func (p *Planner) Remind(ctx context.Context, at time.Time, text string) (*Reminder, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	at = at.In(p.loc)
	if at.Before(p.clk.Now()) {
		return nil, errors.Wrap(ErrInThePast, at.Format("2006-01-02 15:04"))
	}

	s := p.Settings()
	r := &Reminder{
		ID:               "custom_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Category:         CategoryCustom,
		Message:          text,
		ScheduledTime:    at,
		EscalationDelays: s.CustomDelays,
		Active:           true,
	}
	if err := p.manager.Add(ctx, r); err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// NextAt resolves a wall clock time to its next occurrence.
func (p *Planner) NextAt(t TimeOfDay) time.Time {
	now := p.clk.Now().In(p.loc)
	at := t.On(now)
	if !at.After(now) {
		at = t.On(now.AddDate(0, 0, 1))
	}
	return at
}

// Start plans today, syncs the calendar and schedules both to repeat.
func (p *Planner) Start(ctx context.Context) error {
	p.cron = cron.New(
		cron.WithLocation(p.loc),
		cron.WithLogger(logger.Cron(p.logger)),
		cron.WithChain(cron.SkipIfStillRunning(logger.Cron(p.logger))),
	)

	plan := func() { p.PlanDay(ctx, p.clk.Now()) }
	syncMeetings := func() {
		if _, err := p.SyncMeetings(ctx); err != nil {
			p.logger.Warnw("failed syncing meetings", "err", err)
		}
	}

	if _, err := p.cron.AddFunc(p.planSpec, plan); err != nil {
		return errors.Wrapf(err, "bad plan schedule %q", p.planSpec)
	}
	if _, err := p.cron.AddFunc(p.syncSpec, syncMeetings); err != nil {
		return errors.Wrapf(err, "bad sync schedule %q", p.syncSpec)
	}

	plan()
	syncMeetings()

	p.cron.Start()
	return nil
}

// Stop stops the schedules and waits for running jobs.
func (p *Planner) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}
