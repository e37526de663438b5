package reminder

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type Category string

const (
	CategoryHealth  Category = "health"
	CategoryMeeting Category = "meeting"
	CategoryBreak   Category = "break"
	CategoryLunch   Category = "lunch"
	CategoryMorning Category = "morning_greeting"
	CategoryEvening Category = "evening_wind_down"
	CategoryCustom  Category = "custom"
)

var categories = []Category{
	CategoryHealth,
	CategoryMeeting,
	CategoryBreak,
	CategoryLunch,
	CategoryMorning,
	CategoryEvening,
	CategoryCustom,
}

// Context keys used in rendering.
const (
	ctxTitle         = "title"
	ctxMinutesBefore = "minutes_before"
	ctxCalendar      = "calendar"
	ctxSnoozedFrom   = "snoozed_from"
)

var errUnknownCategory = errors.New("unknown category")

// ParseCategory accepts only the closed set of categories.
func ParseCategory(s string) (Category, error) {
	for _, c := range categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", errors.Wrap(errUnknownCategory, s)
}

// Severity is the escalation level of a reminder. It only grows while a
// delivery sequence is in progress.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityElevated
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"normal", "elevated", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityNormal || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// Next returns the following level, saturating at critical.
func (s Severity) Next() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

func ParseSeverity(s string) (Severity, error) {
	for i, name := range severityNames {
		if name == s {
			return Severity(i), nil
		}
	}
	return SeverityNormal, errors.Errorf("unknown severity %q", s)
}

// Reminder is a single time-driven notification. ID never changes; every
// other field is mutated only by Manager.
type Reminder struct {
	ID               string
	Category         Category
	Message          string
	ScheduledTime    time.Time
	EscalationDelays []int // minutes after the previous delivery
	Severity         Severity
	Active           bool
	Confirmed        bool
	DeferredUntil    *time.Time
	Context          map[string]any
	UpdatedAt        time.Time
}

// Clone returns a deep copy that can be used outside the manager lock.
func (r *Reminder) Clone() *Reminder {
	c := *r
	if r.EscalationDelays != nil {
		c.EscalationDelays = append([]int(nil), r.EscalationDelays...)
	}
	if r.DeferredUntil != nil {
		d := *r.DeferredUntil
		c.DeferredUntil = &d
	}
	if r.Context != nil {
		c.Context = make(map[string]any, len(r.Context))
		for k, v := range r.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// Due reports whether the dispatcher should deliver the reminder at now.
func (r *Reminder) Due(now time.Time) bool {
	if !r.Active || r.Confirmed {
		return false
	}
	if r.DeferredUntil != nil && r.DeferredUntil.After(now) {
		return false
	}
	return !r.ScheduledTime.After(now)
}

func (r *Reminder) contextString(key string) string {
	v, ok := r.Context[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// contextInt handles both native ints and float64 coming back from JSON.
func (r *Reminder) contextInt(key string) (int, bool) {
	switch v := r.Context[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// DailyID derives the id of a daily category reminder, so that planning the
// same day twice yields the same id.
func DailyID(c Category, day time.Time) string {
	return fmt.Sprintf("%s_%s", c, day.Format("20060102"))
}

// MeetingID derives a reminder id from the event start.
func MeetingID(start time.Time) string {
	return fmt.Sprintf("%s_%d", CategoryMeeting, start.Unix())
}

// SnoozeID is the id of the successor created by a snooze.
func SnoozeID(id string) string {
	return id + "_sn"
}
