package reminder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrUnknownSetting = errors.New("unknown setting")

	errBadTimeOfDay = errors.New("time must look like HH:MM")
	errBadMinutes   = errors.New("minutes must be a positive number")
)

// TimeOfDay is a wall clock time in the canonical zone.
type TimeOfDay struct {
	Hour, Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, errors.Wrap(errBadTimeOfDay, s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, errors.Wrap(errBadTimeOfDay, s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return TimeOfDay{}, errors.Wrap(errBadTimeOfDay, s)
	}
	return TimeOfDay{hour, minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the time of day on the date of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// Settings are the user-tunable knobs of reminder generation.
type Settings struct {
	HealthAt  TimeOfDay
	BreakAt   TimeOfDay
	LunchAt   TimeOfDay
	MorningAt TimeOfDay
	EveningAt TimeOfDay

	HealthDelays []int
	CustomDelays []int

	MeetingLead   int // minutes before an event
	DefaultSnooze int
}

func DefaultSettings() Settings {
	return Settings{
		HealthAt:      TimeOfDay{22, 0},
		BreakAt:       TimeOfDay{16, 0},
		LunchAt:       TimeOfDay{13, 0},
		MorningAt:     TimeOfDay{8, 0},
		EveningAt:     TimeOfDay{23, 0},
		HealthDelays:  []int{10, 30, 60},
		CustomDelays:  []int{10, 30},
		MeetingLead:   15,
		DefaultSnooze: 15,
	}
}

func (s Settings) clone() Settings {
	s.HealthDelays = append([]int(nil), s.HealthDelays...)
	s.CustomDelays = append([]int(nil), s.CustomDelays...)
	return s
}

type settingField struct {
	apply  func(s *Settings, v string) error
	format func(s *Settings) string
}

func timeField(get func(s *Settings) *TimeOfDay) settingField {
	return settingField{
		apply: func(s *Settings, v string) error {
			t, err := ParseTimeOfDay(v)
			if err != nil {
				return err
			}
			*get(s) = t
			return nil
		},
		format: func(s *Settings) string { return get(s).String() },
	}
}

func delaysField(get func(s *Settings) *[]int) settingField {
	return settingField{
		apply: func(s *Settings, v string) error {
			d, err := ParseDelays(v)
			if err != nil {
				return err
			}
			*get(s) = d
			return nil
		},
		format: func(s *Settings) string { return FormatDelays(*get(s)) },
	}
}

func minutesField(get func(s *Settings) *int) settingField {
	return settingField{
		apply: func(s *Settings, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || n <= 0 {
				return errors.Wrap(errBadMinutes, v)
			}
			*get(s) = n
			return nil
		},
		format: func(s *Settings) string { return strconv.Itoa(*get(s)) },
	}
}

var settingFields = map[string]settingField{
	"health_time":       timeField(func(s *Settings) *TimeOfDay { return &s.HealthAt }),
	"break_time":        timeField(func(s *Settings) *TimeOfDay { return &s.BreakAt }),
	"lunch_time":        timeField(func(s *Settings) *TimeOfDay { return &s.LunchAt }),
	"morning_time":      timeField(func(s *Settings) *TimeOfDay { return &s.MorningAt }),
	"evening_time":      timeField(func(s *Settings) *TimeOfDay { return &s.EveningAt }),
	"health_escalation": delaysField(func(s *Settings) *[]int { return &s.HealthDelays }),
	"custom_escalation": delaysField(func(s *Settings) *[]int { return &s.CustomDelays }),
	"meeting_lead":      minutesField(func(s *Settings) *int { return &s.MeetingLead }),
	"default_snooze":    minutesField(func(s *Settings) *int { return &s.DefaultSnooze }),
}

// Set updates a single named setting. The settings are left untouched on
// error.
func (s *Settings) Set(name, value string) error {
	f, ok := settingFields[name]
	if !ok {
		return errors.Wrap(ErrUnknownSetting, name)
	}
	c := s.clone()
	if err := f.apply(&c, value); err != nil {
		return errors.Wrapf(err, "setting %s", name)
	}
	*s = c
	return nil
}

// Get returns the formatted value of a named setting.
func (s *Settings) Get(name string) (string, error) {
	f, ok := settingFields[name]
	if !ok {
		return "", errors.Wrap(ErrUnknownSetting, name)
	}
	return f.format(s), nil
}

// Apply sets all known values and returns the names it had to skip.
func (s *Settings) Apply(values map[string]string) []string {
	var skipped []string
	for name, v := range values {
		if err := s.Set(name, v); err != nil {
			skipped = append(skipped, name)
		}
	}
	sort.Strings(skipped)
	return skipped
}

func SettingNames() []string {
	names := make([]string, 0, len(settingFields))
	for n := range settingFields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseDelays parses a comma separated list of minutes. "" and "none" mean
// no escalation.
func ParseDelays(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return []int{}, nil
	}

	parts := strings.Split(s, ",")
	res := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return nil, errors.Wrap(errBadMinutes, p)
		}
		res = append(res, n)
	}
	return res, nil
}

func FormatDelays(d []int) string {
	if len(d) == 0 {
		return "none"
	}
	parts := make([]string, len(d))
	for i, n := range d {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
