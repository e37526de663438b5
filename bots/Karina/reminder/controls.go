package reminder

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Telegram rejects callback data longer than 64 bytes.
const maxTokenLen = 64

const tokenSep = "|"

// Control is an interactive button attached to a delivered reminder.
type Control struct {
	Label string
	Token string
}

// Sink delivers rendered reminders to the user.
type Sink interface {
	Send(ctx context.Context, recipient int64, text string, controls []Control) error
}

type Action int

const (
	ActionConfirm Action = iota + 1
	ActionSnooze
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionConfirm:
		return "confirm"
	case ActionSnooze:
		return "snooze"
	case ActionSkip:
		return "skip"
	}
	return "unknown"
}

// Callback is a decoded control token.
type Callback struct {
	Action  Action
	ID      string
	Minutes int
}

var ErrBadToken = errors.New("malformed callback token")

func ConfirmToken(id string) string {
	return "c" + tokenSep + id
}

func SnoozeToken(id string, minutes int) string {
	return "s" + tokenSep + strconv.Itoa(minutes) + tokenSep + id
}

func SkipToken(id string) string {
	return "k" + tokenSep + id
}

// ParseToken decodes a token produced by one of the *Token functions.
func ParseToken(token string) (Callback, error) {
	kind, rest, ok := strings.Cut(token, tokenSep)
	if !ok || rest == "" {
		return Callback{}, ErrBadToken
	}

	switch kind {
	case "c":
		return Callback{Action: ActionConfirm, ID: rest}, nil
	case "k":
		return Callback{Action: ActionSkip, ID: rest}, nil
	case "s":
		mins, id, ok := strings.Cut(rest, tokenSep)
		if !ok || id == "" {
			return Callback{}, ErrBadToken
		}
		n, err := strconv.Atoi(mins)
		if err != nil || n <= 0 {
			return Callback{}, ErrBadToken
		}
		return Callback{Action: ActionSnooze, ID: id, Minutes: n}, nil
	}

	return Callback{}, ErrBadToken
}

type controlSpec struct {
	label   string
	action  Action
	minutes int
}

var categoryControls = map[Category][]controlSpec{
	CategoryHealth: {
		{"Done ✅", ActionConfirm, 0},
		{"In 15 min", ActionSnooze, 15},
		{"In 30 min", ActionSnooze, 30},
	},
	CategoryMeeting: {
		{"Got it 👍", ActionConfirm, 0},
		{"In 5 min", ActionSnooze, 5},
	},
	CategoryBreak: {
		{"Done ✅", ActionConfirm, 0},
		{"In 10 min", ActionSnooze, 10},
		{"Skip", ActionSkip, 0},
	},
	CategoryLunch: {
		{"Done ✅", ActionConfirm, 0},
		{"In 20 min", ActionSnooze, 20},
		{"Skip", ActionSkip, 0},
	},
	CategoryMorning: {
		{"Good morning ☀️", ActionConfirm, 0},
	},
	CategoryEvening: {
		{"Good night 🌙", ActionConfirm, 0},
		{"In 30 min", ActionSnooze, 30},
	},
	CategoryCustom: {
		{"Done ✅", ActionConfirm, 0},
		{"In 15 min", ActionSnooze, 15},
		{"In 1 hour", ActionSnooze, 60},
	},
}

// controlsFor builds the buttons for the reminder's category. Buttons whose
// token would exceed the Telegram limit are left out.
func controlsFor(r *Reminder) ([]Control, int) {
	specs := categoryControls[r.Category]
	controls := make([]Control, 0, len(specs))
	dropped := 0
	for _, s := range specs {
		var token string
		switch s.action {
		case ActionConfirm:
			token = ConfirmToken(r.ID)
		case ActionSnooze:
			token = SnoozeToken(r.ID, s.minutes)
		case ActionSkip:
			token = SkipToken(r.ID)
		}
		if len(token) > maxTokenLen {
			dropped++
			continue
		}
		controls = append(controls, Control{Label: s.label, Token: token})
	}
	return controls, dropped
}
