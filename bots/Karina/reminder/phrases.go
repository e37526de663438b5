package reminder

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// PhraseRequest is what the text generator gets to phrase a reminder.
type PhraseRequest struct {
	Category Category
	Severity Severity
	Message  string
	Context  map[string]any
	TimeHint time.Time
	ForceNew bool // ask for wording different from earlier deliveries
}

// Phraser generates reminder wording. It's best-effort: callers bound it
// with a timeout and fall back to the phrase bank.
type Phraser interface {
	Generate(ctx context.Context, req PhraseRequest) (string, error)
}

var severityPrefix = map[Severity]string{
	SeverityNormal:   "",
	SeverityElevated: "⏰ ",
	SeverityHigh:     "⚠️ ",
	SeverityCritical: "🚨 ",
}

// One phrase per severity level, indexed by Severity.
var phraseBank = map[Category][]string{
	CategoryHealth: {
		"Time for your evening pills 💊",
		"Gentle nudge: the pills are still waiting for you.",
		"Please don't skip the pills tonight, it only takes a minute.",
		"Pills! Right now, please. I'll keep asking until you confirm.",
	},
	CategoryMeeting: {
		"In {minutes} minutes: {title}",
		"{title} starts very soon, time to wrap up.",
		"{title} is about to begin!",
		"{title} has started. Are you joining?",
	},
	CategoryBreak: {
		"Time to stretch and rest your eyes for a few minutes.",
		"Still sitting? Stand up and walk around a bit.",
		"Your back will thank you for a short break. Now is good.",
		"Break. Seriously. Five minutes away from the screen.",
	},
	CategoryLunch: {
		"Lunch time! 🍲",
		"Don't forget to eat, lunch is getting cold.",
		"It's well past lunch time, grab something to eat.",
		"You still haven't had lunch. Please eat something.",
	},
	CategoryMorning: {
		"Good morning! ☀️",
		"Rise and shine, the day is waiting.",
		"Wakey wakey! Time to start the day.",
		"Good morning, sleepyhead! It's really time to get up.",
	},
	CategoryEvening: {
		"It's getting late. Time to wind down 🌙",
		"Put the screens away and get ready for bed.",
		"It's really late, sleep is important.",
		"Bedtime. Now. Tomorrow-you will be grateful.",
	},
	CategoryCustom: {
		"Reminder:",
		"Friendly reminder again:",
		"Please don't forget:",
		"This is important:",
	},
}

// categories whose Message carries information the phrase doesn't
var appendsMessage = map[Category]bool{
	CategoryMeeting: true,
	CategoryCustom:  true,
}

// FallbackPhrase picks a canned phrase for the reminder's category and
// severity. The choice is deterministic.
func FallbackPhrase(r *Reminder) string {
	bank := phraseBank[r.Category]
	if len(bank) == 0 {
		return r.Message
	}

	idx := int(r.Severity)
	if idx < 0 {
		idx = 0
	}
	phrase := bank[idx%len(bank)]

	title := r.contextString(ctxTitle)
	if title == "" {
		title = r.Message
	}
	minutes := "15"
	if n, ok := r.contextInt(ctxMinutesBefore); ok {
		minutes = strconv.Itoa(n)
	}

	return strings.NewReplacer("{title}", title, "{minutes}", minutes).Replace(phrase)
}

func composeText(r *Reminder, phrase, extra string) string {
	var sb strings.Builder
	sb.WriteString(severityPrefix[r.Severity])
	sb.WriteString(phrase)

	if appendsMessage[r.Category] && r.Message != "" && !strings.Contains(phrase, r.Message) {
		sb.WriteString("\n\n")
		sb.WriteString(r.Message)
	}

	if extra != "" {
		sb.WriteString("\n\n")
		sb.WriteString(extra)
	}

	return sb.String()
}
