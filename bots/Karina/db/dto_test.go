package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karina/bots/Karina/reminder"
)

func TestRowKeepsReminderShape(t *testing.T) {
	at := time.Date(2024, 1, 15, 22, 0, 0, 0, msk)
	tests := []struct {
		name string
		r    *reminder.Reminder
	}{
		{"bare", &reminder.Reminder{
			ID:            "custom_1",
			Category:      reminder.CategoryCustom,
			ScheduledTime: at,
			Active:        true,
		}},
		{"full", &reminder.Reminder{
			ID:               "meeting_1705345200",
			Category:         reminder.CategoryMeeting,
			Message:          "Retro",
			ScheduledTime:    at,
			EscalationDelays: []int{5},
			Severity:         reminder.SeverityElevated,
			Context: map[string]any{
				"title":          "Retro",
				"minutes_before": 15,
				"ratio":          0.5,
				"attendees":      []any{"ann", 2},
				"room":           map[string]any{"floor": 3},
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := toRow(tt.r)
			require.NoError(t, err)

			got, err := w.toReminder()
			require.NoError(t, err)
			assert.Equal(t, tt.r, got)
		})
	}
}

func TestRowEmptyCollections(t *testing.T) {
	w, err := toRow(&reminder.Reminder{
		ID:               "break_1",
		Category:         reminder.CategoryBreak,
		EscalationDelays: []int{},
		Context:          map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(w.Delays))
	assert.Equal(t, "{}", string(w.Context))

	got, err := w.toReminder()
	require.NoError(t, err)
	assert.Nil(t, got.EscalationDelays)
	assert.Nil(t, got.Context)
}

func TestRowBadJSON(t *testing.T) {
	w := row{ID: "x", Category: "custom", Severity: "normal", Context: []byte("{")}
	_, err := w.toReminder()
	assert.Error(t, err)
}
