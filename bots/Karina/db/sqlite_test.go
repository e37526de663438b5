package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karina/bots/Karina/reminder"
)

func newSQLite(t *testing.T) *SQLite {
	t.Helper()

	d, err := NewSQLite(filepath.Join(t.TempDir(), "karina.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Migrate(context.Background()))
	// a second run must be harmless
	require.NoError(t, d.Migrate(context.Background()))
	return d
}

func TestSQLiteRoundTrip(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	deferred := time.Date(2024, 1, 15, 22, 25, 0, 123, msk)
	r := &reminder.Reminder{
		ID:               "health_20240115",
		Category:         reminder.CategoryHealth,
		Message:          "Take your pills",
		ScheduledTime:    time.Date(2024, 1, 15, 22, 0, 0, 0, msk),
		EscalationDelays: []int{10, 30, 60},
		Severity:         reminder.SeverityHigh,
		Active:           true,
		DeferredUntil:    &deferred,
		Context:          map[string]any{"title": "Pills", "minutes_before": 15},
		UpdatedAt:        time.Date(2024, 1, 15, 22, 10, 0, 0, msk),
	}
	require.NoError(t, d.Upsert(ctx, r))

	got, err := d.Get(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Category, got.Category)
	assert.Equal(t, r.Message, got.Message)
	assert.True(t, r.ScheduledTime.Equal(got.ScheduledTime))
	assert.Equal(t, r.EscalationDelays, got.EscalationDelays)
	assert.Equal(t, r.Severity, got.Severity)
	assert.True(t, got.Active)
	assert.False(t, got.Confirmed)
	require.NotNil(t, got.DeferredUntil)
	assert.True(t, deferred.Equal(*got.DeferredUntil))
	assert.Equal(t, r.Context, got.Context)
	assert.True(t, r.UpdatedAt.Equal(got.UpdatedAt))

	missing, err := d.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteUpsertReplaces(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	r := &reminder.Reminder{
		ID:            "custom_1",
		Category:      reminder.CategoryCustom,
		Message:       "call mom",
		ScheduledTime: time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC),
		Active:        true,
	}
	require.NoError(t, d.Upsert(ctx, r))

	r.Active = false
	r.Confirmed = true
	r.DeferredUntil = nil
	require.NoError(t, d.Upsert(ctx, r))

	got, err := d.Get(ctx, "custom_1")
	require.NoError(t, err)
	assert.True(t, got.Confirmed)
	assert.False(t, got.Active)
	assert.Nil(t, got.DeferredUntil)
	assert.Nil(t, got.EscalationDelays)
	assert.Nil(t, got.Context)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSQLiteListActive(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	for i, active := range []bool{true, false, true} {
		require.NoError(t, d.Upsert(ctx, &reminder.Reminder{
			ID:            string(rune('c' - i)),
			Category:      reminder.CategoryBreak,
			ScheduledTime: time.Date(2024, 1, 15, 10+i, 0, 0, 0, time.UTC),
			Active:        active,
		}))
	}

	rs, err := d.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "c", rs[0].ID)
	assert.Equal(t, "a", rs[1].ID)
}

func TestSQLiteSettings(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, d.SaveSetting(ctx, "health_time", "21:30"))
	require.NoError(t, d.SaveSetting(ctx, "health_time", "22:15"))
	require.NoError(t, d.SaveSetting(ctx, "meeting_lead", "10"))

	got, err := d.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"health_time": "22:15", "meeting_lead": "10"}, got)
}

func TestSQLiteBacksManager(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	m := reminder.NewManager(reminder.Options{Store: d, Sink: nopSink{}, Location: msk})
	defer m.Close()

	added, err := m.AddIfAbsent(ctx, &reminder.Reminder{
		ID:            "lunch_20240115",
		Category:      reminder.CategoryLunch,
		ScheduledTime: time.Date(2024, 1, 15, 13, 0, 0, 0, msk),
		Active:        true,
	})
	require.NoError(t, err)
	require.True(t, added)
	require.True(t, m.Confirm(ctx, "lunch_20240115"))

	// a fresh process sees the confirmation and doesn't recreate the reminder
	m2 := reminder.NewManager(reminder.Options{Store: d, Sink: nopSink{}, Location: msk})
	defer m2.Close()
	assert.Equal(t, 0, m2.LoadActive(ctx))

	added, err = m2.AddIfAbsent(ctx, &reminder.Reminder{ID: "lunch_20240115", Category: reminder.CategoryLunch})
	require.NoError(t, err)
	assert.False(t, added)
}

type nopSink struct{}

func (nopSink) Send(context.Context, int64, string, []reminder.Control) error { return nil }
