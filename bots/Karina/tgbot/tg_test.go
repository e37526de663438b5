package tgbot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"karina/bots/Karina/reminder"
)

const owner = int64(100500)

var msk = time.FixedZone("MSK", 3*60*60)

type fakeAPI struct {
	mu        sync.Mutex
	sent      []tg.Chattable
	requests  []tg.Chattable
	failSends int
	updates   chan tg.Update
	stopped   bool
}

func (f *fakeAPI) Send(c tg.Chattable) (tg.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSends > 0 {
		f.failSends--
		return tg.Message{}, errors.New("Too Many Requests: retry after 1")
	}
	f.sent = append(f.sent, c)
	return tg.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tg.Chattable) (*tg.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, c)
	return &tg.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tg.UpdateConfig) tg.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) messages() []tg.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	var res []tg.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tg.MessageConfig); ok {
			res = append(res, m)
		}
	}
	return res
}

func (f *fakeAPI) lastText() string {
	ms := f.messages()
	if len(ms) == 0 {
		return ""
	}
	return ms[len(ms)-1].Text
}

func (f *fakeAPI) calls() []tg.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tg.Chattable(nil), f.requests...)
}

type fixture struct {
	api     *fakeAPI
	clk     clock.FakeClock
	bot     *TBot
	manager *reminder.Manager
	planner *reminder.Planner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := clock.NewFake()
	clk.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, msk))

	api := &fakeAPI{updates: make(chan tg.Update, 4)}
	l := zap.NewNop().Sugar()
	tb := NewTBot(Options{
		API:        api,
		Owner:      owner,
		Logger:     l,
		Clock:      clk,
		Location:   msk,
		RetryDelay: time.Millisecond,
	})

	store := reminder.NewMemoryStore()
	m := reminder.NewManager(reminder.Options{
		Store:     store,
		Sink:      tb,
		Clock:     clk,
		Logger:    l,
		Recipient: owner,
		Location:  msk,
	})
	t.Cleanup(m.Close)

	p := reminder.NewPlanner(reminder.PlannerOptions{Manager: m, Store: store})
	tb.Manager = m
	tb.Planner = p

	return &fixture{api: api, clk: clk, bot: tb, manager: m, planner: p}
}

func command(chat int64, text string) tg.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return tg.Update{Message: &tg.Message{
		MessageID: 7,
		From:      &tg.User{ID: chat},
		Chat:      &tg.Chat{ID: chat},
		Text:      text,
		Entities:  []tg.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func message(chat int64, text string) tg.Update {
	return tg.Update{Message: &tg.Message{
		MessageID: 8,
		From:      &tg.User{ID: chat},
		Chat:      &tg.Chat{ID: chat},
		Text:      text,
	}}
}

// deliverHealth delivers a health reminder due now and leaves it escalating.
func (f *fixture) deliverHealth(t *testing.T) string {
	t.Helper()

	id := reminder.DailyID(reminder.CategoryHealth, f.clk.Now())
	require.NoError(t, f.manager.Add(context.Background(), &reminder.Reminder{
		ID:               id,
		Category:         reminder.CategoryHealth,
		Message:          "Take your pills",
		ScheduledTime:    f.clk.Now(),
		EscalationDelays: []int{10},
		Active:           true,
	}))
	require.Equal(t, 1, reminder.NewDispatcher(f.manager, 0).Tick(context.Background()))
	require.True(t, f.manager.Escalating(id))
	return id
}

func TestSendBuildsKeyboard(t *testing.T) {
	f := newFixture(t)

	err := f.bot.Send(context.Background(), owner, "⏰ Take your pills", []reminder.Control{
		{Label: "Done ✅", Token: reminder.ConfirmToken("health_20240115")},
		{Label: "In 15 min", Token: reminder.SnoozeToken("health_20240115", 15)},
	})
	require.NoError(t, err)

	ms := f.api.messages()
	require.Len(t, ms, 1)
	assert.Equal(t, owner, ms[0].ChatID)
	assert.Equal(t, "⏰ Take your pills", ms[0].Text)

	kb, ok := ms[0].ReplyMarkup.(*tg.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	row := kb.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Equal(t, "Done ✅", row[0].Text)
	assert.Equal(t, "c|health_20240115", *row[0].CallbackData)
	assert.Equal(t, "s|15|health_20240115", *row[1].CallbackData)
}

func TestSendWithoutControls(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.bot.Send(context.Background(), owner, "Good night", nil))
	assert.Nil(t, f.api.messages()[0].ReplyMarkup)
}

func TestSendRetries(t *testing.T) {
	f := newFixture(t)

	f.api.failSends = 2
	require.NoError(t, f.bot.Send(context.Background(), owner, "hi", nil))
	assert.Len(t, f.api.messages(), 1)

	f.api.failSends = 5
	assert.Error(t, f.bot.Send(context.Background(), owner, "hi", nil))
}

func TestStrangerIsRefused(t *testing.T) {
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command(99, "/remind 18:30 steal the cookies"))

	ms := f.api.messages()
	require.Len(t, ms, 1)
	assert.EqualValues(t, 99, ms[0].ChatID)
	assert.Equal(t, txtNotOwner, ms[0].Text)
	assert.Empty(t, f.manager.List())
}

func TestRemindCommand(t *testing.T) {
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command(owner, "/remind 18:30 call mom"))

	rs := f.manager.List()
	require.Len(t, rs, 1)
	assert.Equal(t, reminder.CategoryCustom, rs[0].Category)
	assert.Equal(t, "call mom", rs[0].Message)
	assert.WithinDuration(t, time.Date(2024, 1, 15, 18, 30, 0, 0, msk), rs[0].ScheduledTime, 0)
	assert.Equal(t, "Gotcha, I'll remind you at 18:30", f.api.lastText())
}

func TestRemindCommandTomorrow(t *testing.T) {
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command(owner, "/remind 09:00 gym"))
	assert.Equal(t, "Gotcha, I'll remind you at Jan 16 09:00", f.api.lastText())
}

func TestRemindCommandBadArgs(t *testing.T) {
	f := newFixture(t)

	for _, txt := range []string{"/remind", "/remind 25:00 call mom", "/remind 18:3 call mom"} {
		f.bot.HandleUpdate(context.Background(), command(owner, txt))
		assert.Equal(t, txtExpectedRemindArgs, f.api.lastText(), txt)
	}
	assert.Empty(t, f.manager.List())
}

func TestInCommand(t *testing.T) {
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command(owner, "/in 20 check the oven"))

	rs := f.manager.List()
	require.Len(t, rs, 1)
	assert.WithinDuration(t, time.Date(2024, 1, 15, 10, 20, 0, 0, msk), rs[0].ScheduledTime, 0)

	f.bot.HandleUpdate(context.Background(), command(owner, "/in -5 nope"))
	assert.Equal(t, txtExpectedInArgs, f.api.lastText())
}

func TestConfirmWord(t *testing.T) {
	f := newFixture(t)
	id := f.deliverHealth(t)

	f.bot.HandleUpdate(context.Background(), message(owner, "Done!"))

	r, ok := f.manager.Get(id)
	require.True(t, ok)
	assert.True(t, r.Confirmed)
	assert.False(t, f.manager.Escalating(id))
	assert.Equal(t, "Great, marked 1 reminder(s) as done", f.api.lastText())

	f.bot.HandleUpdate(context.Background(), message(owner, "готово"))
	assert.Equal(t, txtNothingPending, f.api.lastText())

	f.bot.HandleUpdate(context.Background(), message(owner, "what's up?"))
	assert.Equal(t, txtDoNotUnderstand, f.api.lastText())
}

func TestConfirmWordAfterPlainDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := reminder.DailyID(reminder.CategoryEvening, f.clk.Now())
	require.NoError(t, f.manager.Add(ctx, &reminder.Reminder{
		ID:            id,
		Category:      reminder.CategoryEvening,
		Message:       "Time to wind down",
		ScheduledTime: f.clk.Now(),
		Active:        true,
	}))
	require.Equal(t, 1, reminder.NewDispatcher(f.manager, 0).Tick(ctx))
	require.False(t, f.manager.Escalating(id))

	f.bot.HandleUpdate(ctx, command(owner, "/done"))

	r, _ := f.manager.Get(id)
	assert.True(t, r.Confirmed)
	assert.Equal(t, "Great, marked 1 reminder(s) as done", f.api.lastText())
}

func TestCallbackSnoozeAfterSuccessorConfirmed(t *testing.T) {
	f := newFixture(t)
	id := f.deliverHealth(t)

	press := tg.Update{CallbackQuery: &tg.CallbackQuery{
		ID:      "cbq",
		From:    &tg.User{ID: owner},
		Message: &tg.Message{MessageID: 1, Chat: &tg.Chat{ID: owner}},
		Data:    reminder.SnoozeToken(id, 15),
	}}
	f.bot.HandleUpdate(context.Background(), press)
	require.True(t, f.manager.Confirm(context.Background(), reminder.SnoozeID(id)))

	f.bot.HandleUpdate(context.Background(), press)

	calls := f.api.calls()
	require.Len(t, calls, 4)
	assert.Equal(t, txtAlreadyHandled, calls[2].(tg.CallbackConfig).Text)

	next, _ := f.manager.Get(reminder.SnoozeID(id))
	assert.True(t, next.Confirmed)
	assert.False(t, next.Active)
}

func TestSnoozeCommand(t *testing.T) {
	f := newFixture(t)
	id := f.deliverHealth(t)

	f.bot.HandleUpdate(context.Background(), command(owner, "/snooze"))

	next, ok := f.manager.Get(reminder.SnoozeID(id))
	require.True(t, ok)
	assert.WithinDuration(t, f.clk.Now().Add(15*time.Minute), next.ScheduledTime, 0)
	assert.Equal(t, "Okay, I'll come back in 15 min", f.api.lastText())

	f.bot.HandleUpdate(context.Background(), command(owner, "/snooze 5"))
	assert.Equal(t, txtNothingToSnooze, f.api.lastText())
}

func TestCallbackSnooze(t *testing.T) {
	f := newFixture(t)
	id := f.deliverHealth(t)

	f.bot.HandleUpdate(context.Background(), tg.Update{CallbackQuery: &tg.CallbackQuery{
		ID:      "cbq1",
		From:    &tg.User{ID: owner},
		Message: &tg.Message{MessageID: 1, Chat: &tg.Chat{ID: owner}},
		Data:    reminder.SnoozeToken(id, 30),
	}})

	_, ok := f.manager.Get(reminder.SnoozeID(id))
	assert.True(t, ok)

	calls := f.api.calls()
	require.Len(t, calls, 2)
	answer, ok := calls[0].(tg.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cbq1", answer.CallbackQueryID)
	assert.Equal(t, "Snoozed for 30 min", answer.Text)

	edit, ok := calls[1].(tg.EditMessageReplyMarkupConfig)
	require.True(t, ok)
	assert.Equal(t, owner, edit.ChatID)
	assert.Equal(t, 1, edit.MessageID)
	assert.Empty(t, edit.ReplyMarkup.InlineKeyboard)
}

func TestCallbackConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	id := f.deliverHealth(t)

	press := tg.Update{CallbackQuery: &tg.CallbackQuery{
		ID:      "cbq",
		From:    &tg.User{ID: owner},
		Message: &tg.Message{MessageID: 1, Chat: &tg.Chat{ID: owner}},
		Data:    reminder.ConfirmToken(id),
	}}
	f.bot.HandleUpdate(context.Background(), press)
	f.bot.HandleUpdate(context.Background(), press)

	calls := f.api.calls()
	require.Len(t, calls, 4)
	assert.Equal(t, txtConfirmedToast, calls[0].(tg.CallbackConfig).Text)
	assert.Equal(t, txtConfirmedToast, calls[2].(tg.CallbackConfig).Text)

	r, _ := f.manager.Get(id)
	assert.True(t, r.Confirmed)
}

func TestCallbackUnknownReminder(t *testing.T) {
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), tg.Update{CallbackQuery: &tg.CallbackQuery{
		ID:      "cbq",
		From:    &tg.User{ID: owner},
		Message: &tg.Message{MessageID: 3, Chat: &tg.Chat{ID: owner}},
		Data:    reminder.SnoozeToken("health_20240101", 15),
	}})

	calls := f.api.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, txtAlreadyHandled, calls[0].(tg.CallbackConfig).Text)
}

func TestCallbackStaleToken(t *testing.T) {
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), tg.Update{CallbackQuery: &tg.CallbackQuery{
		ID:   "cbq",
		From: &tg.User{ID: owner},
		Data: "garbage",
	}})

	calls := f.api.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, txtStaleButton, calls[0].(tg.CallbackConfig).Text)
}

func TestCallbackFromStranger(t *testing.T) {
	f := newFixture(t)
	id := f.deliverHealth(t)

	f.bot.HandleUpdate(context.Background(), tg.Update{CallbackQuery: &tg.CallbackQuery{
		ID:   "cbq",
		From: &tg.User{ID: 99},
		Data: reminder.ConfirmToken(id),
	}})

	r, _ := f.manager.Get(id)
	assert.False(t, r.Confirmed)
}

func TestSetCommand(t *testing.T) {
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command(owner, "/set health_time 21:30"))
	assert.Equal(t, reminder.TimeOfDay{Hour: 21, Minute: 30}, f.planner.Settings().HealthAt)
	assert.Equal(t, "health_time is now 21:30", f.api.lastText())

	f.bot.HandleUpdate(context.Background(), command(owner, "/set bedtime 23:00"))
	assert.Equal(t, `I don't know the setting "bedtime". Use /settings to list them`, f.api.lastText())

	f.bot.HandleUpdate(context.Background(), command(owner, "/set meeting_lead soon"))
	assert.True(t, strings.HasPrefix(f.api.lastText(), "I couldn't change meeting_lead"))
	assert.Equal(t, 15, f.planner.Settings().MeetingLead)
}

func TestSettingsAndListCommands(t *testing.T) {
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command(owner, "/settings"))
	txt := f.api.lastText()
	assert.Contains(t, txt, "health_escalation = 10,30,60\n")
	assert.Contains(t, txt, "morning_time = 08:00\n")

	f.bot.HandleUpdate(context.Background(), command(owner, "/list"))
	assert.Equal(t, txtNothingPlanned, f.api.lastText())

	f.deliverHealth(t)
	f.bot.HandleUpdate(context.Background(), command(owner, "/list"))
	assert.Equal(t, "Planned:\n10:00 health: Take your pills (waiting for you)\n", f.api.lastText())
}

func TestSyncWithoutCalendar(t *testing.T) {
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command(owner, "/sync"))
	assert.Equal(t, "Calendar synced, 0 new meeting reminder(s)", f.api.lastText())
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command(owner, "/dance"))
	assert.Equal(t, txtUnknownCommand, f.api.lastText())
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.bot.Run(ctx)
	}()

	f.api.updates <- command(owner, "/help")
	require.Eventually(t, func() bool { return f.api.lastText() == txtHelpMessage }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run didn't stop")
	}

	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	assert.True(t, f.api.stopped)
}
