// Package tgbot is Karina's Telegram front: it delivers reminders with inline
// buttons and turns the owner's commands, replies and button presses into
// reminder operations.
package tgbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"karina/bot"
	"karina/bots/Karina/logger"
	"karina/bots/Karina/reminder"
)

const (
	updateTimeout = 60

	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Second
)

var (
	ErrNotOwner = errors.New("message from a stranger")

	errBadMinutes = errors.New("minutes must be positive")
)

// API is the part of the Telegram Bot API the bot uses.
type API interface {
	Send(c tg.Chattable) (tg.Message, error)
	Request(c tg.Chattable) (*tg.APIResponse, error)
	GetUpdatesChan(config tg.UpdateConfig) tg.UpdatesChannel
	StopReceivingUpdates()
}

type Command struct {
	Name string
}

var (
	cmdStart    = Command{"start"}
	cmdHelp     = Command{"help"}
	cmdList     = Command{"list"}
	cmdRemind   = Command{"remind"}
	cmdIn       = Command{"in"}
	cmdDone     = Command{"done"}
	cmdSnooze   = Command{"snooze"}
	cmdSettings = Command{"settings"}
	cmdSet      = Command{"set"}
	cmdSync     = Command{"sync"}
)

type Options struct {
	API      API
	Owner    int64
	Logger   *zap.SugaredLogger
	Clock    clock.Clock
	Location *time.Location
	// SendRate is the number of messages per second, unlimited when zero.
	SendRate      float64
	RetryAttempts int
	RetryDelay    time.Duration
}

// TBot implements reminder.Sink on top of the Telegram Bot API. Manager and
// Planner must be set before Run.
type TBot struct {
	API           API
	Manager       *reminder.Manager
	Planner       *reminder.Planner
	Logger        *zap.SugaredLogger
	RetryAttempts int
	RetryDelay    time.Duration

	owner   int64
	clk     clock.Clock
	loc     *time.Location
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

func NewTBot(o Options) *TBot {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultRetryAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}

	limit := rate.Inf
	if o.SendRate > 0 {
		limit = rate.Limit(o.SendRate)
	}

	return &TBot{
		API:           o.API,
		Logger:        o.Logger,
		RetryAttempts: o.RetryAttempts,
		RetryDelay:    o.RetryDelay,
		owner:         o.Owner,
		clk:           o.Clock,
		loc:           o.Location,
		limiter:       rate.NewLimiter(limit, 1),
	}
}

// Run handles updates until ctx is done and waits for the handlers in
// flight.
func (b *TBot) Run(ctx context.Context) {
	uCfg := tg.NewUpdate(0)
	uCfg.Timeout = updateTimeout

	updates := b.API.GetUpdatesChan(uCfg)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.API.StopReceivingUpdates()
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, u)
			}()
		}
	}
}

func (b *TBot) HandleUpdate(ctx context.Context, u tg.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.HandleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		msg := u.Message
		if msg.Chat == nil || msg.Chat.ID != b.owner {
			b.refuse(ctx, msg)
			return
		}
		if msg.IsCommand() {
			b.HandleCommand(ctx, msg)
		} else {
			b.HandleMessage(ctx, msg)
		}
	}
}

func (b *TBot) refuse(ctx context.Context, msg *tg.Message) {
	var usr int64
	if msg.From != nil {
		usr = msg.From.ID
	}
	logger.ForUser(b.Logger, usr).Warnw("ignored message", "err", ErrNotOwner)

	if msg.Chat != nil {
		b.SendMessage(ctx, msg.Chat.ID, txtNotOwner, msg.MessageID)
	}
}

func (b *TBot) HandleMessage(ctx context.Context, msg *tg.Message) {
	txt := strings.ToLower(strings.Trim(strings.TrimSpace(msg.Text), ".!"))
	if !confirmWords[txt] {
		b.SendMessage(ctx, b.owner, txtDoNotUnderstand, msg.MessageID)
		return
	}

	n := b.Manager.ConfirmPending(ctx)
	if n == 0 {
		b.SendMessage(ctx, b.owner, txtNothingPending, msg.MessageID)
		return
	}
	b.SendMessage(ctx, b.owner, fmt.Sprintf(fmtConfirmed, n), -1)
}

func (b *TBot) HandleCommand(ctx context.Context, msg *tg.Message) {
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case cmdStart.Name:
		b.Logger.Info("owner has started the bot")
		b.SendMessage(ctx, b.owner, txtWelcomeMessage, -1)
		b.SendMessage(ctx, b.owner, txtHelpMessage, -1)

	case cmdHelp.Name:
		b.SendMessage(ctx, b.owner, txtHelpMessage, -1)

	case cmdList.Name:
		b.SendMessage(ctx, b.owner, b.formatPlanned(), -1)

	case cmdRemind.Name:
		at, txt, ok := strings.Cut(args, " ")
		if !ok {
			b.SendMessage(ctx, b.owner, txtExpectedRemindArgs, msg.MessageID)
			return
		}
		t, err := reminder.ParseTimeOfDay(at)
		if err != nil {
			b.SendMessage(ctx, b.owner, txtExpectedRemindArgs, msg.MessageID)
			return
		}
		b.remind(ctx, msg.MessageID, b.Planner.NextAt(t), txt)

	case cmdIn.Name:
		mins, txt, ok := strings.Cut(args, " ")
		if !ok {
			b.SendMessage(ctx, b.owner, txtExpectedInArgs, msg.MessageID)
			return
		}
		n, err := parseMinutes(mins)
		if err != nil {
			b.SendMessage(ctx, b.owner, txtExpectedInArgs, msg.MessageID)
			return
		}
		b.remind(ctx, msg.MessageID, b.clk.Now().Add(time.Duration(n)*time.Minute), txt)

	case cmdDone.Name:
		n := b.Manager.ConfirmPending(ctx)
		if n == 0 {
			b.SendMessage(ctx, b.owner, txtNothingPending, msg.MessageID)
			return
		}
		b.SendMessage(ctx, b.owner, fmt.Sprintf(fmtConfirmed, n), -1)

	case cmdSnooze.Name:
		n := b.Planner.Settings().DefaultSnooze
		if args != "" {
			v, err := parseMinutes(args)
			if err != nil {
				b.SendMessage(ctx, b.owner, txtExpectedMinutes, msg.MessageID)
				return
			}
			n = v
		}
		if b.Manager.SnoozePending(ctx, n) == 0 {
			b.SendMessage(ctx, b.owner, txtNothingToSnooze, msg.MessageID)
			return
		}
		b.SendMessage(ctx, b.owner, fmt.Sprintf(fmtSnoozed, n), -1)

	case cmdSettings.Name:
		b.SendMessage(ctx, b.owner, b.formatSettings(), -1)

	case cmdSet.Name:
		name, value, ok := strings.Cut(args, " ")
		if !ok {
			b.SendMessage(ctx, b.owner, txtExpectedSetArgs, msg.MessageID)
			return
		}
		b.set(ctx, msg.MessageID, name, strings.TrimSpace(value))

	case cmdSync.Name:
		n, err := b.Planner.SyncMeetings(ctx)
		if err != nil {
			b.Logger.Errorw("failed syncing meetings", "err", err)
			b.SendMessage(ctx, b.owner, txtFailedSync, msg.MessageID)
			return
		}
		b.SendMessage(ctx, b.owner, fmt.Sprintf(fmtSynced, n), -1)

	default:
		b.SendMessage(ctx, b.owner, txtUnknownCommand, msg.MessageID)
	}
}

// HandleCallback applies a button press and removes the buttons of the
// pressed message.
func (b *TBot) HandleCallback(ctx context.Context, cbq *tg.CallbackQuery) {
	chatID := int64(0)
	if cbq.Message != nil && cbq.Message.Chat != nil {
		chatID = cbq.Message.Chat.ID
	} else if cbq.From != nil {
		chatID = cbq.From.ID
	}
	if chatID != b.owner {
		b.Logger.Warnw("ignored button press", "err", ErrNotOwner, "chat", chatID)
		b.answer(ctx, cbq.ID, txtNotOwner)
		return
	}

	cb, ok, err := b.Manager.HandleCallback(ctx, cbq.Data)
	var toast string
	switch {
	case err != nil:
		b.Logger.Warnw("failed handling button press", "data", cbq.Data, "err", err)
		toast = txtStaleButton
	case !ok:
		toast = txtAlreadyHandled
	case cb.Action == reminder.ActionSnooze:
		toast = fmt.Sprintf(fmtSnoozedToast, cb.Minutes)
	case cb.Action == reminder.ActionSkip:
		toast = txtSkippedToast
	default:
		toast = txtConfirmedToast
	}

	b.answer(ctx, cbq.ID, toast)
	if cbq.Message != nil {
		b.RemoveKeyboard(ctx, chatID, cbq.Message.MessageID)
	}
}

func (b *TBot) remind(ctx context.Context, replyTo int, at time.Time, txt string) {
	r, err := b.Planner.Remind(ctx, at, txt)
	switch {
	case errors.Is(err, reminder.ErrEmptyText):
		b.SendMessage(ctx, b.owner, txtReminderTextMissing, replyTo)
	case errors.Is(err, reminder.ErrInThePast):
		b.SendMessage(ctx, b.owner, txtReminderInThePast, replyTo)
	case err != nil:
		b.Logger.Errorw("failed adding reminder", "err", err)
		b.SendMessage(ctx, b.owner, txtFailedSetReminder, replyTo)
	default:
		b.SendMessage(ctx, b.owner, fmt.Sprintf(fmtReminderSet, b.formatWhen(r.ScheduledTime)), -1)
	}
}

func (b *TBot) set(ctx context.Context, replyTo int, name, value string) {
	err := b.Planner.Set(name, value)
	switch {
	case errors.Is(err, reminder.ErrUnknownSetting):
		b.SendMessage(ctx, b.owner, fmt.Sprintf(fmtUnknownSetting, name), replyTo)
	case err != nil:
		b.SendMessage(ctx, b.owner, fmt.Sprintf(fmtBadSetting, name, errors.Cause(err)), replyTo)
	default:
		s := b.Planner.Settings()
		v, _ := s.Get(name)
		b.SendMessage(ctx, b.owner, fmt.Sprintf(fmtSettingChanged, name, v), -1)
	}
}

// Send delivers a reminder with its buttons.
func (b *TBot) Send(ctx context.Context, recipient int64, text string, controls []reminder.Control) error {
	m := tg.NewMessage(recipient, text)
	m.DisableWebPagePreview = true
	if kb := keyboard(controls); kb != nil {
		m.ReplyMarkup = kb
	}
	return b.send(ctx, m)
}

// SendMessage sends a plain text message, replying to replyTo when it is not
// negative. Failures are logged.
func (b *TBot) SendMessage(ctx context.Context, usr int64, txt string, replyTo int) error {
	m := tg.NewMessage(usr, txt)
	if replyTo >= 0 {
		m.ReplyToMessageID = replyTo
	}
	m.DisableWebPagePreview = true

	err := b.send(ctx, m)
	if err != nil {
		b.Logger.Errorw("failed sending message", "err", err)
	}
	return err
}

func (b *TBot) send(ctx context.Context, m tg.MessageConfig) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "failed waiting for send slot")
	}

	var err error
	bot.RobustExecute(ctx, b.RetryAttempts, b.RetryDelay, func() bool {
		_, err = b.API.Send(m)
		return err == nil
	})
	return errors.Wrap(err, "failed sending to Telegram")
}

// RemoveKeyboard drops the inline buttons of a sent message.
func (b *TBot) RemoveKeyboard(ctx context.Context, chatID int64, msgID int) bool {
	edit := tg.NewEditMessageReplyMarkup(chatID, msgID, tg.InlineKeyboardMarkup{
		InlineKeyboard: [][]tg.InlineKeyboardButton{},
	})

	var err error
	ok := bot.RobustExecute(ctx, b.RetryAttempts, b.RetryDelay, func() bool {
		_, err = b.API.Request(edit)
		if err != nil && strings.Contains(err.Error(), "message is not modified") {
			err = nil
		}
		return err == nil
	})
	if !ok {
		b.Logger.Errorw("failed removing keyboard", "err", err)
	}
	return ok
}

func (b *TBot) answer(ctx context.Context, id, txt string) {
	if _, err := b.API.Request(tg.NewCallback(id, txt)); err != nil {
		b.Logger.Warnw("failed answering callback", "err", err)
	}
}

func keyboard(controls []reminder.Control) *tg.InlineKeyboardMarkup {
	if len(controls) == 0 {
		return nil
	}
	row := make([]tg.InlineKeyboardButton, 0, len(controls))
	for _, c := range controls {
		row = append(row, tg.NewInlineKeyboardButtonData(c.Label, c.Token))
	}
	kb := tg.NewInlineKeyboardMarkup(row)
	return &kb
}

func (b *TBot) formatPlanned() string {
	rs := b.Manager.List()
	if len(rs) == 0 {
		return txtNothingPlanned
	}

	var sb strings.Builder
	sb.WriteString(txtPlanned)
	for _, r := range rs {
		suffix := ""
		if b.Manager.Escalating(r.ID) {
			suffix = txtEscalating
		}
		sb.WriteString(fmt.Sprintf(fmtPlannedItem, b.formatWhen(r.ScheduledTime), r.Category, r.Message, suffix))
	}
	return sb.String()
}

func (b *TBot) formatSettings() string {
	s := b.Planner.Settings()

	var sb strings.Builder
	sb.WriteString(txtYourSettings)
	for _, name := range reminder.SettingNames() {
		v, _ := s.Get(name)
		sb.WriteString(fmt.Sprintf(fmtSettingItem, name, v))
	}
	return sb.String()
}

// formatWhen prints the time, prefixed with the date when it isn't today.
func (b *TBot) formatWhen(t time.Time) string {
	t = t.In(b.loc)
	now := b.clk.Now().In(b.loc)
	if t.YearDay() == now.YearDay() && t.Year() == now.Year() {
		return t.Format("15:04")
	}
	return t.Format("Jan 2 15:04")
}

func parseMinutes(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrap(err, s)
	}
	if n <= 0 {
		return 0, errors.Wrap(errBadMinutes, s)
	}
	return n, nil
}
