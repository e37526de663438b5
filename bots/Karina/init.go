package karina

import (
	"context"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"go.uber.org/zap"

	"karina/bot"
	"karina/bots/Karina/ai"
	"karina/bots/Karina/calendar"
	"karina/bots/Karina/db"
	"karina/bots/Karina/metrics"
	"karina/bots/Karina/news"
	"karina/bots/Karina/reminder"
	"karina/bots/Karina/tgbot"
	"karina/bots/Karina/timezone"
	"karina/bots/Karina/weather"
)

const (
	Name = "Karina"

	taskQueueSize = 64
)

// Karina is a personal assistant that nags her owner until things are done.
type Karina struct {
	tbot       *tgbot.TBot
	manager    *reminder.Manager
	planner    *reminder.Planner
	dispatcher *reminder.Dispatcher
}

func (k *Karina) Init(cfg *bot.Config, l *zap.SugaredLogger) (*bot.Context, error) {
	bctx := bot.NewContext(l)

	if cfg.Timezone == "" {
		cfg.Timezone = timezone.DefaultName
		cfg.UTCOffsetHours = timezone.DefaultOffset
	}
	loc, err := timezone.Load(cfg.Timezone, cfg.UTCOffsetHours)
	if err != nil {
		l.Warnw("falling back to a fixed time zone", "zone", loc, "err", err)
	}

	d, err := openDB(context.Background(), cfg)
	if err != nil {
		l.Errorw("failed to initialize database", "err", err)
		return nil, err
	}
	bctx.OnClose(d.Close)

	if err := d.Migrate(context.Background()); err != nil {
		l.Errorw("failed to migrate database", "err", err)
		_ = bctx.Close()
		return nil, err
	}

	b, err := tg.NewBotAPI(cfg.TgToken)
	if err != nil {
		l.Errorw("failed to initialize Telegram Bot", "err", err)
		_ = bctx.Close()
		return nil, err
	}

	b.Debug = false

	l.Infof("authorized on account %q", b.Self.UserName)

	clk := clock.New()
	tasks := bot.NewTaskQueue(taskQueueSize, l, func(string) { metrics.DroppedTasks.Inc() })
	bctx.OnClose(tasks.Close)

	tb := tgbot.NewTBot(tgbot.Options{
		API:      b,
		Owner:    cfg.OwnerChatID,
		Logger:   l,
		Clock:    clk,
		Location: loc,
		SendRate: cfg.SendRate,
	})

	composer := &reminder.Composer{Loc: loc, Logger: l}
	var events reminder.EventSource
	if cfg.Calendar.RefreshToken != "" {
		c := calendar.New(calendar.Config{
			ClientID:     cfg.Calendar.ClientID,
			ClientSecret: cfg.Calendar.ClientSecret,
			RefreshToken: cfg.Calendar.RefreshToken,
			CalendarIDs:  cfg.Calendar.CalendarIDs,
		}, loc, clk)
		composer.Events = c
		events = c
	}
	if cfg.WeatherAPIKey != "" {
		composer.Weather = weather.New(weather.Config{
			APIKey:  cfg.WeatherAPIKey,
			City:    cfg.WeatherCity,
			BaseURL: cfg.WeatherBaseURL,
		})
	}
	if cfg.NewsFeedURL != "" {
		composer.News = news.New(cfg.NewsFeedURL)
	}

	var phraser reminder.Phraser
	if cfg.OpenAIKey != "" {
		phraser = ai.New(ai.Config{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
	}

	m := reminder.NewManager(reminder.Options{
		Store:         d,
		Sink:          tb,
		Phraser:       phraser,
		Composer:      composer,
		Clock:         clk,
		Logger:        l,
		Recipient:     cfg.OwnerChatID,
		Location:      loc,
		PhraseTimeout: cfg.AITimeout,
		StoreTimeout:  cfg.DBTimeout,
	})
	p := reminder.NewPlanner(reminder.PlannerOptions{
		Manager:  m,
		Store:    d,
		Events:   events,
		Tasks:    tasks,
		PlanCron: cfg.PlanCron,
		SyncCron: cfg.SyncCron,
	})
	tb.Manager = m
	tb.Planner = p

	k.tbot = tb
	k.manager = m
	k.planner = p
	k.dispatcher = reminder.NewDispatcher(m, 0)

	return bctx, nil
}

// Run restores the reminders, starts the schedules and serves the owner
// until ctx is done.
func (k *Karina) Run(ctx context.Context, bctx *bot.Context) error {
	k.manager.LoadActive(ctx)
	k.planner.LoadSettings(ctx)

	if err := k.planner.Start(ctx); err != nil {
		bctx.Logger.Errorw("failed starting planner", "err", err)
		return err
	}
	defer k.manager.Close()
	defer k.planner.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		k.dispatcher.Run(ctx)
	}()

	k.tbot.Run(ctx)
	<-done
	return nil
}

// Migrate creates the schema without starting the bot.
func (k *Karina) Migrate(ctx context.Context, cfg *bot.Config, l *zap.SugaredLogger) error {
	d, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Migrate(ctx); err != nil {
		return err
	}
	l.Infof("%s database schema is up to date", cfg.DBDriver)
	return nil
}

func openDB(ctx context.Context, cfg *bot.Config) (db.Database, error) {
	return db.Open(ctx, db.Config{
		Driver:        cfg.DBDriver,
		ConnStr:       cfg.DBConnStr,
		RetryAttempts: cfg.DBRetryAttempts,
		RetryDelay:    cfg.DBRetryDelay,
		Timeout:       cfg.DBTimeout,
	})
}

func init() {
	bot.Register(Name, &Karina{}, bot.CfgTgToken, bot.CfgOwnerChatID, bot.CfgDbDriver)
}
