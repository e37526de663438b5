package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"karina/bots/Karina/calendar"
)

type WeatherSource interface {
	Forecast(ctx context.Context) (string, error)
}

type EventSource interface {
	TodayEvents(ctx context.Context) ([]calendar.Event, error)
}

type NewsSource interface {
	Headlines(ctx context.Context, n int) ([]string, error)
}

const (
	txtNoWeather   = "Weather is unavailable right now."
	txtNoEvents    = "I couldn't reach the calendar."
	txtNoNews      = "No news today, the feed didn't answer."
	txtFreeDay     = "No events today, the day is yours."
	txtTodayEvents = "Today:"
	txtHeadlines   = "Headlines:"

	numHeadlines   = 3
	sectionTimeout = 10 * time.Second
)

// Composer builds the body of the morning greeting from three independent
// reads. A failed read degrades its section to a placeholder.
type Composer struct {
	Weather WeatherSource
	Events  EventSource
	News    NewsSource
	Loc     *time.Location
	Logger  *zap.SugaredLogger
}

func (c *Composer) Compose(ctx context.Context) string {
	var weather, events, news string
	var g errgroup.Group

	g.Go(func() error {
		weather = c.weather(ctx)
		return nil
	})
	g.Go(func() error {
		events = c.events(ctx)
		return nil
	})
	g.Go(func() error {
		news = c.news(ctx)
		return nil
	})
	_ = g.Wait()

	return strings.Join([]string{weather, events, news}, "\n\n")
}

func (c *Composer) weather(ctx context.Context) string {
	if c.Weather == nil {
		return txtNoWeather
	}

	ctx, cancel := context.WithTimeout(ctx, sectionTimeout)
	defer cancel()

	w, err := c.Weather.Forecast(ctx)
	if err != nil || w == "" {
		c.log().Warnw("failed fetching weather", "err", err)
		return txtNoWeather
	}
	return "🌤 " + w
}

func (c *Composer) events(ctx context.Context) string {
	if c.Events == nil {
		return txtNoEvents
	}

	ctx, cancel := context.WithTimeout(ctx, sectionTimeout)
	defer cancel()

	evs, err := c.Events.TodayEvents(ctx)
	if err != nil {
		c.log().Warnw("failed fetching events", "err", err)
		return txtNoEvents
	}
	if len(evs) == 0 {
		return txtFreeDay
	}

	loc := c.Loc
	if loc == nil {
		loc = time.UTC
	}

	var sb strings.Builder
	sb.WriteString(txtTodayEvents)
	for _, ev := range evs {
		sb.WriteString(fmt.Sprintf("\n• %s %s", ev.Start.In(loc).Format("15:04"), ev.Summary))
	}
	return sb.String()
}

func (c *Composer) news(ctx context.Context) string {
	if c.News == nil {
		return txtNoNews
	}

	ctx, cancel := context.WithTimeout(ctx, sectionTimeout)
	defer cancel()

	hs, err := c.News.Headlines(ctx, numHeadlines)
	if err != nil || len(hs) == 0 {
		c.log().Warnw("failed fetching news", "err", err)
		return txtNoNews
	}

	var sb strings.Builder
	sb.WriteString(txtHeadlines)
	for _, h := range hs {
		sb.WriteString("\n• ")
		sb.WriteString(h)
	}
	return sb.String()
}

func (c *Composer) log() *zap.SugaredLogger {
	if c.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return c.Logger
}
