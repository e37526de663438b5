// Package calendar reads today's events from Google Calendar.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	httpTimeout  = 10 * time.Second
	maxErrorBody = 1 << 10
)

type Event struct {
	Summary  string
	Start    time.Time
	End      time.Time
	Calendar string
}

type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarIDs  []string
	BaseURL      string
	TokenURL     string
}

type Client struct {
	http      *http.Client
	baseURL   string
	calendars []string
	loc       *time.Location
	clk       clock.Clock
}

// New creates a client that authorizes with a long-lived refresh token.
func New(cfg Config, loc *time.Location, clk clock.Clock) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if len(cfg.CalendarIDs) == 0 {
		cfg.CalendarIDs = []string{"primary"}
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ts := oc.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})

	hc := oauth2.NewClient(context.Background(), ts)
	hc.Timeout = httpTimeout

	return &Client{
		http:      hc,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		calendars: cfg.CalendarIDs,
		loc:       loc,
		clk:       clk,
	}
}

// TodayEvents returns the timed events of the current day in the client's
// location, ordered by start. Calendars that fail are skipped as long as one
// of them answers.
func (c *Client) TodayEvents(ctx context.Context) ([]Event, error) {
	now := c.clk.Now().In(c.loc)
	y, m, d := now.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, c.loc)
	return c.Events(ctx, from, from.AddDate(0, 0, 1))
}

func (c *Client) Events(ctx context.Context, from, to time.Time) ([]Event, error) {
	var (
		mu     sync.Mutex
		events []Event
		errs   error
		ok     int
	)

	var g errgroup.Group
	for _, id := range c.calendars {
		id := id
		g.Go(func() error {
			evs, err := c.list(ctx, id, from, to)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "calendar %s", id))
				return nil
			}
			ok++
			events = append(events, evs...)
			return nil
		})
	}
	_ = g.Wait()

	if ok == 0 {
		return nil, errs
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
	return events, nil
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

type eventsResponse struct {
	Items []struct {
		Summary string    `json:"summary"`
		Status  string    `json:"status"`
		Start   eventTime `json:"start"`
		End     eventTime `json:"end"`
	} `json:"items"`
}

func (c *Client) list(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("timeMin", from.Format(time.RFC3339))
	q.Set("timeMax", to.Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	u := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(calendarID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed requesting events")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var data eventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, errors.Wrap(err, "failed decoding events")
	}

	var res []Event
	for _, it := range data.Items {
		// all-day events have no time to remind before
		if it.Status == "cancelled" || it.Start.DateTime == "" {
			continue
		}
		start, err := time.Parse(time.RFC3339, it.Start.DateTime)
		if err != nil {
			return nil, errors.Wrapf(err, "bad start of %q", it.Summary)
		}
		end, err := time.Parse(time.RFC3339, it.End.DateTime)
		if err != nil {
			end = start
		}
		res = append(res, Event{
			Summary:  it.Summary,
			Start:    start.In(c.loc),
			End:      end.In(c.loc),
			Calendar: calendarID,
		})
	}
	return res, nil
}
