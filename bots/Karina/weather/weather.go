// Package weather fetches the current conditions from OpenWeatherMap.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://api.openweathermap.org"

	httpTimeout  = 10 * time.Second
	maxErrorBody = 1 << 10
)

type Config struct {
	APIKey  string
	City    string
	BaseURL string
	Lang    string
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: httpTimeout}}
}

type current struct {
	Name    string `json:"name"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// Forecast returns a one line summary of the current weather.
func (c *Client) Forecast(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("q", c.cfg.City)
	q.Set("appid", c.cfg.APIKey)
	q.Set("units", "metric")
	q.Set("lang", c.cfg.Lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/data/2.5/weather?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed requesting weather")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", errors.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var w current
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return "", errors.Wrap(err, "failed decoding weather")
	}

	return format(w), nil
}

func format(w current) string {
	var sb strings.Builder
	if w.Name != "" {
		sb.WriteString(w.Name)
		sb.WriteString(": ")
	}
	fmt.Fprintf(&sb, "%d°C", int(math.Round(w.Main.Temp)))

	feels := int(math.Round(w.Main.FeelsLike))
	if feels != int(math.Round(w.Main.Temp)) {
		fmt.Fprintf(&sb, " (feels like %d°C)", feels)
	}
	if len(w.Weather) > 0 && w.Weather[0].Description != "" {
		sb.WriteString(", ")
		sb.WriteString(w.Weather[0].Description)
	}
	if w.Wind.Speed > 0 {
		fmt.Fprintf(&sb, ", wind %.0f m/s", w.Wind.Speed)
	}
	return sb.String()
}
