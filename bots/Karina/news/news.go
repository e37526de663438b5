// Package news reads the latest headlines from an RSS or Atom feed.
package news

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/pkg/errors"
)

const (
	httpTimeout = 10 * time.Second
	maxFeedSize = 2 << 20
)

var errUnknownFormat = errors.New("neither RSS nor Atom")

type Client struct {
	url  string
	http *http.Client
}

func New(feedURL string) *Client {
	return &Client{url: feedURL, http: &http.Client{Timeout: httpTimeout}}
}

// Headlines returns up to n titles in feed order.
func (c *Client) Headlines(ctx context.Context, n int) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed requesting feed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, errors.Wrap(err, "failed reading feed")
	}

	titles, err := parse(data)
	if err != nil {
		return nil, err
	}
	if len(titles) > n {
		titles = titles[:n]
	}
	return titles, nil
}

func parse(data []byte) ([]string, error) {
	var rss feeds.RssFeedXml
	if err := xml.Unmarshal(data, &rss); err == nil && rss.Channel != nil {
		var res []string
		for _, it := range rss.Channel.Items {
			res = appendTitle(res, it.Title)
		}
		return res, nil
	}

	var atom feeds.AtomFeed
	if err := xml.Unmarshal(data, &atom); err != nil {
		return nil, errors.Wrap(errUnknownFormat, err.Error())
	}
	var res []string
	for _, e := range atom.Entries {
		res = appendTitle(res, e.Title)
	}
	return res, nil
}

func appendTitle(res []string, title string) []string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return res
	}
	return append(res, title)
}
