// Package masterlist fetches the population of known servers from the
// master-list HTTP endpoint and drives the discovery loop's exponential
// backoff on fetch failure.
package masterlist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/sethvargo/go-retry"

	"github.com/bf1942ingest/scoutd/internal/model"
)

const fetchTimeout = 10 * time.Second

// Client fetches the master server list over HTTP.
type Client struct {
	httpClient *http.Client
	url        string
	logger     *slog.Logger
}

// New builds a Client using a pooled HTTP transport rather than
// http.DefaultClient, matching the pack's convention for outbound calls
// that need their own timeout.
func New(url string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: cleanhttp.DefaultPooledTransport(),
			Timeout:   fetchTimeout,
		},
		url:    url,
		logger: logger,
	}
}

// Fetch performs a single GET against the master-list endpoint and
// returns the well-formed [ip, port] entries, silently dropping anything
// that isn't a two-element [string, number] array.
func (c *Client) Fetch(ctx context.Context) ([]model.Address, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build master list request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch master list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("master list returned status %d", resp.StatusCode)
	}

	var items []any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode master list: %w", err)
	}

	addrs := make([]model.Address, 0, len(items))
	for _, item := range items {
		entry, ok := item.([]any)
		if !ok || len(entry) != 2 {
			continue
		}
		ip, ok := entry[0].(string)
		if !ok {
			continue
		}
		port, ok := entry[1].(float64)
		if !ok {
			continue
		}
		addrs = append(addrs, model.Address{IP: ip, Port: int(port)})
	}

	return addrs, nil
}

// Run polls Fetch every baseInterval, handing each successful result to
// onServers. A fetch failure is retried with exponential backoff
// (doubling, capped at maxBackoff); a success resets the backoff and
// schedules the next attempt baseInterval later. Run blocks until ctx is
// canceled.
func (c *Client) Run(ctx context.Context, baseInterval, maxBackoff time.Duration, onServers func([]model.Address)) {
	for {
		if ctx.Err() != nil {
			return
		}

		var servers []model.Address
		backoff := retry.WithCappedDuration(maxBackoff, retry.NewExponential(baseInterval))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			s, err := c.Fetch(ctx)
			if err != nil {
				c.logger.Warn("master list fetch failed, backing off", "error", err)
				return retry.RetryableError(err)
			}
			servers = s
			return nil
		})
		if err != nil {
			// ctx was canceled while retrying.
			return
		}

		onServers(servers)

		select {
		case <-time.After(baseInterval):
		case <-ctx.Done():
			return
		}
	}
}
