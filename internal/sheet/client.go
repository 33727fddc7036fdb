// Package sheet fetches reference data from published spreadsheet CSV
// exports. Nothing is cached once a request settles; concurrent requests
// for the same URL share a single HTTP round trip.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrStatus is wrapped when the source answers with a non-200 status.
var ErrStatus = errors.New("sheet: unexpected status")

// Source is one remote table.
type Source struct {
	Name    string        `yaml:"-"`
	URL     string        `yaml:"url"`
	Key     string        `yaml:"key"`     // header of the lookup column
	Timeout time.Duration `yaml:"timeout"` // default 10s
}

// Client performs sheet GETs.
type Client struct {
	client *http.Client
	ua     string
	logger *slog.Logger
	group  singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a Client with sensible defaults.
func New(opts ...Option) *Client {
	c := &Client{
		client: &http.Client{},
		ua:     "pagekeeper/1.0",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch GETs and parses the whole table. The shared request runs under
// its own timeout, so a caller giving up does not fail the others waiting
// on it.
func (c *Client) Fetch(ctx context.Context, src Source) ([]Record, error) {
	ch := c.group.DoChan(src.URL, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), src)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("sheet: %s: %w", src.Name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("sheet: shared in-flight fetch", "sheet", src.Name)
		}
		return res.Val.([]Record), nil
	}
}

// Lookup fetches the table and returns the row whose key column matches key.
func (c *Client) Lookup(ctx context.Context, src Source, key string) (Record, bool, error) {
	records, err := c.Fetch(ctx, src)
	if err != nil {
		return nil, false, err
	}
	rec, ok := Find(records, src.Key, key)
	return rec, ok, nil
}

func (c *Client) fetch(ctx context.Context, src Source) ([]Record, error) {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("sheet: %s: new request: %w", src.Name, err)
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "text/csv,text/plain;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sheet: %s: do: %w", src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheet: %s: %w %d", src.Name, ErrStatus, resp.StatusCode)
	}

	// Cap read to 8MB; published sheets are small.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("sheet: %s: read body: %w", src.Name, err)
	}

	records := Parse(string(body))
	c.logger.Debug("sheet: fetched",
		"sheet", src.Name, "rows", len(records),
		"size", len(body), "elapsed", time.Since(start))
	return records, nil
}
