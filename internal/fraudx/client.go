// Package fraudx talks to the remote fraud scoring backend that receives
// simulated location pings.
package fraudx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-guard/internal/client"
	"storefront-guard/internal/simulation"

	"go.uber.org/zap"
)

var ErrBackend = errors.New("fraud backend error")

const maxBodyBytes = 1 << 20

type Config struct {
	ServerURL           string
	PingEndpoint        string
	ResetEndpoint       string
	SetDeliveryEndpoint string
	Timeout             time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	c := &Client{
		cfg:    cfg,
		http:   client.NewHTTPClient(client.WithTimeout(cfg.Timeout)),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ simulation.Pinger = (*Client)(nil)

// Ping posts one location report. The response body is decoded as-is.
func (c *Client) Ping(ctx context.Context, p simulation.Ping) (*simulation.PingResult, error) {
	var res simulation.PingResult
	if err := c.do(ctx, http.MethodPost, c.cfg.PingEndpoint, p, &res); err != nil {
		return nil, fmt.Errorf("ping %s: %w", p.DeviceID, err)
	}
	return &res, nil
}

type resetResponse struct {
	OK bool `json:"ok"`
}

// Reset clears the backend's last known position for deviceID.
func (c *Client) Reset(ctx context.Context, deviceID string) (bool, error) {
	var res resetResponse
	path := c.cfg.ResetEndpoint + "/" + url.PathEscape(deviceID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &res); err != nil {
		return false, fmt.Errorf("reset %s: %w", deviceID, err)
	}
	return res.OK, nil
}

// SetDelivery registers where the order is expected to be delivered.
func (c *Client) SetDelivery(ctx context.Context, d simulation.Delivery) error {
	if err := c.do(ctx, http.MethodPost, c.cfg.SetDeliveryEndpoint, d, nil); err != nil {
		return fmt.Errorf("set delivery %s: %w", d.DeviceID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.ServerURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrBackend, method, path, resp.StatusCode, truncate(data, 256))
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
