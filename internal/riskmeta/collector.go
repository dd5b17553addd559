package riskmeta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"storefront-guard/internal/journal"
	"storefront-guard/internal/models"
)

const (
	DefaultCaptureTimeout = 5 * time.Second

	// TransactionEventType is used when a payload carries no "type" key.
	TransactionEventType = "transaction"
)

// Device describes the environment the collector runs in.
type Device struct {
	Signals          DeviceSignals
	ScreenResolution string
	Timezone         string
}

// Collector owns one session: its fingerprint and id are fixed at
// construction, the geolocation is refreshed by CaptureGeolocation.
type Collector struct {
	device      Device
	fingerprint string
	sessionID   string
	locator     Locator
	sink        journal.Sink
	timeout     time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu  sync.RWMutex
	geo models.GeoLocation
}

type Option func(*Collector)

func WithCaptureTimeout(d time.Duration) Option {
	return func(c *Collector) { c.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

func WithSessionID(id string) Option {
	return func(c *Collector) { c.sessionID = id }
}

// NewCollector builds a collector. A nil locator means no positioning
// capability; captures then always yield null coordinates.
func NewCollector(device Device, locator Locator, sink journal.Sink, logger *zap.Logger, opts ...Option) *Collector {
	c := &Collector{
		device:      device,
		fingerprint: device.Signals.Fingerprint(),
		locator:     locator,
		sink:        sink,
		timeout:     DefaultCaptureTimeout,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sessionID == "" {
		c.sessionID = NewSessionID(c.now())
	}
	c.geo = models.GeoLocation{Timestamp: c.now()}
	return c
}

func (c *Collector) SessionID() string   { return c.sessionID }
func (c *Collector) Fingerprint() string { return c.fingerprint }

// CaptureGeolocation reads the position once. Denial, timeout and missing
// capability all resolve to null coordinates rather than an error. The
// result replaces the cached location.
func (c *Collector) CaptureGeolocation(ctx context.Context) models.GeoLocation {
	loc := c.locate(ctx)
	loc.Timestamp = c.now()

	c.mu.Lock()
	c.geo = loc
	c.mu.Unlock()
	return loc
}

func (c *Collector) locate(ctx context.Context) models.GeoLocation {
	if c.locator == nil {
		return models.GeoLocation{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		loc models.GeoLocation
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := c.locator.Locate(ctx)
		done <- result{loc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			c.logger.Debug("Geolocation unavailable", zap.Error(r.err))
			return models.GeoLocation{}
		}
		return r.loc
	case <-ctx.Done():
		c.logger.Debug("Geolocation timed out", zap.Duration("timeout", c.timeout))
		return models.GeoLocation{}
	}
}

// RiskMetadata snapshots the cached session fields. It never blocks on a
// capture.
func (c *Collector) RiskMetadata() models.RiskMetadata {
	c.mu.RLock()
	geo := c.geo
	c.mu.RUnlock()

	return models.RiskMetadata{
		DeviceFingerprint: c.fingerprint,
		SessionID:         c.sessionID,
		GeoLocation:       geo,
		UserAgent:         c.device.Signals.UserAgent,
		ScreenResolution:  c.device.ScreenResolution,
		Timezone:          c.device.Timezone,
	}
}

// LogTransaction journals payload with the current session snapshot. The
// event type is taken from payload["type"] when present.
func (c *Collector) LogTransaction(ctx context.Context, payload map[string]interface{}) (models.TransactionEvent, error) {
	eventType := TransactionEventType
	if t, ok := payload["type"].(string); ok && t != "" {
		eventType = t
	}
	return c.Record(ctx, eventType, payload, c.RiskMetadata())
}

// Record journals payload with caller supplied metadata, as the HTTP
// handlers do with metadata taken from request headers.
func (c *Collector) Record(ctx context.Context, eventType string, payload map[string]interface{}, meta models.RiskMetadata) (models.TransactionEvent, error) {
	event := journal.NewEvent(eventType, payload, meta, c.now())
	if err := c.sink.Append(ctx, event); err != nil {
		return event, fmt.Errorf("failed to journal event: %w", err)
	}
	return event, nil
}
