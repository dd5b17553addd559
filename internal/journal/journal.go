// Package journal is the append-only event log that risk-tagged transaction
// events are written to. Sinks only ever append. The in-process listing sink
// keeps every event unless JOURNAL_MEMORY_CAPACITY caps it, in which case the
// outbound sinks remain the complete record.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront-guard/internal/metrics"
	"storefront-guard/internal/models"
)

// Sink receives journaled events.
type Sink interface {
	Append(ctx context.Context, event models.TransactionEvent) error
}

type SinkFunc func(ctx context.Context, event models.TransactionEvent) error

func (f SinkFunc) Append(ctx context.Context, event models.TransactionEvent) error {
	return f(ctx, event)
}

// NewEvent builds an event with a fresh id. The payload map is copied so later
// changes by the caller do not leak into the journal.
func NewEvent(eventType string, payload map[string]interface{}, meta models.RiskMetadata, at time.Time) models.TransactionEvent {
	copied := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	return models.TransactionEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Payload:    copied,
		Metadata:   meta,
		CapturedAt: at.UTC(),
	}
}

// MemorySink keeps events in process memory. A bounded sink drops the
// oldest events once it holds max of them.
type MemorySink struct {
	mu     sync.RWMutex
	events []models.TransactionEvent
	max    int
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func NewBoundedMemorySink(max int) *MemorySink {
	return &MemorySink{max: max}
}

func (m *MemorySink) Append(_ context.Context, event models.TransactionEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	if m.max > 0 && len(m.events) > m.max {
		m.events = append(m.events[:0:0], m.events[len(m.events)-m.max:]...)
	}
	m.mu.Unlock()
	metrics.JournalAppends.WithLabelValues("memory", "ok").Inc()
	return nil
}

func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Events returns a copy of the journal in append order.
func (m *MemorySink) Events() []models.TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.TransactionEvent(nil), m.events...)
}

// Recent returns up to n of the newest events, newest last. An empty
// eventType matches everything.
func (m *MemorySink) Recent(n int, eventType string) []models.TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.TransactionEvent
	for i := len(m.events) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if eventType != "" && m.events[i].Type != eventType {
			continue
		}
		out = append(out, m.events[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// LogSink writes a structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Append(_ context.Context, event models.TransactionEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.String("session_id", event.Metadata.SessionID),
		zap.String("fingerprint", event.Metadata.DeviceFingerprint),
		zap.Time("captured_at", event.CapturedAt),
	}
	if geo := event.Metadata.GeoLocation; geo.Known() {
		fields = append(fields, zap.Float64("lat", *geo.Latitude), zap.Float64("lon", *geo.Longitude))
	}
	l.logger.Info("Transaction event", fields...)
	metrics.JournalAppends.WithLabelValues("log", "ok").Inc()
	return nil
}
