package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront-guard/internal/models"
)

type namedSink struct {
	name string
	sink Sink
}

// MultiSink fans an event out to every registered sink concurrently. A
// failing sink does not stop the others; all failures are joined.
type MultiSink struct {
	sinks  []namedSink
	logger *zap.Logger
}

func NewMultiSink(logger *zap.Logger) *MultiSink {
	return &MultiSink{logger: logger}
}

// Add registers sink under name. Not safe to call once appends have started.
func (m *MultiSink) Add(name string, sink Sink) *MultiSink {
	m.sinks = append(m.sinks, namedSink{name: name, sink: sink})
	return m
}

func (m *MultiSink) Names() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.name
	}
	return names
}

func (m *MultiSink) Append(ctx context.Context, event models.TransactionEvent) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	for _, s := range m.sinks {
		g.Go(func() error {
			if err := s.sink.Append(ctx, event); err != nil {
				m.logger.Warn("Journal sink append failed",
					zap.String("sink", s.name),
					zap.String("event_id", event.ID),
					zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
