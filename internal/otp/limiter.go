package otp

import (
	"context"
	"sync"
	"time"
)

// SendLimiter caps how many codes one phone may request per window.
type SendLimiter interface {
	Allow(ctx context.Context, phone string) (bool, error)
}

// MemorySendLimiter is a fixed-window SendLimiter held in process memory.
type MemorySendLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*sendWindow
}

type sendWindow struct {
	start time.Time
	count int
}

func NewMemorySendLimiter(limit int, window time.Duration) *MemorySendLimiter {
	return &MemorySendLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*sendWindow),
	}
}

func (m *MemorySendLimiter) Allow(_ context.Context, phone string) (bool, error) {
	if m.limit <= 0 {
		return true, nil
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[phone]
	if !ok || now.Sub(w.start) >= m.window {
		m.prune(now)
		w = &sendWindow{start: now}
		m.windows[phone] = w
	}
	w.count++
	return w.count <= m.limit, nil
}

// prune drops closed windows. Called with mu held.
func (m *MemorySendLimiter) prune(now time.Time) {
	for k, w := range m.windows {
		if now.Sub(w.start) >= m.window {
			delete(m.windows, k)
		}
	}
}
