package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

const defaultEventBuckets = 64

// Manager spreads analytic rows across a fixed number of buckets so that
// per-day partitions do not hot-spot on a single key.
type Manager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(eventBuckets int) *Manager {
	if eventBuckets <= 0 {
		eventBuckets = defaultEventBuckets
	}
	return &Manager{
		eventBuckets: eventBuckets,
		hasherPool: sync.Pool{
			New: func() interface{} { return murmur3.New64() },
		},
	}
}

// EventBucket returns a stable bucket in [0, eventBuckets) for identifier.
func (m *Manager) EventBucket(identifier string) int {
	h := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(identifier))
	return int(h.Sum64() % uint64(m.eventBuckets))
}

// DateBucket returns the UTC calendar day of t.
func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (m *Manager) Buckets() int {
	return m.eventBuckets
}
