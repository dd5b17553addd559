package otp

import (
	"context"
	"sync"
	"time"

	"storefront-guard/internal/hashing"
)

// Record is the ledger entry for one normalized phone. It never holds the
// plaintext code.
type Record struct {
	Hash      hashing.HashResult `json:"hash"`
	ExpiresAt time.Time          `json:"expires_at"`
	Attempts  int                `json:"attempts"`
	IssuedAt  time.Time          `json:"issued_at"`
}

// Store persists at most one Record per phone. Put replaces any existing
// record wholesale. Get returns ErrRecordNotFound when nothing is stored.
type Store interface {
	Get(ctx context.Context, phone string) (*Record, error)
	Put(ctx context.Context, phone string, rec *Record) error
	Delete(ctx context.Context, phone string) error
}

// MemoryStore keeps records in process memory. Records are only removed by
// Delete; expiry is decided by the ledger.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, phone string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[phone]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Put(_ context.Context, phone string, rec *Record) error {
	s.mu.Lock()
	s.records[phone] = *rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	delete(s.records, phone)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
