package passcode

import (
	"context"
	"sync"

	"balance-service/internal/domain"
)

// MemoryStore keeps passcode records and attempt counters in process memory.
// The state is volatile and not shared across instances; multi-instance
// deployments use the Redis store instead.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]domain.PasscodeRecord
	attempts map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]domain.PasscodeRecord),
		attempts: make(map[string]int),
	}
}

func (s *MemoryStore) Put(ctx context.Context, rec domain.PasscodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Subject] = rec
	s.attempts[rec.Subject] = 0
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, subject string) (domain.PasscodeRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[subject]
	return rec, ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, subject)
	delete(s.attempts, subject)
	return nil
}

func (s *MemoryStore) IncrementAttempts(ctx context.Context, subject string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[subject]++
	return s.attempts[subject], nil
}

var _ domain.PasscodeStore = (*MemoryStore)(nil)
