package store

import (
	"context"
	"strconv"
	"sync"

	"balance-service/internal/domain"
	"balance-service/internal/errors"
)

// MemoryStore is an in-process VersionedStore with the same CAS semantics as
// the hosted backends. It backs tests and single-node development runs.
type MemoryStore struct {
	mu        sync.Mutex
	docs      map[string]memoryDoc
	conflicts map[string]int
	writes    int
}

type memoryDoc struct {
	data    []byte
	version int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]memoryDoc),
		conflicts: make(map[string]int),
	}
}

func (s *MemoryStore) Read(ctx context.Context, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[key]
	if !ok {
		return nil, "", nil
	}
	data := make([]byte, len(doc.data))
	copy(data, doc.data)
	return data, strconv.FormatInt(doc.version, 10), nil
}

func (s *MemoryStore) Write(ctx context.Context, key string, data []byte, expectedVersion, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.conflicts[key]; n > 0 {
		s.conflicts[key] = n - 1
		// Bump the stored version so the caller's token really is stale.
		doc := s.docs[key]
		doc.version++
		s.docs[key] = doc
		return errors.ErrStoreConflict
	}

	doc, ok := s.docs[key]
	current := ""
	if ok {
		current = strconv.FormatInt(doc.version, 10)
	}
	if current != expectedVersion {
		return errors.ErrStoreConflict
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	s.docs[key] = memoryDoc{data: stored, version: doc.version + 1}
	s.writes++
	return nil
}

// ForceConflicts makes the next n write attempts against key fail with a
// version conflict, as if another writer committed since the caller's read.
func (s *MemoryStore) ForceConflicts(key string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts[key] = n
}

// Writes returns the number of committed writes across all keys.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

var _ domain.VersionedStore = (*MemoryStore)(nil)
