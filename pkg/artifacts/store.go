// Package artifacts persists artifact bytes retrieved from peers. Blobs
// are keyed by agreement and artifact id; every write records the
// content digest so consumers can verify integrity later.
package artifacts

import (
	"context"
	"fmt"
	"sync"

	"github.com/datasphere-labs/connector/pkg/canonicalize"
)

// Store is the artifact byte store.
type Store interface {
	// Put persists the blob under the key and returns its content digest.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get returns the blob stored under the key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether a blob is stored under the key.
	Exists(ctx context.Context, key string) (bool, error)
}

// Key derives the storage key for an artifact transferred under an
// agreement.
func Key(agreementID, artifactID string) string {
	return agreementID + "/" + artifactID
}

// MemoryStore is an in-process Store for tests and single-node use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	return canonicalize.HashBytes(data), nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("artifacts: no blob for key %q", key)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}
