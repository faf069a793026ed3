package indexer

import (
	"context"
	"sync"
)

// MemoryIndex is an in-memory SearchIndex for testing.
type MemoryIndex struct {
	mu      sync.Mutex
	Docs    map[string]map[string]string
	Upserts int
	// Err, if set, is returned by every Upsert.
	Err error
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{Docs: make(map[string]map[string]string)}
}

// Upsert implements SearchIndex.
func (m *MemoryIndex) Upsert(_ context.Context, index, id string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if m.Docs[index] == nil {
		m.Docs[index] = make(map[string]string)
	}
	m.Docs[index][id] = string(body)
	m.Upserts++
	return nil
}
