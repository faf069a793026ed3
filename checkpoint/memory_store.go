package checkpoint

import (
	"context"
	"sort"
	"sync"

	"go.docrelay.dev/core/protocol"
)

// MemoryStore is a process-local Store, intended for testing and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[protocol.WatchTarget]protocol.Record
	// Saves records every successful Save, in order.
	Saves []protocol.Record
}

var _ Store = &MemoryStore{} // MemoryStore is-a Store.

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[protocol.WatchTarget]protocol.Record)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, target protocol.WatchTarget) (protocol.Record, error) {
	if err := target.Validate(); err != nil {
		return protocol.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec, ok = s.records[target]
	if !ok {
		rec = protocol.Record{Target: target, Current: true}
	}
	rec.Fence++
	s.records[target] = rec

	rec.LastProcessed = append(protocol.Token(nil), rec.LastProcessed...)
	return rec, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, rec protocol.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur, ok = s.records[rec.Target]
	if !ok || cur.Fence != rec.Fence {
		return ErrFenced
	}
	if rec.LastProcessed.IsZero() {
		cur.LastProcessed = nil
	} else {
		cur.LastProcessed = append(protocol.Token(nil), rec.LastProcessed...)
	}
	s.records[rec.Target] = cur
	s.Saves = append(s.Saves, cur)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(context.Context) ([]protocol.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out = make([]protocol.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

// Position returns the stored position of the WatchTarget, without fencing it.
func (s *MemoryStore) Position(target protocol.WatchTarget) protocol.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[target].LastProcessed
}

func sortRecords(recs []protocol.Record) {
	sort.Slice(recs, func(i, j int) bool {
		var l, r = recs[i].Target, recs[j].Target
		if l.Database != r.Database {
			return l.Database < r.Database
		} else if l.DatabaseLevel != r.DatabaseLevel {
			return l.DatabaseLevel
		}
		return l.Collection < r.Collection
	})
}
