// Package memory provides in-process document and blob stores for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/govwatch/internal/monitor"
)

// DocStore keeps records per collection in insertion order.
type DocStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool
}

type collection struct {
	byID  map[string]monitor.Record
	order []string
}

// NewDocStore creates an empty DocStore.
func NewDocStore() *DocStore {
	return &DocStore{collections: make(map[string]*collection)}
}

// InsertIfAbsent stores rec unless its ID already exists in the collection.
func (s *DocStore) InsertIfAbsent(_ context.Context, name string, rec monitor.Record) (bool, error) {
	if rec.ID == "" {
		return false, fmt.Errorf("insert into %s: record id is required", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("insert into %s: store is closed", name)
	}
	coll, ok := s.collections[name]
	if !ok {
		coll = &collection{byID: make(map[string]monitor.Record)}
		s.collections[name] = coll
	}
	if _, exists := coll.byID[rec.ID]; exists {
		return false, nil
	}
	coll.byID[rec.ID] = rec
	coll.order = append(coll.order, rec.ID)
	return true, nil
}

// Count returns the number of documents in the collection.
func (s *DocStore) Count(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("count %s: store is closed", name)
	}
	coll, ok := s.collections[name]
	if !ok {
		return 0, nil
	}
	return int64(len(coll.order)), nil
}

// DistinctIDs returns every ID stored in the collection.
func (s *DocStore) DistinctIDs(_ context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("distinct ids %s: store is closed", name)
	}
	coll, ok := s.collections[name]
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), coll.order...), nil
}

// Stream visits a snapshot of the collection in insertion order.
func (s *DocStore) Stream(ctx context.Context, name string, fn func(monitor.Record) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("stream %s: store is closed", name)
	}
	var snapshot []monitor.Record
	if coll, ok := s.collections[name]; ok {
		snapshot = make([]monitor.Record, 0, len(coll.order))
		for _, id := range coll.order {
			snapshot = append(snapshot, coll.byID[id])
		}
	}
	s.mu.RUnlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stream %s: %w", name, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Get returns one document by ID.
func (s *DocStore) Get(name, id string) (monitor.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[name]
	if !ok {
		return monitor.Record{}, false
	}
	rec, ok := coll.byID[id]
	return rec, ok
}

// Close marks the store closed; later calls fail.
func (s *DocStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
