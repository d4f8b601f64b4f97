package datasource

import (
	"context"
	"sync"
	"time"

	"github.com/corintai/corint/internal/value"
)

type timestampedRow struct {
	at  time.Time
	row Row
}

// MemoryStore is an in-process Store for tests and single-node deployments.
// Rows are held per table in insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	tables  map[string][]timestampedRow
	lookups map[string]map[string]value.Value
	clock   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:  map[string][]timestampedRow{},
		lookups: map[string]map[string]value.Value{},
		clock:   time.Now,
	}
}

// Insert appends a row with the given timestamp.
func (s *MemoryStore) Insert(table string, at time.Time, row Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], timestampedRow{at: at, row: row})
}

// Put stores a lookup value under a key.
func (s *MemoryStore) Put(table, key string, v value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookups[table] == nil {
		s.lookups[table] = map[string]value.Value{}
	}
	s.lookups[table][key] = v
}

// Rows returns the table's rows inside the trailing window, oldest first.
func (s *MemoryStore) Rows(_ context.Context, table string, window time.Duration) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.tables[table]
	if !ok {
		if _, isLookup := s.lookups[table]; !isLookup {
			return nil, ErrUnknownTable
		}
		return nil, nil
	}
	cutoff := time.Time{}
	if window > 0 {
		cutoff = s.clock().Add(-window)
	}
	var rows []Row
	for _, tr := range stored {
		if tr.at.Before(cutoff) {
			continue
		}
		rows = append(rows, tr.row)
	}
	return rows, nil
}

// Get returns the lookup value for a key, or Null.
func (s *MemoryStore) Get(_ context.Context, table string, key value.Value) (value.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.lookups[table]
	if !ok {
		return value.Null(), ErrUnknownTable
	}
	v, found := entries[key.String()]
	if !found {
		return value.Null(), nil
	}
	return v, nil
}

func (s *MemoryStore) Close() error { return nil }
