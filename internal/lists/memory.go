package lists

import (
	"context"
	"sync"

	"github.com/corintai/corint/internal/value"
)

// memberSet is one list's state: a hash set for O(1) contains plus an
// insertion-ordered snapshot value rebuilt on write.
type memberSet struct {
	members  map[string]value.Value
	ordered  []value.Value
	snapshot value.Value
}

func newMemberSet() *memberSet {
	return &memberSet{members: map[string]value.Value{}, snapshot: value.List()}
}

func (s *memberSet) add(v value.Value) {
	key := v.String()
	if _, ok := s.members[key]; ok {
		return
	}
	s.members[key] = v
	s.ordered = append(s.ordered, v)
	s.rebuild()
}

func (s *memberSet) remove(v value.Value) {
	key := v.String()
	if _, ok := s.members[key]; !ok {
		return
	}
	delete(s.members, key)
	kept := s.ordered[:0]
	for _, m := range s.ordered {
		if m.String() != key {
			kept = append(kept, m)
		}
	}
	s.ordered = kept
	s.rebuild()
}

func (s *memberSet) rebuild() {
	copied := make([]value.Value, len(s.ordered))
	copy(copied, s.ordered)
	s.snapshot = value.List(copied...)
}

// MemoryService is an in-process list backend.
type MemoryService struct {
	mu    sync.RWMutex
	lists map[string]*memberSet
}

var (
	_ Service     = (*MemoryService)(nil)
	_ Snapshotter = (*MemoryService)(nil)
)

// NewMemoryService returns an empty in-memory list service. Seed maps list
// ids to their initial members.
func NewMemoryService(seed map[string][]value.Value) *MemoryService {
	svc := &MemoryService{lists: map[string]*memberSet{}}
	for id, members := range seed {
		set := newMemberSet()
		for _, m := range members {
			set.add(m)
		}
		svc.lists[id] = set
	}
	return svc
}

func (s *MemoryService) Contains(_ context.Context, listID string, v value.Value) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.lists[listID]
	if !ok {
		return false, ErrUnknownList
	}
	_, found := set.members[v.String()]
	return found, nil
}

func (s *MemoryService) Add(_ context.Context, listID string, v value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.lists[listID]
	if !ok {
		set = newMemberSet()
		s.lists[listID] = set
	}
	set.add(v)
	return nil
}

func (s *MemoryService) Remove(_ context.Context, listID string, v value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.lists[listID]
	if !ok {
		return ErrUnknownList
	}
	set.remove(v)
	return nil
}

func (s *MemoryService) GetAll(_ context.Context, listID string) ([]value.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.lists[listID]
	if !ok {
		return nil, ErrUnknownList
	}
	members := make([]value.Value, len(set.ordered))
	copy(members, set.ordered)
	return members, nil
}

func (s *MemoryService) Snapshot(_ context.Context, listID string) (value.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.lists[listID]
	if !ok {
		return value.Null(), nil
	}
	return set.snapshot, nil
}

func (s *MemoryService) Close() error { return nil }
