package mediacast

import "sync"

// InMemoryIdentifierStore holds the list without any durable backing. Used by
// tests and by the memory:// DSN.
type InMemoryIdentifierStore struct {
	mu  sync.Mutex
	ids []int64
}

func NewInMemoryIdentifierStore(ids ...int64) *InMemoryIdentifierStore {
	return &InMemoryIdentifierStore{ids: dedupeIDs(ids)}
}

func (s *InMemoryIdentifierStore) Add(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if containsID(s.ids, id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

func (s *InMemoryIdentifierStore) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.ids[:0]
	removed := false
	for _, existing := range s.ids {
		if existing == id {
			removed = true
			continue
		}
		filtered = append(filtered, existing)
	}
	s.ids = filtered
	return removed
}

func (s *InMemoryIdentifierStore) Replace(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = dedupeIDs(ids)
}

func (s *InMemoryIdentifierStore) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return containsID(s.ids, id)
}

func (s *InMemoryIdentifierStore) Snapshot() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ids...)
}

func (s *InMemoryIdentifierStore) Reload() error {
	return nil
}

func (s *InMemoryIdentifierStore) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return marshalIdentifierList(s.ids)
}

func (s *InMemoryIdentifierStore) Close() error {
	return nil
}
