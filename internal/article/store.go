package article

import "sync"

// Store is an ordered collection of Articles keyed by ID. Articles are
// immutable once inserted; readers always receive copies.
type Store struct {
	mu    sync.RWMutex
	order []int64
	byID  map[int64]Article
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{byID: make(map[int64]Article)}
}

// NewStoreFrom seeds a Store with articles in the given order. Later
// duplicates of an ID are dropped.
func NewStoreFrom(articles []Article) *Store {
	s := NewStore()
	for _, a := range articles {
		s.Insert(a)
	}
	return s
}

// Insert adds the article and reports whether it was new. An ID already in
// the store is left untouched.
func (s *Store) Insert(a Article) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[a.ID]; exists {
		return false
	}
	s.byID[a.ID] = a
	s.order = append(s.order, a.ID)
	return true
}

// Contains reports whether id is present.
func (s *Store) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// Get returns the article stored under id.
func (s *Store) Get(id int64) (Article, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}

// Len returns the number of stored articles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Articles returns a copy of every article in insertion order.
func (s *Store) Articles() []Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Article, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// IDRange returns the smallest and largest IDs held. ok is false when the
// store is empty.
func (s *Store) IDRange() (minID, maxID int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, id := range s.order {
		if i == 0 || id < minID {
			minID = id
		}
		if i == 0 || id > maxID {
			maxID = id
		}
	}
	return minID, maxID, len(s.order) > 0
}
