package history

import (
	"sync"

	"github.com/m-mizutani/atelier/pkg/interfaces"
)

// Stores hands out one Store per namespace over a shared backend, so each
// tool history is opened at most once per process
type Stores[R Entry] struct {
	opener interfaces.Opener

	mu     sync.Mutex
	stores map[string]*Store[R]
}

func NewStores[R Entry](opener interfaces.Opener) *Stores[R] {
	return &Stores[R]{
		opener: opener,
		stores: make(map[string]*Store[R]),
	}
}

// For returns the store of namespace, creating it on first call. The limit
// of an existing store is not changed.
func (s *Stores[R]) For(namespace string, limit int) *Store[R] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.stores[namespace]; ok {
		return st
	}
	st := New[R](s.opener, namespace, limit)
	s.stores[namespace] = st
	return st
}
