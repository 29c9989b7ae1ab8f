package archive

import "sync"

// attachSet tracks the Attachables currently attached to an archive,
// guarded by a mutex since detach can race with a concurrent async fetch
// harvesting on another goroutine. Embedded by both concrete archives so
// the attach/detach/close bookkeeping is written once.
type attachSet struct {
	mu       sync.Mutex
	attached map[Attachable]struct{}
}

func (s *attachSet) Attach(a Attachable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached == nil {
		s.attached = make(map[Attachable]struct{})
	}
	s.attached[a] = struct{}{}
}

func (s *attachSet) Detach(a Attachable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, a)
}

// closeAll notifies every still-attached Attachable and clears the set.
func (s *attachSet) closeAll() {
	s.mu.Lock()
	attached := s.attached
	s.attached = nil
	s.mu.Unlock()

	for a := range attached {
		a.OnArchiveDetaching()
	}
}
