package api

import (
	"slices"
	"sync"
)

// RunStore keeps the most recent prepare runs in memory.
type RunStore struct {
	mu    sync.Mutex
	runs  map[string]PrepareRun
	order []string
	limit int
}

// NewRunStore returns a store holding at most limit runs; limit <= 0 means 256.
func NewRunStore(limit int) *RunStore {
	if limit <= 0 {
		limit = 256
	}
	return &RunStore{
		runs:  make(map[string]PrepareRun),
		limit: limit,
	}
}

func (s *RunStore) Save(run PrepareRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run
	for len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = slices.Delete(s.order, 0, 1)
	}
}

func (s *RunStore) Get(id string) (PrepareRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok
}

// List returns runs newest first.
func (s *RunStore) List() []PrepareRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PrepareRun, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.runs[s.order[i]])
	}
	return out
}
