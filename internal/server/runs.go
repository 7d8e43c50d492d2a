package server

import (
	"sort"
	"sync"

	"workflowci/internal/core"
)

// RunStore keeps the latest snapshot of every run this process has seen.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*core.RunResult
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*core.RunResult)}
}

// Update stores a snapshot. It matches the runner's Notify signature. A
// finished run is never replaced by an unfinished snapshot.
func (s *RunStore) Update(res *core.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.runs[res.ID]; ok && prev.Status.IsTerminal() && !res.Status.IsTerminal() {
		return
	}
	s.runs[res.ID] = res
}

func (s *RunStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
}

func (s *RunStore) Get(id string) (*core.RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return res.Clone(), true
}

// List returns all runs, newest first.
func (s *RunStore) List() []*core.RunResult {
	s.mu.RLock()
	out := make([]*core.RunResult, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
