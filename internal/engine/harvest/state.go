package harvest

import (
	"sync"
	"sync/atomic"
)

// State is shared by every actor of one harvest. searching is the single signal
// that no more work items will be produced.
type State struct {
	searching atomic.Bool

	mu        sync.Mutex
	processed int
	accepted  int
	target    int
}

func NewState(target int) *State {
	s := &State{target: target}
	s.searching.Store(true)
	return s
}

func (s *State) Searching() bool {
	return s.searching.Load()
}

func (s *State) StopSearching() {
	s.searching.Store(false)
}

// RecordProcessed counts one record handed to the coordinator and returns the
// new count. Processed records may still be rejected as duplicates, so they do
// not count toward the target.
func (s *State) RecordProcessed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	return s.processed
}

// RecordAccepted counts one record kept in the collection and stops the search
// once the target is met. It returns the new count.
func (s *State) RecordAccepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted++
	if s.target > 0 && s.accepted >= s.target {
		s.searching.Store(false)
	}
	return s.accepted
}

func (s *State) Processed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

func (s *State) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// TargetReached reports whether the collection holds target records.
func (s *State) TargetReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target > 0 && s.accepted >= s.target
}

// Stats are live counters for progress reporting.
type Stats struct {
	Sessions   atomic.Int64
	Discovered atomic.Int64
	Processed  atomic.Int64
	Accepted   atomic.Int64
	Duplicates atomic.Int64
	Dropped    atomic.Int64
	Emails     atomic.Int64
	Errors     atomic.Int64
}
