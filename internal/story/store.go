package story

import (
	"sync"
	"time"
)

// Store keeps job status in memory behind a RWMutex. Reads return
// snapshots so callers never observe a job mid-update.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Status
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*Status)}
}

// Put registers a new job snapshot, overwriting any previous entry
// with the same ID.
func (s *Store) Put(st Status) {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[st.JobID] = &st
}

// Get returns a copy of the job status, or false if the ID is unknown.
func (s *Store) Get(jobID string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.jobs[jobID]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// Update applies fn to the stored job under the write lock. Terminal
// jobs are left untouched so a slow goroutine cannot resurrect a
// finished job. Returns false if the ID is unknown.
func (s *Store) Update(jobID string, fn func(*Status)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	if st.State.Terminal() {
		return true
	}

	fn(st)
	st.UpdatedAt = time.Now().UTC()
	return true
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
