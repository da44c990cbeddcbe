package pending

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time view of the store.
type Stats struct {
	Total     int
	Pending   int
	Streaming int
	Completed int
	// Active is the admission counter.
	Active int64
}

// Store is the registry of live requests. Registry mutations are serialized by
// one lock; the admission counter is a separate atomic so admission checks
// never contend with lookups.
type Store struct {
	mu       sync.Mutex
	requests map[string]*Request

	active atomic.Int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		requests: make(map[string]*Request),
	}
}

// Add creates and registers a pending request under id.
func (s *Store) Add(id string, capture Capture) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	r := newRequest(id, capture)
	s.requests[id] = r
	return r, nil
}

// Get returns the live request registered under id.
func (s *Store) Get(id string) (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	return r, ok
}

// Remove deregisters id. It reports whether the id was present; calling it
// again is harmless.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return false
	}
	delete(s.requests, id)
	return true
}

// RemoveAll completes every live request, closing open streams and waking
// every waiter, then clears the registry. The admission counter is left alone:
// handlers decrement it themselves as they unwind. It returns how many
// requests were swept.
func (s *Store) RemoveAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.requests)
	for _, r := range s.requests {
		r.shutdown()
	}
	s.requests = make(map[string]*Request)
	return n
}

// Len returns the number of registered requests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// IDs returns the identifiers of every registered request, in no order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.requests))
	for id := range s.requests {
		ids = append(ids, id)
	}
	return ids
}

// Stats counts registered requests by state.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Total: len(s.requests), Active: s.active.Load()}
	for _, r := range s.requests {
		switch r.State() {
		case StatePending:
			st.Pending++
		case StateSSEActive:
			st.Streaming++
		case StateCompleted:
			st.Completed++
		}
	}
	return st
}

// IncrementActive adds one to the admission counter and returns the new value.
func (s *Store) IncrementActive() int64 {
	return s.active.Add(1)
}

// DecrementActive subtracts one from the admission counter, never going
// below zero, and returns the new value.
func (s *Store) DecrementActive() int64 {
	for {
		cur := s.active.Load()
		if cur <= 0 {
			return 0
		}
		if s.active.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// Active returns the admission counter.
func (s *Store) Active() int64 {
	return s.active.Load()
}

// IsAtCapacity reports whether the admission counter has reached limit.
func (s *Store) IsAtCapacity(limit int) bool {
	return s.active.Load() >= int64(limit)
}

// TryIncrementActive increments the admission counter only if it is below
// limit. The check and the increment are one atomic step, so concurrent
// arrivals cannot overshoot the limit.
func (s *Store) TryIncrementActive(limit int) bool {
	for {
		cur := s.active.Load()
		if cur >= int64(limit) {
			return false
		}
		if s.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}
