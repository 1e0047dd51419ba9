package session

import (
	"sync"
	"time"
)

// Store is the thread-safe registry of live sessions with TTL eviction.
// Eviction stands in for session end: a session's templates and
// documents are destroyed together when it expires.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Create starts a new session.
func (st *Store) Create() *Session {
	s := newSession()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.id] = s
	return s
}

// Get returns a live session by id, refreshing its last-used time, or
// nil if the id is unknown or expired.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	s := st.sessions[id]
	st.mu.Unlock()
	if s != nil {
		s.touch()
	}
	return s
}

// Cleanup removes sessions idle beyond the TTL.
func (st *Store) Cleanup() {
	cutoff := time.Now().Add(-st.ttl)

	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.sessions {
		s.mu.Lock()
		idle := s.lastUsed.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(st.sessions, id)
		}
	}
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
