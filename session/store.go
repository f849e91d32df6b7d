package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Factory builds a fresh session for id
type Factory func(id string) *Session

// Store holds the sessions of a multi-user surface, keyed by id
type Store struct {
	sessions sync.Map // session id -> *Session
	factory  Factory
	ttl      time.Duration
	now      func() time.Time
}

// NewStore creates a store. Sessions idle longer than ttl are dropped by
// Sweep; ttl <= 0 keeps them forever.
func NewStore(factory Factory, ttl time.Duration) *Store {
	return &Store{factory: factory, ttl: ttl, now: time.Now}
}

// NewID returns a fresh session id
func NewID() string {
	return uuid.NewString()
}

// Get returns the session for id
func (s *Store) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// GetOrCreate returns the session for id, or a new session under a freshly
// generated id when id is empty or unknown. Client-supplied ids never name
// new sessions. created reports whether a session was made.
func (s *Store) GetOrCreate(id string) (sess *Session, created bool) {
	if existing, ok := s.Get(id); ok {
		return existing, false
	}
	fresh := s.factory(NewID())
	actual, loaded := s.sessions.LoadOrStore(fresh.ID(), fresh)
	return actual.(*Session), !loaded
}

// Delete drops the session for id, cancelling any request it has in flight
func (s *Store) Delete(id string) {
	if v, ok := s.sessions.LoadAndDelete(id); ok {
		v.(*Session).Cancel()
	}
}

// Len returns the number of live sessions
func (s *Store) Len() int {
	n := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Sweep drops idle sessions older than the TTL and returns how many went.
// Sessions with a request in flight are kept.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	var toDelete []string

	s.sessions.Range(func(key, value interface{}) bool {
		sess := value.(*Session)
		if sess.State() == Idle && now.Sub(sess.LastActive()) > s.ttl {
			toDelete = append(toDelete, key.(string))
		}
		return true
	})

	for _, id := range toDelete {
		s.sessions.Delete(id)
		if debugMode {
			log.Printf("[Session Cleanup] Deleted expired session: %s", id)
		}
	}
	return len(toDelete)
}

// Run sweeps on every interval until ctx is done
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Printf("[Session Cleanup] Evicted %d idle sessions, %d remain", n, s.Len())
			}
		}
	}
}

var debugMode bool

// SetDebug toggles per-session cleanup logging
func SetDebug(on bool) {
	debugMode = on
}
