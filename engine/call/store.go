package call

import (
	"context"
	"sync"
	"time"
)

// Store holds live sessions. Access to one call is serialised by a
// per-call lock; different calls never contend beyond the map lookup.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	idle    time.Duration
	grace   time.Duration
	now     func() time.Time
}

type entry struct {
	mu   sync.Mutex
	sess Session
	// refs counts goroutines holding or waiting for mu. Guarded by Store.mu.
	refs int
}

// NewStore creates a Store. Sessions idle for longer than idle are evicted;
// ended sessions are kept for grace so late callbacks find them.
func NewStore(idle, grace time.Duration) *Store {
	return &Store{entries: make(map[string]*entry), idle: idle, grace: grace, now: time.Now}
}

// Do runs fn with exclusive access to the session for callID. found is
// false for a call the store does not know; fn may then initialise sess.
// A session left with an empty CallID is not stored.
func (s *Store) Do(callID string, fn func(sess *Session, found bool)) {
	s.mu.Lock()
	e, ok := s.entries[callID]
	if !ok {
		e = &entry{}
		s.entries[callID] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	fn(&e.sess, e.sess.CallID != "")
	empty := e.sess.CallID == ""
	e.mu.Unlock()

	s.mu.Lock()
	e.refs--
	if empty && e.refs == 0 && s.entries[callID] == e {
		delete(s.entries, callID)
	}
	s.mu.Unlock()
}

// Get returns a copy of the session for callID.
func (s *Store) Get(callID string) (Session, bool) {
	var (
		out   Session
		found bool
	)
	s.Do(callID, func(sess *Session, ok bool) {
		out, found = *sess, ok
	})
	return out, found
}

// Len is the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep evicts ended sessions older than the grace period and any session
// idle for longer than the idle timeout. Sessions in use are skipped. It
// returns the evicted sessions.
func (s *Store) Sweep() []Session {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []Session
	for id, e := range s.entries {
		if e.refs > 0 {
			continue
		}
		age := now.Sub(e.sess.UpdatedAt)
		if (e.sess.State == Ended && age >= s.grace) || age >= s.idle {
			evicted = append(evicted, e.sess)
			delete(s.entries, id)
		}
	}
	return evicted
}

// Run sweeps every interval until ctx is done. onEvict, if set, is called
// with each evicted session.
func (s *Store) Run(ctx context.Context, interval time.Duration, onEvict func(Session)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, sess := range s.Sweep() {
				if onEvict != nil {
					onEvict(sess)
				}
			}
		}
	}
}
