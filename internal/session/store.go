package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the web layer's session registry. It holds the only long-lived
// strong reference to each session; request handlers clone it for the
// duration of a request and deferred timers only ever hold weak ones.
type Store struct {
	ttl    time.Duration
	logger *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*entry

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	ref     *Ref
	expires time.Time
}

// NewStore creates a session store whose sessions expire after ttl of
// inactivity. A janitor goroutine reaps expired sessions and their jobs.
func NewStore(ttl time.Duration) *Store {
	st := &Store{
		ttl:      ttl,
		logger:   logrus.WithField("component", "session"),
		sessions: make(map[string]*entry),
		stop:     make(chan struct{}),
	}
	go st.janitor()
	return st
}

// Acquire returns a strong reference to the user's session, creating it on
// first sight, and slides its expiry. The caller must Release the result
// when the request ends.
func (st *Store) Acquire(userID string, starred bool) *Ref {
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.sessions[userID]
	if !ok {
		e = &entry{ref: NewRef(&Session{userID: userID, starred: starred})}
		st.sessions[userID] = e
		st.logger.WithField("user_id", userID).Debug("Session created")
	}
	e.expires = time.Now().Add(st.ttl)
	return e.ref.Clone()
}

// Remove tears down a user's session: its job is killed and the store's
// strong reference is dropped, after which weak upgrades fail.
func (st *Store) Remove(userID string) {
	st.mu.Lock()
	e, ok := st.sessions[userID]
	if ok {
		delete(st.sessions, userID)
	}
	st.mu.Unlock()

	if !ok {
		return
	}
	st.drop(e)
}

// Close stops the janitor and tears down every session.
func (st *Store) Close() {
	st.stopOnce.Do(func() { close(st.stop) })

	st.mu.Lock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.sessions = make(map[string]*entry)
	st.mu.Unlock()

	for _, e := range entries {
		st.drop(e)
	}
}

func (st *Store) drop(e *entry) {
	if j := e.ref.Session().TakeIf(""); j != nil {
		j.Kill()
	}
	e.ref.Release()
}

func (st *Store) janitor() {
	interval := st.ttl / 10
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case now := <-ticker.C:
			st.sweep(now)
		}
	}
}

func (st *Store) sweep(now time.Time) {
	st.mu.Lock()
	var expired []*entry
	for id, e := range st.sessions {
		if now.After(e.expires) {
			delete(st.sessions, id)
			expired = append(expired, e)
			st.logger.WithField("user_id", id).Debug("Session expired")
		}
	}
	st.mu.Unlock()

	for _, e := range expired {
		st.drop(e)
	}
}
