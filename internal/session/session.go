// Package session keys conversation state by caller-supplied session
// ID and serializes turns so concurrent messages for the same session
// cannot interleave their histories.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/cradle-ai-agent/internal/llm"
)

// ErrBusy means another message for the same session was still being
// handled after the configured wait.
var ErrBusy = errors.New("session busy with another message")

// Session is one conversation's accumulated state.
type Session struct {
	ID         string
	History    []llm.Message
	TurnCount  int
	CreatedAt  time.Time
	LastActive time.Time
}

type entry struct {
	sess *Session
	// busy is a one-slot semaphore serializing turns for this session.
	busy chan struct{}
}

// Store holds live sessions with idle expiry.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry

	ttl      time.Duration
	busyWait time.Duration
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewStore creates a session store. ttl is the idle lifetime; busyWait
// is how long a turn waits for an in-flight turn on the same session.
func NewStore(ttl, busyWait time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		busyWait: busyWait,
		logger:   logger,
		now:      time.Now,
	}
}

// WithSession runs fn with exclusive access to the session for id,
// creating it if absent and replacing it if it expired while idle.
// If the session is handling another message, WithSession waits up to
// busyWait before returning ErrBusy. fn's error is returned as-is.
func (s *Store) WithSession(ctx context.Context, id string, fn func(*Session) error) error {
	e := s.acquireEntry(id)

	timer := time.NewTimer(s.busyWait)
	defer timer.Stop()

	select {
	case e.busy <- struct{}{}:
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.busy }()

	err := fn(e.sess)

	s.mu.Lock()
	e.sess.LastActive = s.now()
	s.mu.Unlock()

	return err
}

// acquireEntry finds or creates the entry for id, replacing an entry
// whose session expired while idle. An entry with a turn in flight is
// never replaced regardless of age.
func (s *Store) acquireEntry(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.sessions[id]; ok {
		if !s.expiredLocked(e, now) {
			return e
		}
		s.logger.Info("session expired, starting fresh", "session_id", id)
	}

	e := &entry{
		sess: &Session{
			ID:         id,
			CreatedAt:  now,
			LastActive: now,
		},
		busy: make(chan struct{}, 1),
	}
	s.sessions[id] = e
	return e
}

// expiredLocked reports whether an entry is idle past the TTL. An
// in-flight entry (semaphore held) is never considered expired.
func (s *Store) expiredLocked(e *entry, now time.Time) bool {
	select {
	case e.busy <- struct{}{}:
		<-e.busy
	default:
		return false
	}
	return now.Sub(e.sess.LastActive) > s.ttl
}

// ActiveCount returns the number of unexpired sessions.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.sessions {
		if !s.expiredLocked(e, now) {
			n++
		}
	}
	return n
}

// Sweep removes idle-expired sessions and returns how many were evicted.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, e := range s.sessions {
		if s.expiredLocked(e, now) {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug("swept expired sessions", "evicted", evicted)
	}
	return evicted
}

// Run sweeps periodically until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
