// Package session owns the server-side state of live dictations: the
// registry of active sessions, each session's lifecycle, and the
// per-session audio accumulator.
package session

import (
	"fmt"
	"sync"
	"time"
)

// State is a session's lifecycle phase. The only transitions are
// Initializing→Active, Active→Closing, Closing→Closed, and
// Active→Closed on abrupt disconnect. Nothing leaves Closed.
type State int

const (
	StateInitializing State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one live dictation, owned exclusively by the Registry.
type Session struct {
	ID         string
	UserID     string
	ConnID     string
	Quality    string
	SampleRate int
	CreatedAt  time.Time

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	lastChunkID  int64

	// Set by the gateway during session_start.
	Accumulator *Accumulator
	teardown    func()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to next, enforcing the lifecycle graph.
func (s *Session) Transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := false
	switch s.state {
	case StateInitializing:
		ok = next == StateActive || next == StateClosed
	case StateActive:
		ok = next == StateClosing || next == StateClosed
	case StateClosing:
		ok = next == StateClosed
	}
	if !ok {
		return fmt.Errorf("invalid session transition %s -> %s", s.state, next)
	}
	s.state = next
	return nil
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleFor returns the time since the last recorded activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// AcceptChunk applies the exactly-once check: a chunk id at or below
// the per-session high-water mark is a retransmission and is dropped.
// Gaps are tolerated; recovery is not retroactive.
func (s *Session) AcceptChunk(chunkID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chunkID <= s.lastChunkID {
		return false
	}
	s.lastChunkID = chunkID
	return true
}

// LastChunkID returns the highest accepted chunk sequence number.
func (s *Session) LastChunkID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChunkID
}

// SetTeardown registers the cleanup run when the registry removes the
// session (bridge close, accumulator discard). Idempotent at call time.
func (s *Session) SetTeardown(fn func()) {
	s.mu.Lock()
	s.teardown = fn
	s.mu.Unlock()
}

func (s *Session) runTeardown() {
	s.mu.Lock()
	fn := s.teardown
	s.teardown = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
