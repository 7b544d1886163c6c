package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrCapacity is returned when the concurrent-session ceiling is
	// reached. Creation never blocks waiting for a slot.
	ErrCapacity = errors.New("server at capacity")

	// ErrNotFound is returned for unknown or expired session ids.
	ErrNotFound = errors.New("session not found")

	// ErrExists is returned when a session id is already registered.
	ErrExists = errors.New("session already exists")
)

// Registry is the single cross-session synchronization point. All
// access goes through this narrow contract; the underlying map is
// never exposed.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	maxSessions int
	logger      zerolog.Logger
}

// NewRegistry creates a registry with the given concurrency ceiling.
func NewRegistry(maxSessions int, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		logger:      logger,
	}
}

// Create registers a new session in the Initializing state. Returns
// ErrCapacity once the ceiling is reached and ErrExists on id reuse.
func (r *Registry) Create(id, userID, connID, quality string, sampleRate int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	if len(r.sessions) >= r.maxSessions {
		r.logger.Warn().
			Int("active_sessions", len(r.sessions)).
			Int("max_sessions", r.maxSessions).
			Msg("Session limit reached")
		return nil, fmt.Errorf("%w: maximum %d concurrent sessions", ErrCapacity, r.maxSessions)
	}

	now := time.Now()
	sess := &Session{
		ID:           id,
		UserID:       userID,
		ConnID:       connID,
		Quality:      quality,
		SampleRate:   sampleRate,
		CreatedAt:    now,
		state:        StateInitializing,
		lastActivity: now,
		lastChunkID:  -1,
	}
	r.sessions[id] = sess

	r.logger.Info().
		Str("session_id", id).
		Str("user_id", userID).
		Str("quality", quality).
		Int("active_sessions", len(r.sessions)).
		Msg("Session created")

	return sess, nil
}

// Get returns the session for id or ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// Touch updates the session's last-activity time, if it exists.
func (r *Registry) Touch(id string) {
	if sess, err := r.Get(id); err == nil {
		sess.Touch()
	}
}

// Remove unregisters the session, marks it Closed and runs its
// teardown. Safe to call for unknown ids.
func (r *Registry) Remove(id string) *Session {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if sess.State() != StateClosed {
		_ = sess.Transition(StateClosed)
	}
	sess.runTeardown()

	r.logger.Info().
		Str("session_id", id).
		Int("active_sessions", remaining).
		Msg("Session removed")
	return sess
}

// SweepIdle removes every session idle beyond maxIdle, running the
// standard teardown for each. Returns the number removed.
func (r *Registry) SweepIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	var idle []string
	for id, sess := range r.sessions {
		if sess.IdleFor() > maxIdle {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	for _, id := range idle {
		r.logger.Info().Str("session_id", id).Msg("Evicting idle session")
		r.Remove(id)
	}
	return len(idle)
}

// ActiveCount returns the number of registered sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// DrainAll removes every session, for graceful shutdown. Returns the
// number drained.
func (r *Registry) DrainAll() int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
	return len(ids)
}
