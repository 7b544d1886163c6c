package session

import (
	"testing"
	"time"
)

func newTestSession() *Session {
	return &Session{
		ID:           "s1",
		UserID:       "u1",
		state:        StateInitializing,
		lastActivity: time.Now(),
		lastChunkID:  -1,
	}
}

func TestLifecycleTransitions(t *testing.T) {
	sess := newTestSession()

	if err := sess.Transition(StateActive); err != nil {
		t.Fatalf("Initializing->Active failed: %v", err)
	}
	if err := sess.Transition(StateClosing); err != nil {
		t.Fatalf("Active->Closing failed: %v", err)
	}
	if err := sess.Transition(StateClosed); err != nil {
		t.Fatalf("Closing->Closed failed: %v", err)
	}
	if sess.State() != StateClosed {
		t.Errorf("final state %s, want closed", sess.State())
	}
}

func TestAbruptCloseFromActive(t *testing.T) {
	sess := newTestSession()
	if err := sess.Transition(StateActive); err != nil {
		t.Fatal(err)
	}
	if err := sess.Transition(StateClosed); err != nil {
		t.Errorf("Active->Closed should be allowed: %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	sess := newTestSession()
	if err := sess.Transition(StateClosing); err == nil {
		t.Error("Initializing->Closing should fail")
	}

	sess2 := newTestSession()
	sess2.Transition(StateActive)
	sess2.Transition(StateClosed)
	if err := sess2.Transition(StateActive); err == nil {
		t.Error("nothing should leave Closed")
	}
}

func TestAcceptChunkDedup(t *testing.T) {
	sess := newTestSession()

	if !sess.AcceptChunk(0) {
		t.Error("chunk 0 should be accepted")
	}
	if !sess.AcceptChunk(1) {
		t.Error("chunk 1 should be accepted")
	}
	if sess.AcceptChunk(1) {
		t.Error("retransmitted chunk 1 should be dropped")
	}
	if sess.AcceptChunk(0) {
		t.Error("stale chunk 0 should be dropped")
	}
	// Gaps are tolerated.
	if !sess.AcceptChunk(5) {
		t.Error("chunk 5 should be accepted after a gap")
	}
	if sess.LastChunkID() != 5 {
		t.Errorf("high-water mark %d, want 5", sess.LastChunkID())
	}
}

func TestTeardownRunsOnce(t *testing.T) {
	sess := newTestSession()
	calls := 0
	sess.SetTeardown(func() { calls++ })

	sess.runTeardown()
	sess.runTeardown()
	if calls != 1 {
		t.Errorf("teardown ran %d times, want 1", calls)
	}
}
