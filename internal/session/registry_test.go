package session

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestRegistry(max int) *Registry {
	return NewRegistry(max, zerolog.Nop())
}

func TestRegistryCapacity(t *testing.T) {
	r := newTestRegistry(2)

	if _, err := r.Create("a", "u1", "c1", "medium", 16000); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := r.Create("b", "u1", "c1", "medium", 16000); err != nil {
		t.Fatalf("create b: %v", err)
	}

	_, err := r.Create("c", "u1", "c1", "medium", 16000)
	if !errors.Is(err, ErrCapacity) {
		t.Errorf("expected ErrCapacity, got %v", err)
	}

	// A freed slot is immediately reusable.
	r.Remove("a")
	if _, err := r.Create("c", "u1", "c1", "medium", 16000); err != nil {
		t.Errorf("create after removal: %v", err)
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	r := newTestRegistry(5)
	r.Create("a", "u1", "c1", "medium", 16000)
	if _, err := r.Create("a", "u2", "c2", "low", 8000); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestRegistryGet(t *testing.T) {
	r := newTestRegistry(5)
	r.Create("a", "u1", "c1", "high", 48000)

	sess, err := r.Get("a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.SampleRate != 48000 {
		t.Errorf("sample rate %d, want 48000", sess.SampleRate)
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryRemoveRunsTeardown(t *testing.T) {
	r := newTestRegistry(5)
	sess, _ := r.Create("a", "u1", "c1", "medium", 16000)

	torn := false
	sess.SetTeardown(func() { torn = true })

	removed := r.Remove("a")
	if removed == nil {
		t.Fatal("Remove returned nil")
	}
	if !torn {
		t.Error("teardown did not run")
	}
	if removed.State() != StateClosed {
		t.Errorf("state after remove %s, want closed", removed.State())
	}
	if r.Remove("a") != nil {
		t.Error("second Remove should return nil")
	}
}

func TestSweepIdle(t *testing.T) {
	r := newTestRegistry(5)
	stale, _ := r.Create("stale", "u1", "c1", "medium", 16000)
	r.Create("fresh", "u1", "c1", "medium", 16000)

	stale.mu.Lock()
	stale.lastActivity = time.Now().Add(-10 * time.Minute)
	stale.mu.Unlock()

	if n := r.SweepIdle(5 * time.Minute); n != 1 {
		t.Errorf("swept %d sessions, want 1", n)
	}
	if _, err := r.Get("stale"); !errors.Is(err, ErrNotFound) {
		t.Error("stale session should be gone")
	}
	if _, err := r.Get("fresh"); err != nil {
		t.Error("fresh session should survive")
	}
}

func TestDrainAll(t *testing.T) {
	r := newTestRegistry(5)
	r.Create("a", "u1", "c1", "medium", 16000)
	r.Create("b", "u1", "c1", "medium", 16000)

	if n := r.DrainAll(); n != 2 {
		t.Errorf("drained %d, want 2", n)
	}
	if r.ActiveCount() != 0 {
		t.Errorf("active count %d after drain", r.ActiveCount())
	}
}
