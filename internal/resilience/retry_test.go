package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	cfg := DefaultRetryConfig()

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, expected := range want {
		if got := cfg.Backoff(i + 1); got != expected {
			t.Errorf("Backoff(%d) = %s, want %s", i+1, got, expected)
		}
	}
}

func TestBackoffCeiling(t *testing.T) {
	cfg := &RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: time.Second,
		Multiplier:     2.0,
		MaxBackoff:     5 * time.Second,
	}
	if got := cfg.Backoff(8); got != 5*time.Second {
		t.Errorf("Backoff(8) = %s, want capped 5s", got)
	}
}

func TestRetrySucceedsEventually(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, Multiplier: 2.0, MaxBackoff: time.Second}

	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, cfg)

	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, Multiplier: 2.0, MaxBackoff: time.Second}

	sentinel := errors.New("persistent")
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return sentinel
	}, cfg)

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel, got %v", err)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, func() error { return errors.New("nope") }, DefaultRetryConfig())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStorageRetryConfig(t *testing.T) {
	cfg := StorageRetryConfig()
	// Original call plus two retries.
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
}
