package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffIsIncreasing(t *testing.T) {
	p := Policy{Attempts: 3, BaseDelay: 10 * time.Millisecond}

	if got := p.Backoff(1); got != 10*time.Millisecond {
		t.Fatalf("attempt 1: expected 10ms, got %s", got)
	}
	if got := p.Backoff(2); got != 20*time.Millisecond {
		t.Fatalf("attempt 2: expected 20ms, got %s", got)
	}
	if got := p.Backoff(0); got != 10*time.Millisecond {
		t.Fatalf("attempt 0 clamps to 1: expected 10ms, got %s", got)
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(error) bool { return true }, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryTerminalErrors(t *testing.T) {
	terminal := errors.New("validation")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(err error) bool { return false }, func(context.Context) error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	transient := errors.New("conflict")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(error) bool { return true }, func(context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, DefaultPolicy, func(error) bool { return true }, func(context.Context) error {
		t.Fatal("op must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
