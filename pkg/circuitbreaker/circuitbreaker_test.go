package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		HalfOpenMaxRequests: 2,
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(failingConfig())

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("open breaker should reject, got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(failingConfig())

	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errBoom })

	if cb.GetState() != StateClosed {
		t.Errorf("non-consecutive failures should keep the breaker closed")
	}
}

func TestRecoversThroughHalfOpen(t *testing.T) {
	cb := New(failingConfig())
	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return errBoom })
	}
	// trips into open
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	// probes succeed in half-open, breaker closes again
	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d rejected: %v", i, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed after successful probes", cb.GetState())
	}
}

func TestReset(t *testing.T) {
	cb := New(failingConfig())
	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return errBoom })
	}
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Error("reset should close the breaker")
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("call after reset failed: %v", err)
	}
}
