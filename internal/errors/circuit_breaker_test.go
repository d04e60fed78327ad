package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test-store", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	})

	failing := func(ctx context.Context) error {
		return errors.New("boom")
	}

	if err := cb.Execute(context.Background(), failing); err == nil {
		t.Fatal("expected first failure to propagate")
	}
	if err := cb.Execute(context.Background(), failing); err == nil {
		t.Fatal("expected second failure to propagate")
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected circuit open after threshold, got %s", cb.State())
	}

	var degraded *DegradedError
	err := cb.Execute(context.Background(), failing)
	if !errors.As(err, &degraded) {
		t.Fatalf("expected degraded error while open, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test-store", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected half-open trial to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful trial, got %s", cb.State())
	}
}

func TestExecuteFunc_ReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker("test-result", DefaultCircuitBreakerConfig())

	result, err := ExecuteFunc(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %d", result)
	}
}

func TestCircuitBreakerManager_GetIsStable(t *testing.T) {
	mgr := NewCircuitBreakerManager(DefaultCircuitBreakerConfig())

	a := mgr.Get("state-store")
	b := mgr.Get("state-store")
	if a != b {
		t.Fatal("expected Get to return the same breaker instance for the same name")
	}
}
