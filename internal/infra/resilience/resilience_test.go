package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/infra/resilience"
)

var fastRetry = resilience.Config{
	MaxRetries:     3,
	InitialBackoff: time.Millisecond,
}

func TestRetryWithBackoff_RetriesUntilSuccess(t *testing.T) {
	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), fastRetry, func() error {
		callCount++
		if callCount < 3 {
			return errors.New("provider returned 503")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), fastRetry, func() error {
		callCount++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if callCount != fastRetry.MaxRetries+1 {
		t.Errorf("expected %d calls, got %d", fastRetry.MaxRetries+1, callCount)
	}
}

func TestRetryWithBackoff_PermanentStopsImmediately(t *testing.T) {
	callCount := 0
	unauthorized := &domain.ErrUnauthorized{Message: "token rejected"}
	err := resilience.RetryWithBackoff(context.Background(), fastRetry, func() error {
		callCount++
		return resilience.Permanent(unauthorized)
	})

	if callCount != 1 {
		t.Errorf("expected a single call, got %d", callCount)
	}
	var ue *domain.ErrUnauthorized
	if !errors.As(err, &ue) {
		t.Fatalf("expected unwrapped ErrUnauthorized, got %v", err)
	}
}

func TestRetryWithBackoff_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.RetryWithBackoff(ctx, resilience.Config{MaxRetries: 5, InitialBackoff: time.Second}, func() error {
		return errors.New("error")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecute_OpenBreakerIsTyped(t *testing.T) {
	cb := resilience.NewCircuitBreaker("starling-test")
	noRetry := resilience.Config{MaxRetries: 0, InitialBackoff: time.Millisecond}

	for i := 0; i < 5; i++ {
		_, _ = resilience.Execute(context.Background(), cb, noRetry, func() (int, error) {
			return 0, errors.New("boom")
		})
	}

	_, err := resilience.Execute(context.Background(), cb, noRetry, func() (int, error) {
		return 1, nil
	})
	var open *domain.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if open.Service != "starling-test" {
		t.Errorf("expected service name on error, got %q", open.Service)
	}
}

func TestExecute_ReturnsValue(t *testing.T) {
	cb := resilience.NewCircuitBreaker("ok")
	got, err := resilience.Execute(context.Background(), cb, fastRetry, func() (string, error) {
		return "accounts", nil
	})
	if err != nil || got != "accounts" {
		t.Fatalf("expected value, got %q / %v", got, err)
	}
}

func TestBulkhead_AcquireRelease(t *testing.T) {
	bh := resilience.NewBulkhead(2)

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}
	if bh.InFlight() != 2 {
		t.Errorf("expected 2 in flight, got %d", bh.InFlight())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := bh.Acquire(ctx); err == nil {
		t.Fatal("expected timeout on third acquire")
	}

	bh.Release()
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
}
