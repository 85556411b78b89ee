package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/bankfeed-sync/internal/infra/scheduler"
)

func TestScheduler_RunsJob(t *testing.T) {
	s := scheduler.New(zap.NewNop(), time.Second)

	var runs int32
	err := s.Add("sync", "@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start()
	time.Sleep(1500 * time.Millisecond)
	<-s.Stop().Done()

	if n := atomic.LoadInt32(&runs); n < 1 {
		t.Errorf("expected job to run at least once, got %d", n)
	}
}

func TestScheduler_FailingJobKeepsScheduling(t *testing.T) {
	s := scheduler.New(zap.NewNop(), 0)

	var runs int32
	_ = s.Add("flaky", "@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("provider down")
	})

	s.Start()
	time.Sleep(2500 * time.Millisecond)
	<-s.Stop().Done()

	if n := atomic.LoadInt32(&runs); n < 2 {
		t.Errorf("expected repeated runs despite errors, got %d", n)
	}
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := scheduler.New(zap.NewNop(), 0)
	if err := s.Add("bad", "not a cron spec", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestScheduler_StopCancelsContext(t *testing.T) {
	s := scheduler.New(zap.NewNop(), 0)

	started := make(chan struct{}, 1)
	cancelled := make(chan struct{})
	_ = s.Add("long", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	<-s.Stop().Done()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("expected job context to be cancelled on Stop")
	}
}

func TestScheduler_JobDeadlineFromTimeout(t *testing.T) {
	const timeout = 45 * time.Minute
	s := scheduler.New(zap.NewNop(), timeout)

	remaining := make(chan time.Duration, 1)
	_ = s.Add("sync", "@every 1s", func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now()
		}
		select {
		case remaining <- time.Until(deadline):
		default:
		}
		return nil
	})

	s.Start()
	defer func() { <-s.Stop().Done() }()

	select {
	case left := <-remaining:
		if left < timeout-time.Minute || left > timeout {
			t.Errorf("expected the cycle deadline to be about %s away, got %s", timeout, left)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}
