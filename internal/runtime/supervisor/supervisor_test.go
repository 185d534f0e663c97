package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoErrorCancels(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("boom", func(context.Context) error { return errors.New("boom") })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil || err.Error() != "boom: boom" {
		t.Fatalf("Wait() = %v, want boom: boom", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go0("panics", func(context.Context) { panic("bad") })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("Wait() = nil, want panic error")
	}
	if s.Context().Err() != nil {
		t.Fatal("context canceled without WithCancelOnError")
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	if c := s.Counters(); c.Active != 0 || c.Started != 1 {
		t.Fatalf("Counters() = %+v", c)
	}
}

func TestStopCancelsAndWaits(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var stopped atomic.Bool
	s.Go0("loop", func(ctx context.Context) {
		<-ctx.Done()
		stopped.Store(true)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if !stopped.Load() {
		t.Fatal("goroutine not finished after Stop")
	}
}
