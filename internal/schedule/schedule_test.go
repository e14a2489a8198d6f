package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(time.UTC, 0, Job{Name: "bad", Spec: "every now and then", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestStartRunsEveryJobImmediately(t *testing.T) {
	var weather, holidays atomic.Int32
	release := make(chan struct{})
	started := make(chan string, 3)

	s, err := New(time.UTC, time.Second,
		Job{Name: "agenda", Spec: "0 0 1 1 *", Run: func(ctx context.Context) error {
			started <- "agenda"
			<-release
			return errors.New("calendar down")
		}},
		Job{Name: "weather", Spec: "0 0 1 1 *", Run: func(context.Context) error {
			weather.Add(1)
			started <- "weather"
			return nil
		}},
		Job{Name: "holidays", Spec: "0 0 1 1 *", Run: func(context.Context) error {
			holidays.Add(1)
			started <- "holidays"
			return nil
		}},
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	// The blocked agenda job must not hold up the others.
	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case name := <-started:
			seen[name] = true
		case <-timeout:
			t.Fatalf("jobs started: %v", seen)
		}
	}
	close(release)

	if weather.Load() != 1 || holidays.Load() != 1 {
		t.Errorf("runs weather=%d holidays=%d", weather.Load(), holidays.Load())
	}
}

func TestRunSkipsOverlap(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	s, err := New(time.UTC, 0, Job{Name: "agenda", Spec: "@every 1h", Run: func(context.Context) error {
		runs.Add(1)
		entered <- struct{}{}
		<-release
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		s.RunAll(ctx)
		close(done)
	}()
	<-entered

	// A second run while the first is in flight is dropped.
	s.RunAll(ctx)
	close(release)
	<-done

	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
}

func TestRunHonorsCancelledContext(t *testing.T) {
	var runs atomic.Int32
	s, err := New(nil, 0, Job{Name: "weather", Spec: "@hourly", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunAll(ctx)
	if runs.Load() != 0 {
		t.Error("job ran with a cancelled context")
	}
}
