package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingRunner struct {
	passes   atomic.Int32
	active   atomic.Int32
	overlap  atomic.Bool
	finished atomic.Int32
	delay    time.Duration
	err      error
}

func (r *countingRunner) RunPass(ctx context.Context) error {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)
	r.passes.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.finished.Add(1)
	return r.err
}

type countingStats struct {
	calls atomic.Int32
}

func (s *countingStats) LogStats() { s.calls.Add(1) }

func runAsync(s *Scheduler, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_IntervalPasses(t *testing.T) {
	runner := &countingRunner{}
	stats := &countingStats{}
	s := New(runner, stats, testLogger(), 20*time.Millisecond, "")
	s.statsInterval = 15 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(s, ctx)
	time.Sleep(110 * time.Millisecond)
	cancel()
	waitDone(t, done)

	if got := runner.passes.Load(); got < 3 {
		t.Errorf("expected at least 3 passes, got %d", got)
	}
	if stats.calls.Load() == 0 {
		t.Error("expected queue stats to be logged")
	}
}

func TestScheduler_ShutdownWaitsForInFlightPass(t *testing.T) {
	runner := &countingRunner{delay: 100 * time.Millisecond}
	s := New(runner, nil, testLogger(), time.Hour, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(s, ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	waitDone(t, done)

	if runner.passes.Load() != 1 || runner.finished.Load() != 1 {
		t.Fatalf("expected the in-flight pass to finish, passes=%d finished=%d",
			runner.passes.Load(), runner.finished.Load())
	}
}

func TestScheduler_NoPassAfterShutdown(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, nil, testLogger(), 10*time.Millisecond, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	waitDone(t, runAsync(s, ctx))

	if runner.passes.Load() != 0 {
		t.Fatalf("expected no passes after shutdown, got %d", runner.passes.Load())
	}
}

func TestScheduler_PassErrorDoesNotStopLoop(t *testing.T) {
	runner := &countingRunner{err: errors.New("db down")}
	s := New(runner, nil, testLogger(), 10*time.Millisecond, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(s, ctx)
	time.Sleep(60 * time.Millisecond)
	cancel()
	waitDone(t, done)

	if runner.passes.Load() < 2 {
		t.Fatalf("expected the loop to continue after errors, got %d passes", runner.passes.Load())
	}
}

func TestScheduler_CronTriggersPasses(t *testing.T) {
	runner := &countingRunner{delay: 300 * time.Millisecond}
	s := New(runner, nil, testLogger(), 0, "@every 1s")

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(s, ctx)
	time.Sleep(2500 * time.Millisecond)
	cancel()
	waitDone(t, done)

	if runner.overlap.Load() {
		t.Fatal("passes must not overlap")
	}
	if runner.passes.Load() < 2 {
		t.Fatalf("expected cron to trigger passes, got %d", runner.passes.Load())
	}
	if runner.passes.Load() != runner.finished.Load() {
		t.Fatal("in-flight pass must finish before Run returns")
	}
}

func TestScheduler_InvalidCron(t *testing.T) {
	s := New(&countingRunner{}, nil, testLogger(), 0, "not a cron")
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}
