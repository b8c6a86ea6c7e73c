package supervisor

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
)

func blockUntilDone(stopped *atomic.Int32) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Add(1)
		return ctx.Err()
	}
}

func TestRun_RestartCancelsSiblings(t *testing.T) {
	var stopped atomic.Int32
	s := New(zap.NewNop())
	s.Add("scheduler", blockUntilDone(&stopped))
	s.Add("reconciler", blockUntilDone(&stopped))
	s.Add("config-watch", func(ctx context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return ErrRestart
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrRestart) {
			t.Fatalf("err = %v, want ErrRestart", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("restart did not stop the supervisor")
	}
	if stopped.Load() != 2 {
		t.Errorf("stopped siblings = %d, want 2", stopped.Load())
	}
	if ExitCode(ErrRestart) != 3 {
		t.Errorf("exit code = %d, want 3", ExitCode(ErrRestart))
	}
}

func TestRun_CancelIsCleanExit(t *testing.T) {
	var stopped atomic.Int32
	s := New(zap.NewNop())
	s.Add("a", blockUntilDone(&stopped))
	s.Add("b", blockUntilDone(&stopped))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if ExitCode(nil) != 0 {
		t.Errorf("exit code = %d, want 0", ExitCode(nil))
	}
}

func TestRun_WorkerFailureDoesNotStopOthers(t *testing.T) {
	var stopped atomic.Int32
	s := New(zap.NewNop())
	s.Add("broken", func(context.Context) error { return errors.New("boom") })
	s.Add("healthy", blockUntilDone(&stopped))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("supervisor stopped early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("err = %v", err)
	}
	if stopped.Load() != 1 {
		t.Error("healthy worker should have run until cancel")
	}
}

func TestRestartOnSignal(t *testing.T) {
	// Keep SIGHUP from terminating the test binary before the worker
	// installs its handler.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGHUP)
	defer signal.Stop(guard)

	s := New(zap.NewNop())
	s.Add("signals", RestartOnSignal(zap.NewNop(), syscall.SIGHUP))
	if got := s.Workers(); len(got) != 1 || got[0] != "signals" {
		t.Errorf("workers = %v", got)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			if !errors.Is(err, ErrRestart) {
				t.Fatalf("err = %v, want ErrRestart", err)
			}
			return
		case <-tick.C:
			// Repeat until the handler is installed.
			syscall.Kill(syscall.Getpid(), syscall.SIGHUP)
		case <-deadline:
			t.Fatal("SIGHUP did not request a restart")
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(errors.New("x")); got != 1 {
		t.Errorf("exit code = %d, want 1", got)
	}
}
