// Package supervisor runs the daemon's long-lived workers and turns a
// restart request from any of them into an orderly shutdown.
package supervisor

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrRestart is returned by a worker that wants the whole process
// restarted, for example after its configuration changed.
var ErrRestart = errors.New("restart requested")

// ExitRestart is the exit status asking the service manager for a restart.
const ExitRestart = 3

// Worker is a named long-running function. Run must return once ctx is
// done.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

type Supervisor struct {
	workers []Worker
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Add registers a worker. It has no effect once Run has started.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.workers = append(s.workers, Worker{Name: name, Run: run})
}

// Workers returns the names of the registered workers.
func (s *Supervisor) Workers() []string {
	names := make([]string, len(s.workers))
	for i, w := range s.workers {
		names[i] = w.Name
	}
	return names
}

// Run starts every worker and blocks until ctx is done or a worker asks
// for a restart, which cancels all the others. It returns ErrRestart in
// the latter case and nil otherwise. Any other worker error is logged and
// the remaining workers keep running.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			log := s.logger.With(zap.String("worker", w.Name))
			log.Debug("worker started")

			err := w.Run(gctx)
			switch {
			case errors.Is(err, ErrRestart):
				log.Info("worker requested restart")
				return ErrRestart
			case err == nil:
				log.Debug("worker stopped")
			case gctx.Err() != nil && errors.Is(err, gctx.Err()):
				log.Debug("worker stopped")
			default:
				log.Error("worker failed", zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); errors.Is(err, ErrRestart) {
		return ErrRestart
	}
	return nil
}

// ExitCode maps the result of Run to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrRestart):
		return ExitRestart
	default:
		return 1
	}
}

// RestartOnSignal returns a worker function that requests a restart when
// one of sigs arrives.
func RestartOnSignal(logger *zap.Logger, sigs ...os.Signal) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, sigs...)
		defer signal.Stop(ch)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-ch:
			logger.Info("restart signal received", zap.String("signal", sig.String()))
			return ErrRestart
		}
	}
}
