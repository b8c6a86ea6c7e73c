// Package confwatch requests a process restart when the config file
// changes, so edits take effect without manual intervention.
package confwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/supervisor"
	"github.com/gftdcojp/unionfs-cleaner/internal/watch"
	"go.uber.org/zap"
)

const (
	ModePoll     = "poll"
	ModeFsnotify = "fsnotify"

	// DefaultSettle lets an editor finish writing before the restart.
	DefaultSettle = 3 * time.Second
)

type Config struct {
	Path         string
	Mode         string
	PollInterval time.Duration
	Settle       time.Duration
	Logger       *zap.Logger
}

type Watcher struct {
	path     string
	mode     string
	interval time.Duration
	settle   time.Duration
	logger   *zap.Logger
}

func New(cfg Config) *Watcher {
	if cfg.Mode == "" {
		cfg.Mode = ModePoll
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	return &Watcher{
		path:     cfg.Path,
		mode:     cfg.Mode,
		interval: cfg.PollInterval,
		settle:   cfg.Settle,
		logger:   cfg.Logger,
	}
}

// Run blocks until the config file changes and then, after the settle
// delay, returns supervisor.ErrRestart. It returns ctx.Err() when ctx is
// done first.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		events <-chan watch.Event
		err    error
	)
	switch w.mode {
	case ModeFsnotify:
		events, err = watch.SubscribeFile(ctx, w.path, w.logger)
	case ModePoll:
		events, err = watch.PollModTime(ctx, w.path, w.interval, w.logger)
	default:
		return fmt.Errorf("unknown config watch mode %q", w.mode)
	}
	if err != nil {
		return fmt.Errorf("watching config file %s: %w", w.path, err)
	}
	w.logger.Info("watching config file", zap.String("path", w.path), zap.String("mode", w.mode))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev, ok := <-events:
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("config watch on %s stopped", w.path)
		}
		w.logger.Info("config file modified, restarting",
			zap.String("path", ev.Path),
			zap.Duration("settle", w.settle),
		)
	}

	t := time.NewTimer(w.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return supervisor.ErrRestart
	}
}
