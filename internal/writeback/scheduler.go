// Package writeback keeps the local tier under its size ceiling by moving
// it to the cold tier whenever a periodic check finds it full and nothing
// in it is held open.
package writeback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/metrics"
	"github.com/gftdcojp/unionfs-cleaner/internal/notify"
	"github.com/gftdcojp/unionfs-cleaner/internal/remote"
	"github.com/gftdcojp/unionfs-cleaner/internal/runner"
	"github.com/gftdcojp/unionfs-cleaner/internal/tombstone"
	"go.uber.org/zap"
)

type CapacityProbe interface {
	Usage(ctx context.Context, path string) (int, error)
}

type BusyProbe interface {
	OpenFiles(ctx context.Context, dir string) ([]string, error)
}

// Cleaner reconciles every tombstone before data is moved, so a marker
// can never delete a remote object the move just replaced.
type Cleaner interface {
	Scan(ctx context.Context) (tombstone.ScanResult, error)
}

type Mover interface {
	Move(ctx context.Context, onLine runner.LineFunc) error
}

type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// Config holds dependencies for a Scheduler. Pruner and Notifier may be nil.
type Config struct {
	LocalFolder string
	CeilingGB   int
	Interval    time.Duration
	SettleDelay time.Duration
	Capacity    CapacityProbe
	Busy        BusyProbe
	Cleaner     Cleaner
	Mover       Mover
	Pruner      Pruner
	Notifier    notify.Notifier
	Backoff     *Backoff
	Logger      *zap.Logger
}

// Scheduler runs write-back cycles on a timer whose interval switches to
// the cool-down once the remote rate limits us.
type Scheduler struct {
	folder   string
	ceiling  int
	settle   time.Duration
	capacity CapacityProbe
	busy     BusyProbe
	cleaner  Cleaner
	mover    Mover
	pruner   Pruner
	notifier notify.Notifier
	backoff  *Backoff
	logger   *zap.Logger

	cycleMu sync.Mutex

	mu          sync.Mutex
	state       State
	interval    time.Duration
	coolingDown bool
	lastUsage   *int
	cycles      int
	lastCycle   *CycleInfo
}

func New(cfg Config) *Scheduler {
	n := cfg.Notifier
	if n == nil {
		n = nopNotifier{}
	}
	b := cfg.Backoff
	if b == nil {
		b = NewBackoff(nil, 0, cfg.Interval)
	}
	metrics.CheckInterval.Set(cfg.Interval.Seconds())
	return &Scheduler{
		folder:   cfg.LocalFolder,
		ceiling:  cfg.CeilingGB,
		settle:   cfg.SettleDelay,
		capacity: cfg.Capacity,
		busy:     cfg.Busy,
		cleaner:  cfg.Cleaner,
		mover:    cfg.Mover,
		pruner:   cfg.Pruner,
		notifier: n,
		backoff:  b,
		logger:   cfg.Logger,
		interval: cfg.Interval,
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(notify.Event) {}

// Run waits one interval, runs a cycle, and repeats until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("write-back scheduler started",
		zap.String("folder", s.folder),
		zap.Int("ceiling_gb", s.ceiling),
		zap.Duration("interval", s.Interval()),
	)

	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if _, err := s.RunCycle(ctx); err != nil {
				s.logger.Error("write-back cycle error", zap.Error(err))
			}
			timer.Reset(s.Interval())
		}
	}
}

// Interval is the current polling interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Snapshot returns the scheduler's current state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:          s.state.String(),
		Interval:       s.interval.String(),
		CoolingDown:    s.coolingDown,
		CeilingGB:      s.ceiling,
		RateLimitCount: s.backoff.Count(),
		Cycles:         s.cycles,
	}
	if s.lastUsage != nil {
		u := *s.lastUsage
		snap.LastUsageGB = &u
	}
	if s.lastCycle != nil {
		c := *s.lastCycle
		snap.LastCycle = &c
	}
	return snap
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SchedulerState.Set(float64(st))
}

func (s *Scheduler) setUsage(gb int) {
	s.mu.Lock()
	s.lastUsage = &gb
	s.mu.Unlock()
}

func (s *Scheduler) finish(start time.Time, outcome Outcome, err error) {
	info := &CycleInfo{
		Started:  start,
		Duration: time.Since(start).Round(time.Millisecond).String(),
		Outcome:  outcome,
	}
	if err != nil {
		info.Error = err.Error()
	}
	s.mu.Lock()
	s.cycles++
	s.lastCycle = info
	s.mu.Unlock()
	metrics.Cycles.WithLabelValues(string(outcome)).Inc()
}

func (s *Scheduler) notify(kind notify.Kind, msg string, fields map[string]any) {
	s.notifier.Notify(notify.Event{Kind: kind, Message: msg, Fields: fields})
}

// RunCycle performs one write-back cycle. Errors and panics end the cycle
// and are reported through the returned error; the scheduler stays usable.
func (s *Scheduler) RunCycle(ctx context.Context) (outcome Outcome, err error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()
	log := s.logger.With(zap.Time("cycle", start))

	defer func() {
		if r := recover(); r != nil {
			log.Error("write-back cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			outcome = OutcomePanic
			err = fmt.Errorf("write-back cycle panicked: %v", r)
		}
		if err != nil && ctx.Err() != nil {
			outcome = OutcomeCancelled
		}
		s.setState(StateIdle)
		s.finish(start, outcome, err)
	}()

	s.setState(StateMeasuring)
	size, err := s.capacity.Usage(ctx, s.folder)
	if err != nil {
		return OutcomeProbeFailed, fmt.Errorf("measuring local tier: %w", err)
	}
	s.setUsage(size)
	if size < s.ceiling {
		log.Info("local tier under ceiling",
			zap.Int("size_gb", size),
			zap.Int("headroom_gb", s.ceiling-size),
		)
		return OutcomeUnderCeiling, nil
	}
	log.Info("local tier over ceiling",
		zap.Int("size_gb", size),
		zap.Int("over_gb", size-s.ceiling),
	)

	s.setState(StateCheckingBusy)
	busy, err := s.busy.OpenFiles(ctx, s.folder)
	if err != nil {
		return OutcomeProbeFailed, fmt.Errorf("checking open files: %w", err)
	}
	if len(busy) > 0 {
		for _, path := range busy {
			log.Info("file is being accessed", zap.String("path", path))
		}
		log.Info("skipping write-back until next check", zap.Int("open_files", len(busy)))
		s.notify(notify.KindWriteBackSkipped,
			fmt.Sprintf("Upload process of %d gigabytes temporarily skipped.\n%d file(s) are currently being accessed.", size, len(busy)),
			map[string]any{"size_gb": size, "open_files": len(busy)},
		)
		return OutcomeBusy, nil
	}

	s.setState(StatePreCleaning)
	if s.cleaner != nil {
		res, err := s.cleaner.Scan(ctx)
		if err != nil {
			return OutcomePreCleanFailed, fmt.Errorf("pre-clean scan: %w", err)
		}
		if res.Failed > 0 {
			log.Warn("some markers could not be reconciled before the move", zap.Int("failed", res.Failed))
		}
	}

	s.notify(notify.KindWriteBackStarted,
		fmt.Sprintf("Upload process started. %d gigabytes to upload.", size),
		map[string]any{"size_gb": size},
	)

	s.setState(StateMoving)
	moveStart := time.Now()
	rateLimited := false
	err = s.mover.Move(ctx, func(line string) bool {
		if s.backoff.Observe(line) {
			rateLimited = true
			return false
		}
		return true
	})
	elapsed := time.Since(moveStart).Round(time.Second)
	if rateLimited || errors.Is(err, remote.ErrRateLimited) {
		s.enterCooldown(log)
		return OutcomeRateLimited, nil
	}
	if err != nil {
		return OutcomeTransferFailed, fmt.Errorf("moving local tier: %w", err)
	}
	log.Info("move finished", zap.Duration("elapsed", elapsed))

	s.setState(StatePruning)
	s.prune(ctx, log)

	s.setState(StateMeasuringPost)
	left, err := s.capacity.Usage(ctx, s.folder)
	if err != nil {
		log.Warn("could not measure local tier after move", zap.Error(err))
		s.notify(notify.KindWriteBackFinished,
			fmt.Sprintf("Upload process finished in %s.", elapsed),
			map[string]any{"elapsed_seconds": elapsed.Seconds()},
		)
	} else {
		s.setUsage(left)
		log.Info("local tier after move", zap.Int("size_gb", left))
		s.notify(notify.KindWriteBackFinished,
			fmt.Sprintf("Upload process finished in %s. %d gigabytes left over.", elapsed, left),
			map[string]any{"elapsed_seconds": elapsed.Seconds(), "size_gb": left},
		)
	}

	s.backoff.Reset()
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	return OutcomeMoved, nil
}

// prune removes emptied directories once in-flight handles have settled.
// Anything held open, or a failing probe, skips pruning for this cycle.
func (s *Scheduler) prune(ctx context.Context, log *zap.Logger) {
	if s.pruner == nil {
		return
	}
	if s.settle > 0 {
		t := time.NewTimer(s.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	busy, err := s.busy.OpenFiles(ctx, s.folder)
	if err != nil {
		log.Warn("open file check before prune failed, skipping prune", zap.Error(err))
		return
	}
	if len(busy) > 0 {
		log.Info("files are being accessed, skipping prune", zap.Int("open_files", len(busy)))
		return
	}

	n, err := s.pruner.Prune(ctx)
	if err != nil {
		log.Warn("prune finished with errors", zap.Int("removed", n), zap.Error(err))
		return
	}
	log.Info("pruned empty directories", zap.Int("removed", n))
}

func (s *Scheduler) enterCooldown(log *zap.Logger) {
	cooldown := s.backoff.Cooldown()
	s.mu.Lock()
	s.interval = cooldown
	s.coolingDown = true
	s.mu.Unlock()
	metrics.CheckInterval.Set(cooldown.Seconds())

	log.Warn("transfer aborted after repeated rate limiting",
		zap.Duration("next_check", cooldown),
	)
	s.notify(notify.KindRateLimited,
		fmt.Sprintf("Upload process aborted after repeated rate limiting. Checking again every %s.", cooldown),
		map[string]any{"interval_minutes": int(cooldown.Minutes())},
	)
}
