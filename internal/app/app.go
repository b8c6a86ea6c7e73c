// Package app builds the daemon's components from a loaded config and
// runs them, either as the long-lived daemon or as one-shot commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"syscall"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/config"
	"github.com/gftdcojp/unionfs-cleaner/internal/confwatch"
	"github.com/gftdcojp/unionfs-cleaner/internal/ledger"
	"github.com/gftdcojp/unionfs-cleaner/internal/metrics"
	"github.com/gftdcojp/unionfs-cleaner/internal/notify"
	"github.com/gftdcojp/unionfs-cleaner/internal/probe"
	"github.com/gftdcojp/unionfs-cleaner/internal/prune"
	"github.com/gftdcojp/unionfs-cleaner/internal/remote"
	"github.com/gftdcojp/unionfs-cleaner/internal/runner"
	"github.com/gftdcojp/unionfs-cleaner/internal/serve"
	"github.com/gftdcojp/unionfs-cleaner/internal/supervisor"
	"github.com/gftdcojp/unionfs-cleaner/internal/tombstone"
	"github.com/gftdcojp/unionfs-cleaner/internal/writeback"
	"github.com/gftdcojp/unionfs-cleaner/pkg/natsutil"
	"github.com/gftdcojp/unionfs-cleaner/pkg/s3util"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrInvalidLocalTier is returned when the overlay's local branch is not
// a readable directory. Nothing can run without it.
var ErrInvalidLocalTier = errors.New("invalid local tier root")

// Options tune how an App is built.
type Options struct {
	ConfigPath string
	Version    string
	// ForceDryRun builds every component in dry-run mode and skips the
	// ledger, whatever the config says.
	ForceDryRun bool
	// SkipLedger builds without the failure ledger. Commands that never
	// journal use it so they can run beside the daemon.
	SkipLedger bool
	// OptionalLedger carries on without journaling when another process
	// holds the ledger.
	OptionalLedger bool
	// LedgerTimeout bounds the wait for the ledger's file lock.
	LedgerTimeout time.Duration
	// Executor replaces the exec-backed runner.
	Executor runner.Executor
	// ConfigSettle overrides the delay between a config change and the
	// restart request.
	ConfigSettle time.Duration
	Logger       *zap.Logger
}

// App holds the wired components.
type App struct {
	cfg    *config.Config
	opts   Options
	dryRun bool
	logger *zap.Logger

	exec       runner.Executor
	capacity   *probe.Capacity
	busy       *probe.Busy
	ledger     *ledger.BoltStore
	s3         *s3util.Client
	nc         *nats.Conn
	deleter    tombstone.Deleter
	reconciler *tombstone.Reconciler
	mover      *remote.Mover
	pruner     *prune.Pruner
	notifier   *notify.Async
	scheduler  *writeback.Scheduler
}

// New wires every component. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(cfg.Paths.UnionFSFolder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocalTier, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidLocalTier, cfg.Paths.UnionFSFolder)
	}

	a := &App{
		cfg:    cfg,
		opts:   opts,
		dryRun: cfg.DryRun || opts.ForceDryRun,
		logger: logger,
		exec:   opts.Executor,
	}
	if a.exec == nil {
		a.exec = runner.New(logger.Named("runner"))
	}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	a.capacity = probe.NewCapacity(a.exec, cfg.Probe.DUBinary, cfg.Probe.DUExcludes, logger.Named("probe"))
	a.busy = probe.NewBusy(a.exec, cfg.Probe.LsofBinary, cfg.Probe.LsofExcludes, logger.Named("probe"))

	if err := a.openLedger(); err != nil {
		return err
	}

	switch cfg.Remote.Backend {
	case "s3":
		client, err := s3util.NewClient(ctx, cfg.Remote.S3)
		if err != nil {
			return fmt.Errorf("creating S3 client: %w", err)
		}
		a.s3 = client
		a.deleter = remote.NewS3Deleter(client.S3, client.Bucket, client.Prefix, a.dryRun, logger.Named("s3"))
	default:
		a.deleter = remote.NewRcloneDeleter(a.exec, cfg.Rclone.Binary, a.dryRun, logger.Named("rclone"))
	}

	rcfg := tombstone.Config{
		Roots: tombstone.Roots{
			Local:  cfg.Paths.UnionFSFolder,
			Cloud:  cfg.Paths.CloudFolder,
			Remote: cfg.Paths.RemoteFolder,
		},
		Deleter: a.deleter,
		DryRun:  a.dryRun,
		Logger:  logger.Named("reconciler"),
	}
	if a.ledger != nil {
		rcfg.Journal = a.ledger
	}
	a.reconciler = tombstone.New(rcfg)

	a.mover = remote.NewMover(a.exec, remote.MoverConfig{
		Binary:      cfg.Rclone.Binary,
		Source:      cfg.Paths.LocalFolder,
		Destination: cfg.Paths.LocalRemote,
		Transfers:   cfg.Rclone.Transfers,
		Checkers:    cfg.Rclone.Checkers,
		BWLimit:     cfg.Rclone.BWLimit,
		Excludes:    cfg.Rclone.Excludes,
		DryRun:      a.dryRun,
	}, logger.Named("mover"))

	roots := make([]prune.Root, len(cfg.WriteBack.Prune))
	for i, r := range cfg.WriteBack.Prune {
		roots[i] = prune.Root{Path: r.Path, MinDepth: r.MinDepth}
	}
	a.pruner = prune.New(roots, a.dryRun, logger.Named("prune"))

	sinks, err := a.buildSinks()
	if err != nil {
		return err
	}
	a.notifier = notify.NewAsync(cfg.Notify.Timeout.Duration(), logger.Named("notify"), sinks...)

	var pattern *regexp.Regexp
	if cfg.Rclone.RateLimitPattern != "" {
		pattern, err = regexp.Compile(cfg.Rclone.RateLimitPattern)
		if err != nil {
			return fmt.Errorf("compiling rate limit pattern: %w", err)
		}
	}
	a.scheduler = writeback.New(writeback.Config{
		LocalFolder: cfg.Paths.LocalFolder,
		CeilingGB:   cfg.WriteBack.LocalFolderSizeGB,
		Interval:    cfg.CheckInterval(),
		SettleDelay: cfg.WriteBack.PruneSettleDelay.Duration(),
		Capacity:    a.capacity,
		Busy:        a.busy,
		Cleaner:     a.reconciler,
		Mover:       a.mover,
		Pruner:      a.pruner,
		Notifier:    a.notifier,
		Backoff:     writeback.NewBackoff(pattern, writeback.DefaultRateLimitThreshold, cfg.CooldownInterval()),
		Logger:      logger.Named("writeback"),
	})
	return nil
}

func (a *App) openLedger() error {
	if a.opts.ForceDryRun || a.opts.SkipLedger {
		return nil
	}
	store, err := ledger.NewBoltStore(a.cfg.Ledger.Path, a.logger.Named("ledger"),
		ledger.WithOpenTimeout(a.opts.LedgerTimeout))
	if errors.Is(err, ledger.ErrLocked) && a.opts.OptionalLedger {
		a.logger.Warn("ledger held by another process, delete failures will not be journaled",
			zap.String("path", a.cfg.Ledger.Path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	a.ledger = store
	return nil
}

func (a *App) buildSinks() ([]notify.Sink, error) {
	cfg := a.cfg.Notify
	var sinks []notify.Sink

	if cfg.Pushover.AppToken != "" && cfg.Pushover.UserToken != "" {
		client := &http.Client{Timeout: cfg.Timeout.Duration()}
		sinks = append(sinks, notify.NewPushover(client, cfg.Pushover.Endpoint, cfg.Pushover.AppToken, cfg.Pushover.UserToken))
	}

	if cfg.NATS.Enabled || a.cfg.API.NATSResponder.Enabled {
		nc, err := natsutil.Connect(cfg.NATS.NATSConfig, a.logger.Named("nats"))
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		a.nc = nc
	}
	if cfg.NATS.Enabled {
		sinks = append(sinks, notify.NewNATS(a.nc, cfg.NATS.SubjectPrefix))
	}
	return sinks, nil
}

// Close releases everything New opened, waiting for pending notifications.
func (a *App) Close() {
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.nc != nil {
		a.nc.Drain()
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("closing ledger", zap.Error(err))
		}
	}
}

func (a *App) ledgerStore() ledger.Store {
	if a.ledger == nil {
		return nil
	}
	return a.ledger
}

func (a *App) serveOptions() serve.Options {
	opts := serve.Options{
		Version: a.opts.Version,
		DryRun:  a.dryRun,
		Ledger:  a.ledgerStore(),
		Scanner: a.reconciler,
		Logger:  a.logger.Named("api"),
	}
	if a.cfg.WriteBack.Enabled {
		opts.Scheduler = a.scheduler
	}
	return opts
}

// Supervisor registers every enabled worker.
func (a *App) Supervisor() *supervisor.Supervisor {
	cfg := a.cfg
	sup := supervisor.New(a.logger.Named("supervisor"))

	if cfg.Reconciler.WatchEnabled {
		sup.Add("reconciler", a.reconciler.Run)
	}
	if cfg.WriteBack.Enabled {
		sup.Add("writeback", a.scheduler.Run)
	}
	if cfg.ConfigWatch.Enabled && a.opts.ConfigPath != "" {
		settle := a.opts.ConfigSettle
		if settle == 0 {
			settle = confwatch.DefaultSettle
		}
		w := confwatch.New(confwatch.Config{
			Path:         a.opts.ConfigPath,
			Mode:         cfg.ConfigWatch.Mode,
			PollInterval: cfg.ConfigWatch.PollInterval.Duration(),
			Settle:       settle,
			Logger:       a.logger.Named("confwatch"),
		})
		sup.Add("config-watch", w.Run)
	}
	sup.Add("restart-signal", supervisor.RestartOnSignal(a.logger.Named("supervisor"), syscall.SIGHUP))

	if cfg.API.Enabled {
		sup.Add("api", func(ctx context.Context) error {
			return serve.RunHTTP(ctx, cfg.API, a.serveOptions())
		})
	}
	if cfg.API.NATSResponder.Enabled && a.nc != nil {
		sup.Add("nats-responder", func(ctx context.Context) error {
			return serve.RunNATSResponder(ctx, a.nc, cfg.API.NATSResponder, a.serveOptions())
		})
	}
	if cfg.Observability.Metrics.Enabled {
		sup.Add("metrics", func(ctx context.Context) error {
			return metrics.RunServer(ctx, cfg.Observability.Metrics)
		})
	}
	if cfg.Observability.Health.Enabled {
		checker := metrics.NewHealthChecker(a.nc, a.ledgerStore(), a.s3).
			WithDirectory("local_tier", cfg.Paths.UnionFSFolder).
			WithDirectory("cloud_view", cfg.Paths.CloudFolder)
		sup.Add("health", func(ctx context.Context) error {
			return metrics.RunHealthServer(ctx, cfg.Observability.Health, checker)
		})
	}
	return sup
}

// RunDaemon runs every enabled worker until ctx is done or a restart is
// requested, in which case supervisor.ErrRestart is returned.
func (a *App) RunDaemon(ctx context.Context) error {
	sup := a.Supervisor()
	a.logger.Info("unionfs-cleaner started",
		zap.String("version", a.opts.Version),
		zap.String("unionfs_folder", a.cfg.Paths.UnionFSFolder),
		zap.String("local_folder", a.cfg.Paths.LocalFolder),
		zap.Bool("dry_run", a.dryRun),
		zap.Strings("workers", sup.Workers()),
		zap.Strings("notify_sinks", a.notifier.Sinks()),
	)
	return sup.Run(ctx)
}

// RunPrune prunes every configured root once.
func (a *App) RunPrune(ctx context.Context) error {
	n, err := a.pruner.Prune(ctx)
	a.logger.Info("prune complete", zap.Int("removed", n), zap.Bool("dry_run", a.dryRun))
	return err
}

// RunScan reconciles every marker in the local tier once.
func (a *App) RunScan(ctx context.Context) (tombstone.ScanResult, error) {
	return a.reconciler.Scan(ctx)
}
