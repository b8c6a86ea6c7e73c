// Package tombstone reconciles overlay tombstone markers with the cold
// tier: a marker whose file still shows in the cloud view gets its remote
// object deleted before the marker goes; a marker with nothing behind it
// is simply removed.
package tombstone

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gftdcojp/unionfs-cleaner/internal/ledger"
	"github.com/gftdcojp/unionfs-cleaner/internal/metrics"
	"github.com/gftdcojp/unionfs-cleaner/internal/watch"
	"go.uber.org/zap"
)

// Deleter removes the remote object a marker stands for.
type Deleter interface {
	Delete(ctx context.Context, m Marker) error
}

// Journal records remote deletes that failed. ledger.Store satisfies it.
type Journal interface {
	RecordFailure(ctx context.Context, marker, remotePath string, cause error) (*ledger.Entry, error)
	Clear(ctx context.Context, marker string) error
}

// Outcome is what reconciling one marker did.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeGone
	OutcomeDeleted
	OutcomeOrphaned
	OutcomeDeleteFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeGone:
		return "gone"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeOrphaned:
		return "orphaned"
	case OutcomeDeleteFailed:
		return "delete_failed"
	default:
		return "unknown"
	}
}

const (
	modeScan  = "scan"
	modeWatch = "watch"
)

// Config holds dependencies for the reconciler. Journal may be nil.
type Config struct {
	Roots   Roots
	Deleter Deleter
	Journal Journal
	DryRun  bool
	Logger  *zap.Logger
}

// Reconciler processes tombstone markers.
type Reconciler struct {
	roots   Roots
	deleter Deleter
	journal Journal
	dryRun  bool
	logger  *zap.Logger
}

func New(cfg Config) *Reconciler {
	return &Reconciler{
		roots:   cfg.Roots,
		deleter: cfg.Deleter,
		journal: cfg.Journal,
		dryRun:  cfg.DryRun,
		logger:  cfg.Logger,
	}
}

// Reconcile processes the marker at path once.
func (r *Reconciler) Reconcile(ctx context.Context, path string) (Outcome, error) {
	return r.reconcile(ctx, path, modeScan)
}

func (r *Reconciler) reconcile(ctx context.Context, path, mode string) (Outcome, error) {
	outcome, err := r.process(ctx, path)
	if outcome != OutcomeIgnored {
		metrics.Tombstones.WithLabelValues(mode, outcome.String()).Inc()
	}
	return outcome, err
}

func (r *Reconciler) process(ctx context.Context, path string) (Outcome, error) {
	m, ok := r.roots.Resolve(path)
	if !ok {
		return OutcomeIgnored, nil
	}
	log := r.logger.With(zap.String("marker", m.Path))

	if _, err := os.Lstat(m.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug("marker already handled")
			return OutcomeGone, nil
		}
		return OutcomeIgnored, fmt.Errorf("stat marker %s: %w", m.Path, err)
	}

	_, err := os.Stat(m.CloudPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		log.Info("file never reached the remote, removing marker", zap.String("cloud_path", m.CloudPath))
		if err := r.removeMarker(m); err != nil {
			return OutcomeOrphaned, err
		}
		r.clearJournal(ctx, m)
		return OutcomeOrphaned, nil
	default:
		// An unreachable cloud mount must not be mistaken for a missing file.
		return OutcomeIgnored, fmt.Errorf("stat cloud path %s: %w", m.CloudPath, err)
	}

	log.Info("deleting remote object", zap.String("remote_path", m.RemotePath), zap.Bool("dry_run", r.dryRun))
	if err := r.deleter.Delete(ctx, m); err != nil {
		log.Error("remote delete failed", zap.String("remote_path", m.RemotePath), zap.Error(err))
		if r.journal != nil {
			entry, jerr := r.journal.RecordFailure(ctx, m.Path, m.RemotePath, err)
			if jerr != nil {
				log.Warn("failed to journal delete failure", zap.Error(jerr))
			} else {
				log.Debug("delete failure journaled", zap.Int("attempts", entry.Attempts))
			}
		}
		return OutcomeDeleteFailed, err
	}

	if err := r.removeMarker(m); err != nil {
		return OutcomeDeleted, err
	}
	r.clearJournal(ctx, m)
	log.Info("remote object deleted", zap.String("remote_path", m.RemotePath))
	return OutcomeDeleted, nil
}

func (r *Reconciler) removeMarker(m Marker) error {
	if r.dryRun {
		r.logger.Info("dry run: keeping marker", zap.String("marker", m.Path))
		return nil
	}
	if err := os.Remove(m.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing marker %s: %w", m.Path, err)
	}
	return nil
}

func (r *Reconciler) clearJournal(ctx context.Context, m Marker) {
	if r.journal == nil || r.dryRun {
		return
	}
	if err := r.journal.Clear(ctx, m.Path); err != nil {
		r.logger.Warn("failed to clear journal entry", zap.String("marker", m.Path), zap.Error(err))
	}
}

// ScanResult counts what a full scan found and did.
type ScanResult struct {
	Found    int `json:"found"`
	Deleted  int `json:"deleted"`
	Orphaned int `json:"orphaned"`
	Failed   int `json:"failed"`
}

// Scan walks the whole local tier and reconciles every marker in it.
// Markers left behind by an earlier failed delete are retried.
func (r *Reconciler) Scan(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	root := r.roots.Local
	r.logger.Debug("scanning for markers", zap.String("root", root))

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			r.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !IsMarker(path) {
			return nil
		}

		res.Found++
		outcome, err := r.reconcile(ctx, path, modeScan)
		switch outcome {
		case OutcomeDeleted:
			res.Deleted++
		case OutcomeOrphaned:
			res.Orphaned++
		case OutcomeDeleteFailed:
			res.Failed++
		}
		if err != nil && outcome != OutcomeDeleteFailed {
			res.Failed++
			r.logger.Error("reconcile failed", zap.String("marker", path), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("scanning %s: %w", root, err)
	}

	r.logger.Info("marker scan finished",
		zap.Int("found", res.Found),
		zap.Int("deleted", res.Deleted),
		zap.Int("orphaned", res.Orphaned),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// Watch reconciles markers as create events arrive. Each event is handled
// once; a failed delete is left for the next scan. It returns when ctx is
// done or the event stream ends.
func (r *Reconciler) Watch(ctx context.Context, events <-chan watch.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("event stream for %s closed", r.roots.Local)
			}
			if ev.Op != watch.Create || !IsMarker(ev.Path) {
				continue
			}
			if _, err := r.reconcile(ctx, ev.Path, modeWatch); err != nil {
				r.logger.Error("reconcile failed", zap.String("marker", ev.Path), zap.Error(err))
			}
		}
	}
}

// Run subscribes to the local tier, catches up on markers created while
// nothing was watching, then reconciles new markers as they appear.
func (r *Reconciler) Run(ctx context.Context) error {
	events, err := watch.Subscribe(ctx, r.roots.Local, r.logger)
	if err != nil {
		return fmt.Errorf("watching %s: %w", r.roots.Local, err)
	}
	r.logger.Info("watching for markers", zap.String("root", r.roots.Local))

	if _, err := r.Scan(ctx); err != nil {
		r.logger.Error("catch-up scan failed", zap.Error(err))
	}
	return r.Watch(ctx, events)
}
