// Package remote talks to the cold tier: deleting single objects behind
// reconciled tombstones and bulk-moving the local tier up.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gftdcojp/unionfs-cleaner/internal/runner"
	"github.com/gftdcojp/unionfs-cleaner/internal/tombstone"
	"go.uber.org/zap"
)

var (
	// ErrTransfer marks a delete or move the tool reported as failed.
	ErrTransfer = errors.New("transfer failed")
	// ErrRateLimited marks a move killed from its output hook after the
	// remote kept refusing requests.
	ErrRateLimited = errors.New("transfer aborted: rate limited")
)

// deleteFailedMarker is what rclone prints when a delete did not happen.
const deleteFailedMarker = "Failed to delete"

// RcloneDeleter removes remote objects with rclone delete.
type RcloneDeleter struct {
	exec   runner.Executor
	binary string
	dryRun bool
	logger *zap.Logger
}

var _ tombstone.Deleter = (*RcloneDeleter)(nil)

func NewRcloneDeleter(exec runner.Executor, binary string, dryRun bool, logger *zap.Logger) *RcloneDeleter {
	if binary == "" {
		binary = "rclone"
	}
	return &RcloneDeleter{exec: exec, binary: binary, dryRun: dryRun, logger: logger}
}

func (d *RcloneDeleter) Command(remotePath string) runner.Command {
	args := []string{"delete", remotePath}
	if d.dryRun {
		args = append(args, "--dry-run")
	}
	return runner.Command{Name: d.binary, Args: args}
}

func (d *RcloneDeleter) Delete(ctx context.Context, m tombstone.Marker) error {
	res, err := d.exec.Run(ctx, d.Command(m.RemotePath), runner.WithCapture())
	if err != nil {
		return fmt.Errorf("%w: rclone delete %s: %v", ErrTransfer, m.RemotePath, err)
	}
	if strings.Contains(res.Output(), deleteFailedMarker) {
		return fmt.Errorf("%w: rclone could not delete %s", ErrTransfer, m.RemotePath)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: rclone delete %s exited %d", ErrTransfer, m.RemotePath, res.ExitCode)
	}
	return nil
}

// requiredExcludes are never uploaded: partial transfers, tombstones and
// the overlay's bookkeeping directories.
var requiredExcludes = []string{
	"**partial~",
	"**" + tombstone.Suffix,
	".unionfs/**",
	".unionfs-fuse/**",
}

// MoverConfig describes one rclone move invocation.
type MoverConfig struct {
	Binary      string
	Source      string
	Destination string
	Transfers   int
	Checkers    int
	BWLimit     string
	Excludes    []string
	DryRun      bool
}

// Mover bulk-moves the local tier to the cold tier with rclone move.
type Mover struct {
	exec   runner.Executor
	cfg    MoverConfig
	logger *zap.Logger
}

func NewMover(exec runner.Executor, cfg MoverConfig, logger *zap.Logger) *Mover {
	if cfg.Binary == "" {
		cfg.Binary = "rclone"
	}
	return &Mover{exec: exec, cfg: cfg, logger: logger}
}

// Command returns the rclone move invocation. Source files are deleted
// once transferred and the remote is not listed up front.
func (m *Mover) Command() runner.Command {
	args := []string{
		"move", m.cfg.Source, m.cfg.Destination,
		"--delete-after",
		"--no-traverse",
		"--stats=60s",
		"-v",
		fmt.Sprintf("--transfers=%d", m.cfg.Transfers),
		fmt.Sprintf("--checkers=%d", m.cfg.Checkers),
	}
	if m.cfg.BWLimit != "" {
		args = append(args, "--bwlimit="+m.cfg.BWLimit)
	}
	for _, ex := range mergeExcludes(m.cfg.Excludes) {
		args = append(args, "--exclude="+ex)
	}
	if m.cfg.DryRun {
		args = append(args, "--dry-run")
	}
	return runner.Command{Name: m.cfg.Binary, Args: args}
}

func mergeExcludes(configured []string) []string {
	seen := make(map[string]bool, len(configured)+len(requiredExcludes))
	out := make([]string, 0, len(configured)+len(requiredExcludes))
	for _, ex := range append(append([]string{}, configured...), requiredExcludes...) {
		if ex == "" || seen[ex] {
			continue
		}
		seen[ex] = true
		out = append(out, ex)
	}
	return out
}

// Move runs the transfer. onLine sees every output line and may stop the
// transfer by returning false, in which case ErrRateLimited is returned.
func (m *Mover) Move(ctx context.Context, onLine runner.LineFunc) error {
	cmd := m.Command()
	m.logger.Info("moving local tier to remote",
		zap.String("source", m.cfg.Source),
		zap.String("destination", m.cfg.Destination),
		zap.String("cmd", cmd.String()),
	)

	var opts []runner.Option
	if onLine != nil {
		opts = append(opts, runner.OnLine(onLine))
	}
	res, err := m.exec.Run(ctx, cmd, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	if res.Aborted {
		return ErrRateLimited
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: rclone move exited %d", ErrTransfer, res.ExitCode)
	}
	return nil
}
