// Package prune removes directories left empty once their files have
// been moved to the cold tier.
package prune

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gftdcojp/unionfs-cleaner/internal/metrics"
	"go.uber.org/zap"
)

// Root is a directory to prune. Only directories at least MinDepth levels
// below Path are removed; Path itself sits at depth 0.
type Root struct {
	Path     string
	MinDepth int
}

type Pruner struct {
	roots  []Root
	dryRun bool
	logger *zap.Logger
}

// New creates a Pruner. A MinDepth below 1 is raised to 1 so a root is
// never removed.
func New(roots []Root, dryRun bool, logger *zap.Logger) *Pruner {
	clamped := make([]Root, len(roots))
	for i, r := range roots {
		if r.MinDepth < 1 {
			r.MinDepth = 1
		}
		clamped[i] = r
	}
	return &Pruner{roots: clamped, dryRun: dryRun, logger: logger}
}

// Roots returns the configured roots.
func (p *Pruner) Roots() []Root {
	return p.roots
}

// Prune processes every root and returns how many directories were (or in
// dry-run mode would have been) removed.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, root := range p.roots {
		n, err := p.PruneRoot(ctx, root)
		total += n
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			p.logger.Error("prune failed", zap.String("root", root.Path), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// PruneRoot removes empty directories below one root, deepest first.
func (p *Pruner) PruneRoot(ctx context.Context, root Root) (int, error) {
	info, err := os.Stat(root.Path)
	if err != nil {
		return 0, fmt.Errorf("prune root %s: %w", root.Path, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("prune root %s: not a directory", root.Path)
	}
	if root.MinDepth < 1 {
		root.MinDepth = 1
	}

	var removed int
	if _, err := p.prune(ctx, root, root.Path, 0, &removed); err != nil {
		return removed, err
	}
	p.logger.Info("prune finished",
		zap.String("root", root.Path),
		zap.Int("removed", removed),
		zap.Bool("dry_run", p.dryRun),
	)
	return removed, nil
}

// prune reports whether dir was removed.
func (p *Pruner) prune(ctx context.Context, root Root, dir string, depth int, removed *int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if depth == 0 {
			return false, err
		}
		p.logger.Warn("skipping unreadable directory", zap.String("dir", dir), zap.Error(err))
		return false, nil
	}

	empty := true
	for _, e := range entries {
		// Symlinks count as content, even when they point at a directory.
		if !e.IsDir() {
			empty = false
			continue
		}
		gone, err := p.prune(ctx, root, filepath.Join(dir, e.Name()), depth+1, removed)
		if err != nil {
			return false, err
		}
		if !gone {
			empty = false
		}
	}

	if !empty || depth < root.MinDepth {
		return false, nil
	}

	if p.dryRun {
		p.logger.Info("dry run: would remove empty directory", zap.String("dir", dir))
		*removed++
		return true, nil
	}
	if err := os.Remove(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		// Something was written into it since it was listed.
		p.logger.Warn("could not remove directory", zap.String("dir", dir), zap.Error(err))
		return false, nil
	}
	p.logger.Debug("removed empty directory", zap.String("dir", dir))
	metrics.PrunedDirectories.Inc()
	*removed++
	return true, nil
}
