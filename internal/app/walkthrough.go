package app

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// RunTest walks through one write-back cycle and a reconciliation scan
// without changing anything, printing what would happen to w. Problems
// are reported in the output rather than returned.
func (a *App) RunTest(ctx context.Context, w io.Writer) error {
	cfg := a.cfg
	p := func(format string, args ...interface{}) {
		fmt.Fprintf(w, format+"\n", args...)
	}

	p("Configuration")
	p("  unionfs folder:  %s", cfg.Paths.UnionFSFolder)
	p("  cloud folder:    %s", cfg.Paths.CloudFolder)
	p("  remote folder:   %s", cfg.Paths.RemoteFolder)
	p("  local folder:    %s -> %s", cfg.Paths.LocalFolder, cfg.Paths.LocalRemote)
	p("  remote backend:  %s", cfg.Remote.Backend)
	p("  configured dry run: %t", cfg.DryRun)
	p("")

	p("Capacity")
	p("  command: %s", a.capacity.Command(cfg.Paths.LocalFolder))
	size, err := a.capacity.Usage(ctx, cfg.Paths.LocalFolder)
	if err != nil {
		p("  error: %v", err)
	} else {
		verdict := "under ceiling, no write-back"
		if size >= cfg.WriteBack.LocalFolderSizeGB {
			verdict = "at or over ceiling, write-back would start"
		}
		p("  %d of %d gigabytes: %s", size, cfg.WriteBack.LocalFolderSizeGB, verdict)
	}
	p("")

	p("Open files")
	p("  command: %s", a.busy.Command(cfg.Paths.LocalFolder))
	busy, err := a.busy.OpenFiles(ctx, cfg.Paths.LocalFolder)
	switch {
	case err != nil:
		p("  error: %v", err)
	case len(busy) == 0:
		p("  none")
	default:
		for _, path := range busy {
			p("  %s", path)
		}
		p("  %d file(s) open, write-back would be skipped", len(busy))
	}
	p("")

	p("Tombstones (dry run)")
	res, err := a.reconciler.Scan(ctx)
	if err != nil {
		p("  error: %v", err)
	} else {
		p("  found %d, remote deletes %d, orphans %d, failed %d", res.Found, res.Deleted, res.Orphaned, res.Failed)
	}
	p("")

	p("Move")
	p("  command: %s", a.mover.Command())
	p("")

	p("Prune (dry run)")
	if len(a.pruner.Roots()) == 0 {
		p("  no prune roots configured")
	} else {
		for _, root := range a.pruner.Roots() {
			n, err := a.pruner.PruneRoot(ctx, root)
			if err != nil {
				p("  %s: error: %v", root.Path, err)
				continue
			}
			p("  %s (min depth %d): %d empty director(ies)", root.Path, root.MinDepth, n)
		}
	}
	p("")

	p("Notifications")
	if sinks := a.notifier.Sinks(); len(sinks) > 0 {
		p("  sinks: %s", strings.Join(sinks, ", "))
	} else {
		p("  no sinks configured")
	}
	return nil
}
