// Package probe measures the local tier: its size in whole gigabytes and
// the set of files currently held open beneath it.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gftdcojp/unionfs-cleaner/internal/metrics"
	"github.com/gftdcojp/unionfs-cleaner/internal/runner"
	"go.uber.org/zap"
)

// ErrProbe marks a measurement that could not be taken. Callers treat it
// as "skip this cycle", never as an empty or zero result.
var ErrProbe = errors.New("probe failed")

// Capacity reports disk usage through du.
type Capacity struct {
	exec     runner.Executor
	binary   string
	excludes []string
	logger   *zap.Logger
}

// NewCapacity creates a capacity probe. excludes are passed to du as
// --exclude patterns.
func NewCapacity(exec runner.Executor, binary string, excludes []string, logger *zap.Logger) *Capacity {
	if binary == "" {
		binary = "du"
	}
	return &Capacity{exec: exec, binary: binary, excludes: excludes, logger: logger}
}

// Command returns the du invocation used for path.
func (c *Capacity) Command(path string) runner.Command {
	args := []string{"-s", "--block-size=1G"}
	for _, ex := range c.excludes {
		args = append(args, "--exclude="+ex)
	}
	args = append(args, path)
	return runner.Command{Name: c.binary, Args: args}
}

// Usage returns the size of path in whole gigabytes.
func (c *Capacity) Usage(ctx context.Context, path string) (int, error) {
	res, err := c.exec.Run(ctx, c.Command(path), runner.WithCapture(), runner.WithQuiet())
	if err != nil {
		metrics.ProbeErrors.WithLabelValues("capacity").Inc()
		return 0, fmt.Errorf("%w: du %s: %v", ErrProbe, path, err)
	}
	size, err := parseDU(res.Lines)
	switch {
	case res.ExitCode == 0 && err == nil:
	case res.ExitCode == 1 && err == nil:
		// du exits 1 when some entries were unreadable but still prints
		// the total of everything it could read.
		c.logger.Warn("du reported unreadable entries, using partial total",
			zap.String("path", path),
			zap.Int("gigabytes", size),
			zap.String("output", res.Output()),
		)
	case res.ExitCode != 0:
		metrics.ProbeErrors.WithLabelValues("capacity").Inc()
		return 0, fmt.Errorf("%w: du %s exited %d: %s", ErrProbe, path, res.ExitCode, res.Output())
	default:
		metrics.ProbeErrors.WithLabelValues("capacity").Inc()
		return 0, fmt.Errorf("%w: %v", ErrProbe, err)
	}

	metrics.LocalTierUsage.Set(float64(size))
	c.logger.Debug("measured local tier", zap.String("path", path), zap.Int("gigabytes", size))
	return size, nil
}

// parseDU reads the first field of the summary line du -s prints.
func parseDU(lines []string) (int, error) {
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("no size in du output %q", strings.Join(lines, "\n"))
}

// Busy reports open files through lsof.
type Busy struct {
	exec     runner.Executor
	binary   string
	excludes []string
	logger   *zap.Logger
}

// NewBusy creates a busy-resource probe. A path is excluded when it
// contains any of excludes, case-insensitively.
func NewBusy(exec runner.Executor, binary string, excludes []string, logger *zap.Logger) *Busy {
	if binary == "" {
		binary = "lsof"
	}
	return &Busy{exec: exec, binary: binary, excludes: excludes, logger: logger}
}

// Command returns the lsof invocation used for dir.
func (b *Busy) Command(dir string) runner.Command {
	return runner.Command{Name: b.binary, Args: []string{"-Fn", "+D", dir}}
}

// OpenFiles returns every file under dir held open by some process.
func (b *Busy) OpenFiles(ctx context.Context, dir string) ([]string, error) {
	res, err := b.exec.Run(ctx, b.Command(dir), runner.WithCapture(), runner.WithQuiet())
	if err != nil {
		metrics.ProbeErrors.WithLabelValues("busy").Inc()
		return nil, fmt.Errorf("%w: lsof %s: %v", ErrProbe, dir, err)
	}
	// lsof exits 1 when it found nothing to list.
	if res.ExitCode != 0 && !(res.ExitCode == 1 && !hasNames(res.Lines)) {
		metrics.ProbeErrors.WithLabelValues("busy").Inc()
		return nil, fmt.Errorf("%w: lsof %s exited %d: %s", ErrProbe, dir, res.ExitCode, res.Output())
	}

	files := b.parse(res.Lines)
	metrics.BusyFiles.Set(float64(len(files)))
	return files, nil
}

func hasNames(lines []string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, "n") {
			return true
		}
	}
	return false
}

// parse keeps the n (name) records of lsof -F output and drops pid and fd
// records, directories, duplicates and excluded paths.
func (b *Busy) parse(lines []string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, line := range lines {
		if len(line) < 2 || line[0] != 'n' {
			continue
		}
		name := line[1:]
		if len(name) <= 2 || isNumber(name) || seen[name] {
			continue
		}
		if excluded(name, b.excludes) {
			continue
		}
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			continue
		}
		seen[name] = true
		files = append(files, name)
	}
	return files
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

func excluded(path string, excludes []string) bool {
	lower := strings.ToLower(path)
	for _, ex := range excludes {
		if ex != "" && strings.Contains(lower, strings.ToLower(ex)) {
			return true
		}
	}
	return false
}
