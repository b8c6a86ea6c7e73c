// Package runner executes external tools and streams their combined output,
// line by line, into the log.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gftdcojp/unionfs-cleaner/internal/metrics"
	"go.uber.org/zap"
)

// Command is a single external program invocation.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// LineFunc inspects one line of output. Returning false kills the process.
type LineFunc func(line string) bool

type options struct {
	capture bool
	quiet   bool
	onLine  LineFunc
}

// Option tunes a single Run call.
type Option func(*options)

// WithCapture keeps every output line in Result.Lines.
func WithCapture() Option {
	return func(o *options) { o.capture = true }
}

// WithQuiet stops output lines from being logged.
func WithQuiet() Option {
	return func(o *options) { o.quiet = true }
}

// OnLine installs a hook called for every output line.
func OnLine(fn LineFunc) Option {
	return func(o *options) { o.onLine = fn }
}

// Hook returns the OnLine hook among opts, or nil. Executors other than
// Runner use it to honour the option.
func Hook(opts ...Option) LineFunc {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o.onLine
}

// Result describes a finished command. ExitCode is -1 when the process
// was killed.
type Result struct {
	ExitCode int
	Lines    []string
	Aborted  bool
	// Truncated is set when output stopped being read line by line, for
	// example after a line longer than the scanner buffer. The rest of
	// the output was discarded.
	Truncated bool
	Duration  time.Duration
}

// Output joins the captured lines.
func (r *Result) Output() string {
	return strings.Join(r.Lines, "\n")
}

// Executor runs commands. Probes, deleters and the mover depend on this
// rather than on Runner so tests can script tool output.
type Executor interface {
	Run(ctx context.Context, cmd Command, opts ...Option) (*Result, error)
}

// Runner is the exec-backed Executor.
type Runner struct {
	logger *zap.Logger
}

// New creates a Runner logging through logger.
func New(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run starts cmd, streams its stdout and stderr and waits for it to exit.
// A non-zero exit status is reported through Result.ExitCode, not as an
// error. The error is non-nil only when the process could not be started
// or ctx was cancelled by the caller.
func (r *Runner) Run(ctx context.Context, cmd Command, opts ...Option) (*Result, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	runCtx, kill := context.WithCancel(ctx)
	defer kill()

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	defer pr.Close()

	c := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	c.Stdout = pw
	c.Stderr = pw

	start := time.Now()
	if err := c.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("starting %s: %w", cmd.Name, err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	r.logger.Debug("command started",
		zap.String("cmd", cmd.String()),
		zap.Int("pid", c.Process.Pid),
	)

	res := &Result{}
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if o.capture {
			res.Lines = append(res.Lines, line)
		}
		if !o.quiet {
			r.logger.Info(line, zap.String("cmd", cmd.Name))
		}
		if o.onLine != nil && !res.Aborted && !o.onLine(line) {
			res.Aborted = true
			r.logger.Warn("aborting command", zap.String("cmd", cmd.Name), zap.Int("pid", c.Process.Pid))
			kill()
		}
	}
	if err := scanner.Err(); err != nil {
		res.Truncated = true
		r.logger.Warn("discarding unreadable command output",
			zap.String("cmd", cmd.Name),
			zap.Error(err),
		)
		// Keep the pipe drained so the child never blocks on a full buffer.
		io.Copy(io.Discard, pr)
	}

	waitErr := c.Wait()
	res.Duration = time.Since(start)
	res.ExitCode = c.ProcessState.ExitCode()
	metrics.CommandDuration.WithLabelValues(filepath.Base(cmd.Name)).Observe(res.Duration.Seconds())

	r.logger.Debug("command finished",
		zap.String("cmd", cmd.Name),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("aborted", res.Aborted),
		zap.Bool("truncated", res.Truncated),
		zap.Duration("duration", res.Duration),
	)

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !res.Aborted {
		return res, fmt.Errorf("waiting for %s: %w", cmd.Name, waitErr)
	}
	return res, nil
}
