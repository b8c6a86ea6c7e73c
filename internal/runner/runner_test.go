package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func sh(script string) Command {
	return Command{Name: "/bin/sh", Args: []string{"-c", script}}
}

func TestRun_CapturesOutputAndExitCode(t *testing.T) {
	r := New(zap.NewNop())
	res, err := r.Run(context.Background(), sh("echo one; echo two 1>&2; exit 3"), WithCapture())
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if len(res.Lines) != 2 || res.Lines[0] != "one" || res.Lines[1] != "two" {
		t.Errorf("unexpected lines: %q", res.Lines)
	}
	if res.Output() != "one\ntwo" {
		t.Errorf("unexpected output: %q", res.Output())
	}
}

func TestRun_SkipsBlankLines(t *testing.T) {
	r := New(zap.NewNop())
	res, err := r.Run(context.Background(), sh("echo; echo a; echo '   '"), WithCapture(), WithQuiet())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Lines) != 1 || res.Lines[0] != "a" {
		t.Errorf("unexpected lines: %q", res.Lines)
	}
}

func TestRun_OnLineAbortKillsProcess(t *testing.T) {
	r := New(zap.NewNop())
	seen := 0
	start := time.Now()
	res, err := r.Run(context.Background(),
		sh("i=0; while [ $i -lt 100 ]; do echo line$i; i=$((i+1)); sleep 0.05; done"),
		OnLine(func(line string) bool {
			seen++
			return seen < 3
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Aborted {
		t.Fatal("expected command to be aborted")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1 for killed process", res.ExitCode)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("abort did not stop the command early")
	}
	if seen != 3 {
		t.Errorf("hook called %d times, want 3", seen)
	}
}

func TestRun_OverlongLineDoesNotHang(t *testing.T) {
	r := New(zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := r.Run(ctx,
		sh("echo first; head -c 2097152 /dev/zero | tr '\\000' a; echo; head -c 1048576 /dev/zero | tr '\\000' b; echo; exit 0"),
		WithCapture(), WithQuiet(),
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Truncated {
		t.Error("expected output to be marked truncated")
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if len(res.Lines) == 0 || res.Lines[0] != "first" {
		t.Errorf("lines before the overlong one were lost: %d lines", len(res.Lines))
	}
}

func TestRun_StartFailure(t *testing.T) {
	r := New(zap.NewNop())
	_, err := r.Run(context.Background(), Command{Name: "/nonexistent/tool"})
	if err == nil {
		t.Fatal("expected start error")
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	r := New(zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, sh("sleep 5"))
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "rclone", Args: []string{"move", "/local media", "remote:", "--exclude=**partial~"}}
	got := cmd.String()
	if !strings.Contains(got, `"/local media"`) {
		t.Errorf("argument with space not quoted: %s", got)
	}
	if !strings.HasPrefix(got, "rclone move ") {
		t.Errorf("unexpected command string: %s", got)
	}
}
