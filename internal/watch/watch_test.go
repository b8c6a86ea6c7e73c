package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitFor(t *testing.T, events <-chan Event, want string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("channel closed before %s was seen", want)
			}
			if ev.Path == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestSubscribe_ReportsCreatesInSubdirectories(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := Subscribe(ctx, root, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	top := filepath.Join(root, "a_HIDDEN~")
	if err := os.WriteFile(top, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if ev := waitFor(t, events, top); ev.Op != Create {
		t.Errorf("op = %s, want create", ev.Op)
	}

	// A directory tree created in one go: the file inside may land before
	// the directory is watched and must still be reported.
	nested := filepath.Join(root, "Movies", "X")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(nested, "X.mkv_HIDDEN~")
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, marker)
}

func TestSubscribe_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events, err := Subscribe(ctx, t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-events:
		for ok {
			_, ok = <-events
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSubscribe_MissingRoot(t *testing.T) {
	if _, err := Subscribe(context.Background(), filepath.Join(t.TempDir(), "missing"), zap.NewNop()); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestSubscribeFile_FiltersOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := SubscribeFile(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("a: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Path != path {
			t.Errorf("unexpected event path %s", ev.Path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event for config file")
	}
}

func TestPollModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := PollModTime(ctx, path, 20*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Op != Write {
			t.Errorf("op = %s, want write", ev.Op)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("mtime change not reported")
	}
}
