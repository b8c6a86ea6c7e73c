// Package watch turns filesystem activity under a directory tree into a
// channel of create/write events that ends when the subscriber's context
// is cancelled.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Op is the kind of change an Event reports.
type Op uint8

const (
	Create Op = iota + 1
	Write
)

func (o Op) String() string {
	switch o {
	case Create:
		return "create"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// Event is a single observed change.
type Event struct {
	Path string
	Op   Op
}

// Subscribe watches root and every directory below it. Directories created
// later are added as they appear, and files already inside them when they
// are picked up are reported as Create events. The channel is closed when
// ctx is done or the underlying watcher fails.
func Subscribe(ctx context.Context, root string, logger *zap.Logger) (<-chan Event, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addRecursive(fsw, root, nil); err != nil {
		fsw.Close()
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer fsw.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				var pending []Event
				switch {
				case ev.Op.Has(fsnotify.Create):
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						// Catch files written before the new directory was watched.
						if err := addRecursive(fsw, ev.Name, &pending); err != nil {
							logger.Warn("failed to watch new directory", zap.String("dir", ev.Name), zap.Error(err))
						}
					} else {
						pending = append(pending, Event{Path: ev.Name, Op: Create})
					}
				case ev.Op.Has(fsnotify.Write):
					pending = append(pending, Event{Path: ev.Name, Op: Write})
				}
				for _, e := range pending {
					select {
					case out <- e:
					case <-ctx.Done():
						return
					}
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Warn("watcher error", zap.String("root", root), zap.Error(err))
			}
		}
	}()
	return out, nil
}

// addRecursive watches dir and its subdirectories. When found is non-nil
// every regular file met on the way is appended to it as a Create event.
func addRecursive(fsw *fsnotify.Watcher, dir string, found *[]Event) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if found != nil {
				*found = append(*found, Event{Path: path, Op: Create})
			}
			return nil
		}
		return fsw.Add(path)
	})
}

// SubscribeFile reports create and write events for a single file. It
// watches the parent directory so editors that replace the file on save
// are still seen.
func SubscribeFile(ctx context.Context, path string, logger *zap.Logger) (<-chan Event, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	out := make(chan Event, 8)
	go func() {
		defer close(out)
		defer fsw.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				var op Op
				switch {
				case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Rename):
					op = Create
				case ev.Op.Has(fsnotify.Write):
					op = Write
				default:
					continue
				}
				select {
				case out <- Event{Path: abs, Op: op}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Warn("watcher error", zap.String("file", abs), zap.Error(err))
			}
		}
	}()
	return out, nil
}

// PollModTime compares the modification time of path every interval and
// reports a Write event whenever it differs from the last one seen.
func PollModTime(ctx context.Context, path string, interval time.Duration, logger *zap.Logger) (<-chan Event, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	last := info.ModTime()

	out := make(chan Event, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					logger.Warn("failed to stat watched file", zap.String("file", path), zap.Error(err))
					continue
				}
				if info.ModTime().Equal(last) {
					continue
				}
				last = info.ModTime()
				select {
				case out <- Event{Path: path, Op: Write}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
