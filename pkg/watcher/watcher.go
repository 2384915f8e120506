// Package watcher reloads the playbook catalog when its files change and
// publishes the rebuilt registry without interrupting dispatch.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/user/gosec-playbooks/pkg/catalog"
	"github.com/user/gosec-playbooks/pkg/logx"
	"github.com/user/gosec-playbooks/pkg/registry"
)

// Watcher monitors catalog files and directories and signals after a burst
// of changes settles.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     []string
	debounce  time.Duration
	onChange  chan struct{}
	errs      chan error
	done      chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	Paths       []string
	DebounceDur time.Duration
}

// DefaultConfig returns a config watching paths with a 500ms debounce.
func DefaultConfig(paths ...string) Config {
	return Config{
		Paths:       paths,
		DebounceDur: 500 * time.Millisecond,
	}
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if cfg.DebounceDur <= 0 {
		cfg.DebounceDur = DefaultConfig().DebounceDur
	}

	return &Watcher{
		fsWatcher: fsw,
		paths:     cfg.Paths,
		debounce:  cfg.DebounceDur,
		onChange:  make(chan struct{}, 1),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start watches every configured path. Files are watched through their
// parent directory so editors that replace the file on save are still seen.
func (w *Watcher) Start() (<-chan struct{}, error) {
	seen := make(map[string]bool)
	for _, p := range w.paths {
		dir := p
		if info, err := os.Stat(p); err != nil {
			return nil, err
		} else if !info.IsDir() {
			dir = filepath.Dir(p)
		}
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}

	go w.loop()

	return w.onChange, nil
}

// Errors reports fsnotify errors. Only the latest unread error is kept.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)
	timerC := func() <-chan time.Time {
		if timer != nil {
			return timer.C
		}
		return nil
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-timerC():
			if pending {
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent reports whether event touches a catalog file that is
// watched, either directly or through a watched directory.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if !catalog.IsCatalogFile(event.Name) {
		return false
	}

	name := filepath.Clean(event.Name)
	for _, p := range w.paths {
		p = filepath.Clean(p)
		if name == p || filepath.Dir(name) == p {
			return true
		}
	}
	return false
}

// Reload rebuilds the registry from opts and publishes it on h. On failure
// the previously published registry stays in place.
func Reload(ctx context.Context, h *registry.Handle, opts catalog.Options) error {
	r, err := catalog.Load(ctx, opts)
	if err != nil {
		return err
	}
	h.Publish(r)
	return nil
}

// Run watches opts.Paths and reloads h after each settled change until ctx
// is done. Reload failures are logged and do not stop the loop.
func Run(ctx context.Context, h *registry.Handle, opts catalog.Options, debounce time.Duration) error {
	logger := logx.FromContext(ctx)
	if len(opts.Paths) == 0 {
		<-ctx.Done()
		return nil
	}

	w, err := New(Config{Paths: opts.Paths, DebounceDur: debounce})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	if err != nil {
		return err
	}
	logger.Info("Watching playbook catalog.", "paths", opts.Paths)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			if err := Reload(ctx, h, opts); err != nil {
				logger.Error("Catalog reload failed; keeping current playbooks.", "error", err)
				continue
			}
			logger.Info("Playbook catalog reloaded.", "playbooks", h.Load().Len())
		case err := <-w.Errors():
			logger.Warn("Catalog watch error.", "error", err)
		}
	}
}
