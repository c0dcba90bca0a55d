// Package watch re-runs a task when files matching the watch patterns
// change. Changes are debounced and runs never overlap: changes that arrive
// during a run cause exactly one more run once it finishes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"mailbuild/internal/pipeline"
)

// DefaultDebounce is used when Options.Debounce is zero.
const DefaultDebounce = 300 * time.Millisecond

// RunFunc performs one build. Its error is logged; watching continues.
type RunFunc func(ctx context.Context) error

// Options configures a Watcher.
type Options struct {
	// Root is the project root. Patterns are relative to it.
	Root     string
	Patterns []string
	Debounce time.Duration
	// RunOnStart runs once before waiting for changes.
	RunOnStart bool
	Logger     pipeline.Logger
}

// Watcher watches the filesystem and calls a RunFunc on changes.
type Watcher struct {
	opts Options
	run  RunFunc
}

// New validates the patterns and returns a Watcher.
func New(opts Options, run RunFunc) (*Watcher, error) {
	if len(opts.Patterns) == 0 {
		return nil, fmt.Errorf("no watch patterns configured")
	}
	for _, p := range opts.Patterns {
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			return nil, fmt.Errorf("invalid watch pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = pipeline.NewNopLogger()
	}
	return &Watcher{opts: opts, run: run}, nil
}

// Run watches until ctx is canceled. It waits for an in-flight run to
// finish before returning.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	dirs, err := w.directories()
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := fw.Add(d); err != nil {
			w.opts.Logger.Warn("failed to watch directory", "path", d, "error", err)
		}
	}
	w.opts.Logger.Info("watching for changes", "directories", len(dirs), "patterns", strings.Join(w.opts.Patterns, ","))

	events := make(chan string)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) && w.recursive() {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						if err := fw.Add(ev.Name); err != nil {
							w.opts.Logger.Warn("failed to watch directory", "path", ev.Name, "error", err)
						}
					}
				}
				if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
					continue
				}
				select {
				case events <- ev.Name:
				case <-ctx.Done():
					return
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.opts.Logger.Error("watcher error", "error", err)
			}
		}
	}()

	return w.loop(ctx, events)
}

// loop debounces change notifications and serializes runs.
func (w *Watcher) loop(ctx context.Context, events <-chan string) error {
	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	defer timer.Stop()

	done := make(chan error, 1)
	running, pending := false, false
	start := func() {
		running = true
		go func() { done <- w.run(ctx) }()
	}
	if w.opts.RunOnStart {
		start()
	}

	for {
		select {
		case <-ctx.Done():
			if running {
				<-done
			}
			return nil

		case name, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !w.matches(name) {
				continue
			}
			w.opts.Logger.Debug("detected file change, debouncing", "file", name)
			timer.Reset(w.opts.Debounce)

		case <-timer.C:
			if running {
				pending = true
				continue
			}
			w.opts.Logger.Info("change detected, running")
			start()

		case err := <-done:
			running = false
			if err != nil && !errors.Is(err, context.Canceled) {
				w.opts.Logger.Error("watched run failed", "error", err)
			}
			if pending {
				pending = false
				start()
			}
		}
	}
}

// matches reports whether name, an absolute path, matches a watch pattern.
func (w *Watcher) matches(name string) bool {
	rel, err := filepath.Rel(w.opts.Root, name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range w.opts.Patterns {
		if ok, _ := doublestar.Match(strings.TrimPrefix(filepath.ToSlash(p), "./"), rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) recursive() bool {
	for _, p := range w.opts.Patterns {
		if strings.Contains(p, "**") {
			return true
		}
	}
	return false
}

// directories returns every directory that must be watched: the static base
// of each pattern, plus all of its subdirectories for "**" patterns.
func (w *Watcher) directories() ([]string, error) {
	seen := map[string]bool{}
	var dirs []string
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}

	for _, p := range w.opts.Patterns {
		base, _ := doublestar.SplitPattern(strings.TrimPrefix(filepath.ToSlash(p), "./"))
		dir := filepath.Join(w.opts.Root, filepath.FromSlash(base))
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			w.opts.Logger.Warn("watch directory does not exist", "path", dir)
			continue
		}
		if !strings.Contains(p, "**") {
			add(dir)
			continue
		}
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", dir, err)
		}
	}
	return dirs, nil
}
