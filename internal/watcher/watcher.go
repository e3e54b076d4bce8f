// Package watcher re-triggers work when files under a directory change.
// Bursts of filesystem events are coalesced: the trigger fires once the
// directory has been quiet for the debounce interval.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the directory must stay quiet before a trigger
const DefaultDebounce = 2 * time.Second

// Options configures a Watcher
type Options struct {
	Debounce time.Duration
	// Ignore reports paths whose events never trigger, such as the state
	// directory or the report file when they live under the watched root
	Ignore func(path string) bool
	Logger zerolog.Logger
}

// Watcher watches a directory tree
type Watcher struct {
	root     string
	fs       *fsnotify.Watcher
	debounce time.Duration
	ignore   func(string) bool
	logger   zerolog.Logger
}

// New starts watching root and every non-hidden directory below it
func New(root string, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Ignore == nil {
		opts.Ignore = func(string) bool { return false }
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		root:     root,
		fs:       fsw,
		debounce: opts.Debounce,
		ignore:   opts.Ignore,
		logger:   opts.Logger,
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree registers dir and its subdirectories
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && (isHidden(path) || w.ignore(path)) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run blocks until ctx is done, calling trigger after each quiet period that
// follows a relevant change. trigger runs on the Run goroutine; events that
// arrive meanwhile schedule another trigger.
func (w *Watcher) Run(ctx context.Context, trigger func(ctx context.Context)) error {
	defer w.fs.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("change detected")
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watch error")

		case <-timer.C:
			trigger(ctx)
		}
	}
}

// relevant decides whether an event should schedule a trigger. New
// directories are added to the watch set as a side effect.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if isHidden(event.Name) || w.ignore(event.Name) {
		return false
	}
	if event.Op == fsnotify.Chmod {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
			}
		}
	}
	return true
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
