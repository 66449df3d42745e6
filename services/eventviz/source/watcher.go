// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 300 * time.Millisecond

// ChangeFunc receives one debounced batch of changed paths, sorted.
type ChangeFunc func(ctx context.Context, paths []string)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is the quiet period before a batch is delivered.
	Debounce time.Duration

	// Extensions limits reported files by extension. Empty reports all.
	Extensions []string

	// SkipDirs are directory base names never watched.
	SkipDirs []string

	Logger *slog.Logger
}

// WatcherOption is a functional option for Watcher.
type WatcherOption func(*WatcherOptions)

// WithDebounce sets the debounce period.
func WithDebounce(d time.Duration) WatcherOption {
	return func(o *WatcherOptions) {
		if d > 0 {
			o.Debounce = d
		}
	}
}

// WithExtensions sets the reported file extensions, e.g. ".php".
func WithExtensions(exts ...string) WatcherOption {
	return func(o *WatcherOptions) {
		o.Extensions = exts
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(o *WatcherOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Watcher reports changes below a set of directories in debounced batches.
//
// Description:
//
//	Directories are watched recursively; directories created while
//	running are added. Write, Create, Remove and Rename events count as
//	changes, Chmod is ignored.
//
// Thread Safety:
//
//	Run must be called once. Close may be called from any goroutine.
type Watcher struct {
	fsw     *fsnotify.Watcher
	options WatcherOptions
	exts    map[string]struct{}
	skip    map[string]struct{}
}

// NewWatcher starts watching dirs. Missing directories are skipped with a
// warning.
func NewWatcher(dirs []string, opts ...WatcherOption) (*Watcher, error) {
	options := WatcherOptions{
		Debounce:   DefaultDebounce,
		Extensions: []string{".php"},
		SkipDirs:   []string{"vendor", "node_modules", ".git"},
		Logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		fsw:     fsw,
		options: options,
		exts:    make(map[string]struct{}, len(options.Extensions)),
		skip:    make(map[string]struct{}, len(options.SkipDirs)),
	}
	for _, e := range options.Extensions {
		w.exts[e] = struct{}{}
	}
	for _, d := range options.SkipDirs {
		w.skip[d] = struct{}{}
	}

	for _, dir := range dirs {
		if err := w.addTree(dir); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				options.Logger.Warn("not watching missing directory", slog.String("dir", dir))
				continue
			}
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, ok := w.skip[d.Name()]; ok && path != dir {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// WatchList returns the watched directories.
func (w *Watcher) WatchList() []string {
	list := w.fsw.WatchList()
	sort.Strings(list)
	return list
}

// Run delivers change batches to onChange until ctx is done or the watcher
// is closed.
//
// Outputs:
//   - error: ctx.Err() when cancelled, nil when closed.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.options.Debounce)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		clear(pending)
		watchEvents.Inc()
		w.options.Logger.Debug("source files changed", slog.Int("count", len(paths)))
		onChange(ctx, paths)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				flush()
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			pending[filepath.Clean(event.Name)] = struct{}{}
			timer.Reset(w.options.Debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				flush()
				return nil
			}
			w.options.Logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			flush()
		}
	}
}

// relevant filters an event and watches newly created directories.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if _, skip := w.skip[info.Name()]; !skip {
				if err := w.addTree(event.Name); err != nil {
					w.options.Logger.Warn("watching new directory failed",
						slog.String("dir", event.Name),
						slog.String("error", err.Error()))
				}
			}
			return false
		}
	}

	if len(w.exts) == 0 {
		return true
	}
	_, ok := w.exts[filepath.Ext(event.Name)]
	return ok
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
