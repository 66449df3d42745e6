// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Root is one PSR-4 mapping: classes under Namespace live below Dir.
type Root struct {
	// Namespace is the namespace prefix, e.g. "App\".
	Namespace string `json:"namespace"`

	// Dir is the absolute directory of the prefix.
	Dir string `json:"dir"`
}

// ClassFor returns the class a PHP file maps to under r, or false when the
// file is outside r.
func (r Root) ClassFor(path string) (string, bool) {
	rel, err := filepath.Rel(r.Dir, path)
	if err != nil || strings.HasPrefix(rel, "..") || !strings.HasSuffix(rel, ".php") {
		return "", false
	}
	rel = strings.TrimSuffix(rel, ".php")
	ns := strings.TrimSuffix(strings.TrimPrefix(r.Namespace, `\`), `\`)
	class := strings.ReplaceAll(filepath.ToSlash(rel), "/", `\`)
	if ns == "" {
		return class, true
	}
	return ns + `\` + class, true
}

// BuildOptions configures Build.
type BuildOptions struct {
	// Workers bounds concurrent root walks. Default: runtime.NumCPU().
	Workers int

	// SkipDirs are directory base names never descended into.
	SkipDirs []string

	Logger *slog.Logger

	IndexOptions []ClassIndexOption
}

// BuildOption is a functional option for Build.
type BuildOption func(*BuildOptions)

// WithWorkers sets the number of concurrent root walks.
func WithWorkers(n int) BuildOption {
	return func(o *BuildOptions) {
		o.Workers = n
	}
}

// WithSkipDirs sets directory names to skip.
func WithSkipDirs(dirs ...string) BuildOption {
	return func(o *BuildOptions) {
		o.SkipDirs = dirs
	}
}

// WithBuildLogger sets the logger.
func WithBuildLogger(logger *slog.Logger) BuildOption {
	return func(o *BuildOptions) {
		o.Logger = logger
	}
}

// WithIndexOptions passes options to the created ClassIndex.
func WithIndexOptions(opts ...ClassIndexOption) BuildOption {
	return func(o *BuildOptions) {
		o.IndexOptions = opts
	}
}

// Build walks every PSR-4 root in parallel and indexes each PHP file under
// the class its path maps to.
//
// Description:
//
//	A missing root directory is logged and skipped. When two roots map
//	the same class the later walk wins. The first walk error or a
//	cancelled context aborts the build.
//
// Outputs:
//   - *ClassIndex: The populated index.
//   - error: Walk, capacity or context error.
func Build(ctx context.Context, roots []Root, opts ...BuildOption) (*ClassIndex, error) {
	options := BuildOptions{
		Workers:  runtime.NumCPU(),
		SkipDirs: []string{"vendor", "node_modules", ".git"},
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Workers <= 0 {
		options.Workers = runtime.NumCPU()
	}

	idx := NewClassIndex(options.IndexOptions...)

	skip := make(map[string]struct{}, len(options.SkipDirs))
	for _, d := range options.SkipDirs {
		skip[d] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(options.Workers)

	for _, root := range roots {
		g.Go(func() error {
			return walkRoot(gctx, idx, root, skip, options.Logger)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("building class index: %w", err)
	}

	options.Logger.Debug("class index built",
		slog.Int("roots", len(roots)),
		slog.Int("classes", idx.Len()))

	return idx, nil
}

func walkRoot(ctx context.Context, idx *ClassIndex, root Root, skip map[string]struct{}, logger *slog.Logger) error {
	return filepath.WalkDir(root.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root.Dir {
				logger.Warn("skipping missing autoload root",
					slog.String("namespace", root.Namespace),
					slog.String("dir", root.Dir),
					slog.String("error", err.Error()))
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if _, ok := skip[d.Name()]; ok && path != root.Dir {
				return filepath.SkipDir
			}
			return nil
		}

		class, ok := root.ClassFor(path)
		if !ok {
			return nil
		}
		return idx.Add(class, path)
	})
}
