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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/eventviz/services/eventviz/index"
)

// DefaultComposerFile is the composer manifest name.
const DefaultComposerFile = "composer.json"

// suggestLimit bounds the class suggestions attached to a miss.
const suggestLimit = 3

// composerManifest is the part of composer.json the locator reads.
type composerManifest struct {
	Autoload    composerAutoload `json:"autoload"`
	AutoloadDev composerAutoload `json:"autoload-dev"`
}

type composerAutoload struct {
	PSR4 map[string]json.RawMessage `json:"psr-4"`
}

// ComposerOptions configures a ComposerLocator.
type ComposerOptions struct {
	// ComposerFile is the manifest path, relative to the project root
	// unless absolute. Default: DefaultComposerFile.
	ComposerFile string

	// IncludeDev also indexes autoload-dev roots. Default: true.
	IncludeDev bool

	Logger *slog.Logger

	// BuildOptions are passed to index.Build.
	BuildOptions []index.BuildOption
}

// ComposerOption is a functional option for ComposerLocator.
type ComposerOption func(*ComposerOptions)

// WithComposerFile sets the manifest path.
func WithComposerFile(path string) ComposerOption {
	return func(o *ComposerOptions) {
		if path != "" {
			o.ComposerFile = path
		}
	}
}

// WithIncludeDev toggles autoload-dev roots.
func WithIncludeDev(include bool) ComposerOption {
	return func(o *ComposerOptions) {
		o.IncludeDev = include
	}
}

// WithComposerLogger sets the logger.
func WithComposerLogger(logger *slog.Logger) ComposerOption {
	return func(o *ComposerOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithIndexBuildOptions passes options to index.Build.
func WithIndexBuildOptions(opts ...index.BuildOption) ComposerOption {
	return func(o *ComposerOptions) {
		o.BuildOptions = opts
	}
}

// ComposerLocator resolves classes through composer PSR-4 autoload roots.
//
// Description:
//
//	At construction the manifest is read and every root is indexed. A
//	lookup consults the index first; on a miss it probes the PSR-4 path
//	of each matching root, so files created after indexing are found
//	without a full Reindex.
//
// Thread Safety:
//
//	Safe for concurrent use.
type ComposerLocator struct {
	projectRoot string
	options     ComposerOptions

	mu    sync.RWMutex
	roots []index.Root
	idx   *index.ClassIndex
}

// NewComposerLocator reads the manifest under projectRoot and indexes it.
//
// Outputs:
//   - *ComposerLocator: Ready for lookups.
//   - error: Wraps ErrInvalidComposer when the manifest is missing or
//     malformed, or the index build error.
func NewComposerLocator(ctx context.Context, projectRoot string, opts ...ComposerOption) (*ComposerLocator, error) {
	options := ComposerOptions{
		ComposerFile: DefaultComposerFile,
		IncludeDev:   true,
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	l := &ComposerLocator{
		projectRoot: absRoot,
		options:     options,
	}
	if err := l.Reindex(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// ProjectRoot returns the absolute project root.
func (l *ComposerLocator) ProjectRoot() string {
	return l.projectRoot
}

// Roots returns the PSR-4 roots, longest namespace first.
func (l *ComposerLocator) Roots() []index.Root {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]index.Root, len(l.roots))
	copy(out, l.roots)
	return out
}

// Index returns the current class index.
func (l *ComposerLocator) Index() *index.ClassIndex {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.idx
}

// Reindex re-reads the manifest and rebuilds the class index.
func (l *ComposerLocator) Reindex(ctx context.Context) error {
	roots, err := l.readRoots()
	if err != nil {
		return err
	}
	idx, err := index.Build(ctx, roots, append([]index.BuildOption{
		index.WithBuildLogger(l.options.Logger),
	}, l.options.BuildOptions...)...)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.roots = roots
	l.idx = idx
	l.mu.Unlock()

	l.options.Logger.Info("composer autoload indexed",
		slog.String("project_root", l.projectRoot),
		slog.Int("roots", len(roots)),
		slog.Int("classes", idx.Len()))
	return nil
}

// readRoots parses the PSR-4 sections of the manifest.
func (l *ComposerLocator) readRoots() ([]index.Root, error) {
	path := l.options.ComposerFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.projectRoot, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidComposer, err)
	}

	var manifest composerManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidComposer, path, err)
	}

	sections := []map[string]json.RawMessage{manifest.Autoload.PSR4}
	if l.options.IncludeDev {
		sections = append(sections, manifest.AutoloadDev.PSR4)
	}

	var roots []index.Root
	for _, section := range sections {
		for ns, raw := range section {
			dirs, err := psr4Dirs(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: psr-4 %q: %w", ErrInvalidComposer, ns, err)
			}
			for _, d := range dirs {
				roots = append(roots, index.Root{
					Namespace: ns,
					Dir:       filepath.Join(l.projectRoot, filepath.FromSlash(d)),
				})
			}
		}
	}

	sort.SliceStable(roots, func(i, j int) bool {
		if len(roots[i].Namespace) != len(roots[j].Namespace) {
			return len(roots[i].Namespace) > len(roots[j].Namespace)
		}
		if roots[i].Namespace != roots[j].Namespace {
			return roots[i].Namespace < roots[j].Namespace
		}
		return roots[i].Dir < roots[j].Dir
	})
	return roots, nil
}

// psr4Dirs decodes a PSR-4 value, which composer allows to be a string or
// a list of strings.
func psr4Dirs(raw json.RawMessage) ([]string, error) {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("expected string or list of strings")
	}
	return many, nil
}

// SourceTextOf returns the contents of the file declaring className.
//
// Outputs:
//   - []byte: The file contents.
//   - error: Wraps ErrSourceNotFound on a miss, with near-miss class names
//     in the message when the index has any.
func (l *ComposerLocator) SourceTextOf(ctx context.Context, className string) ([]byte, error) {
	ctx, span := sourceTracer.Start(ctx, "source.ComposerLocator.SourceTextOf",
		trace.WithAttributes(attribute.String("eventviz.class", className)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	class := strings.TrimPrefix(className, `\`)
	idx := l.Index()

	path, ok := idx.PathOf(class)
	result := "found"
	if !ok {
		path, ok = l.probe(class)
		result = "rescanned"
		if ok {
			if err := idx.Add(class, path); err != nil {
				l.options.Logger.Warn("indexing located class failed",
					slog.String("class", class),
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
	}
	if !ok {
		lookupsTotal.WithLabelValues("not_found").Inc()
		err := l.notFound(ctx, idx, class)
		span.SetStatus(codes.Error, "not found")
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		lookupsTotal.WithLabelValues("not_found").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if os.IsNotExist(err) {
			idx.RemoveByPath(path)
			return nil, fmt.Errorf("%w: %s: %w", ErrSourceNotFound, class, err)
		}
		return nil, fmt.Errorf("reading source of %s: %w", class, err)
	}

	lookupsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("eventviz.path", path))
	return data, nil
}

// probe checks the PSR-4 path of class under every matching root.
func (l *ComposerLocator) probe(class string) (string, bool) {
	for _, root := range l.Roots() {
		ns := strings.TrimPrefix(root.Namespace, `\`)
		if ns != "" && !strings.HasPrefix(class, ns) {
			continue
		}
		rel := strings.TrimPrefix(class, ns)
		path := filepath.Join(root.Dir, filepath.FromSlash(strings.ReplaceAll(rel, `\`, "/"))+".php")
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

func (l *ComposerLocator) notFound(ctx context.Context, idx *index.ClassIndex, class string) error {
	suggestions, err := idx.Suggest(ctx, class, suggestLimit)
	if err != nil || len(suggestions) == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, class)
	}
	return fmt.Errorf("%w: %s (did you mean %s?)", ErrSourceNotFound, class, strings.Join(suggestions, ", "))
}

// Refresh updates the index for changed file paths and returns every class
// whose source may have changed, both previously and newly declared.
//
// Thread Safety: Safe for concurrent use.
func (l *ComposerLocator) Refresh(paths []string) []string {
	idx := l.Index()
	roots := l.Roots()

	seen := make(map[string]struct{})
	var affected []string
	note := func(classes ...string) {
		for _, c := range classes {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				affected = append(affected, c)
			}
		}
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		note(idx.ClassesIn(abs)...)
		idx.RemoveByPath(abs)

		if _, err := os.Stat(abs); err != nil {
			continue
		}
		for _, root := range roots {
			if class, ok := root.ClassFor(abs); ok {
				if err := idx.Add(class, abs); err != nil {
					l.options.Logger.Warn("indexing changed file failed",
						slog.String("path", abs),
						slog.String("error", err.Error()))
					break
				}
				note(class)
				break
			}
		}
	}

	sort.Strings(affected)
	return affected
}
