// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source locates the PHP source text of classes.
//
// A Locator is injected into the graph builder; ComposerLocator resolves
// classes through a project's composer.json PSR-4 mappings, CachingLocator
// keeps recently read sources in an LRU and Watcher reports file changes
// so cached sources can be invalidated.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrSourceNotFound is returned when no source exists for a class.
	ErrSourceNotFound = errors.New("source not found")

	// ErrInvalidComposer is returned when composer.json cannot be used.
	ErrInvalidComposer = errors.New("invalid composer.json")
)

// Locator returns the source text of a fully qualified class.
//
// Implementations return an error wrapping ErrSourceNotFound when the class
// has no source.
type Locator interface {
	SourceTextOf(ctx context.Context, className string) ([]byte, error)
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(ctx context.Context, className string) ([]byte, error)

// SourceTextOf calls f.
func (f LocatorFunc) SourceTextOf(ctx context.Context, className string) ([]byte, error) {
	return f(ctx, className)
}

// MapLocator serves sources from memory, keyed by class name without a
// leading separator. Used in tests and for ad-hoc analysis.
type MapLocator map[string]string

// SourceTextOf returns the stored source of className.
func (m MapLocator) SourceTextOf(ctx context.Context, className string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, ok := m[strings.TrimPrefix(className, `\`)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, className)
	}
	return []byte(src), nil
}

// Classes returns the stored class names, sorted.
func (m MapLocator) Classes() []string {
	out := make([]string, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
