// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index maps PHP class names to the files declaring them.
package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Default configuration values.
const (
	// DefaultMaxClasses is the default capacity of a ClassIndex.
	DefaultMaxClasses = 200_000

	// suggestCheckInterval is how often Suggest checks for cancellation.
	suggestCheckInterval = 1000
)

var (
	// ErrMaxClassesExceeded is returned when the index is full.
	ErrMaxClassesExceeded = errors.New("max classes exceeded")

	// ErrInvalidEntry is returned for an empty class or path.
	ErrInvalidEntry = errors.New("invalid index entry")
)

// ClassIndexOptions configures ClassIndex limits.
type ClassIndexOptions struct {
	// MaxClasses bounds the number of classes. Default: 200,000.
	MaxClasses int
}

// DefaultClassIndexOptions returns the default options.
func DefaultClassIndexOptions() ClassIndexOptions {
	return ClassIndexOptions{MaxClasses: DefaultMaxClasses}
}

// ClassIndexOption is a functional option for configuring ClassIndex.
type ClassIndexOption func(*ClassIndexOptions)

// WithMaxClasses sets the capacity.
func WithMaxClasses(n int) ClassIndexOption {
	return func(o *ClassIndexOptions) {
		o.MaxClasses = n
	}
}

// ClassIndex is a two-way map between class names and file paths.
//
// Thread Safety:
//
//	Safe for concurrent use.
type ClassIndex struct {
	mu sync.RWMutex

	byClass map[string]string
	byPath  map[string][]string

	options ClassIndexOptions
}

// NewClassIndex creates an empty index.
func NewClassIndex(opts ...ClassIndexOption) *ClassIndex {
	options := DefaultClassIndexOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &ClassIndex{
		byClass: make(map[string]string),
		byPath:  make(map[string][]string),
		options: options,
	}
}

// Add records that class is declared in path. Re-adding a class moves it
// to the new path.
func (idx *ClassIndex) Add(class, path string) error {
	class = strings.TrimPrefix(class, `\`)
	if class == "" || path == "" {
		return fmt.Errorf("%w: class=%q path=%q", ErrInvalidEntry, class, path)
	}
	path = filepath.Clean(path)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.byClass[class]; ok {
		if old == path {
			return nil
		}
		idx.byPath[old] = removeString(idx.byPath[old], class)
		if len(idx.byPath[old]) == 0 {
			delete(idx.byPath, old)
		}
	} else if len(idx.byClass) >= idx.options.MaxClasses {
		return ErrMaxClassesExceeded
	}

	idx.byClass[class] = path
	idx.byPath[path] = append(idx.byPath[path], class)
	return nil
}

// PathOf returns the file declaring class.
func (idx *ClassIndex) PathOf(class string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.byClass[strings.TrimPrefix(class, `\`)]
	return p, ok
}

// ClassesIn returns the classes declared in path.
func (idx *ClassIndex) ClassesIn(path string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	classes := idx.byPath[filepath.Clean(path)]
	out := make([]string, len(classes))
	copy(out, classes)
	return out
}

// RemoveByPath forgets every class of path and returns how many there were.
func (idx *ClassIndex) RemoveByPath(path string) int {
	path = filepath.Clean(path)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	classes := idx.byPath[path]
	for _, c := range classes {
		delete(idx.byClass, c)
	}
	delete(idx.byPath, path)
	return len(classes)
}

// Len returns the number of classes.
func (idx *ClassIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byClass)
}

// Classes returns every class, sorted.
func (idx *ClassIndex) Classes() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.byClass))
	for c := range idx.byClass {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Suggest returns indexed classes whose short name is close to the short
// name of class, best first. Used to explain source lookup misses.
//
// Outputs:
//   - []string: At most limit classes. Empty when nothing is close.
//   - error: Non-nil if ctx was cancelled.
func (idx *ClassIndex) Suggest(ctx context.Context, class string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := strings.ToLower(shortName(class))
	if want == "" {
		return nil, nil
	}
	maxDistance := max(1, len(want)/3)

	type scored struct {
		class string
		score int
	}
	var results []scored

	idx.mu.RLock()
	count := 0
	for c := range idx.byClass {
		count++
		if count%suggestCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				idx.mu.RUnlock()
				return nil, err
			}
		}
		d := levenshteinDistance(strings.ToLower(shortName(c)), want)
		if d <= maxDistance {
			results = append(results, scored{class: c, score: d})
		}
	}
	idx.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score < results[j].score
		}
		return results[i].class < results[j].class
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.class
	}
	return out, nil
}

func shortName(class string) string {
	if i := strings.LastIndex(class, `\`); i >= 0 {
		return class[i+1:]
	}
	return class
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// levenshteinDistance calculates the edit distance between two strings.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
