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
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of cached sources.
const DefaultCacheSize = 512

// CachingLocator keeps recently read sources of an inner Locator in an LRU.
//
// Misses are not cached, so a class whose file appears later is found on
// the next lookup.
//
// Thread Safety:
//
//	Safe for concurrent use.
type CachingLocator struct {
	inner Locator
	cache *lru.Cache[string, []byte]
}

// NewCachingLocator wraps inner with an LRU of size entries. A non-positive
// size selects DefaultCacheSize.
func NewCachingLocator(inner Locator, size int) (*CachingLocator, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner locator must not be nil")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("creating source cache: %w", err)
	}
	return &CachingLocator{inner: inner, cache: cache}, nil
}

// SourceTextOf returns the cached source or reads it through the inner
// locator.
func (c *CachingLocator) SourceTextOf(ctx context.Context, className string) ([]byte, error) {
	key := strings.TrimPrefix(className, `\`)
	if data, ok := c.cache.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return data, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	data, err := c.inner.SourceTextOf(ctx, className)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, data)
	return data, nil
}

// Invalidate drops the given classes from the cache.
func (c *CachingLocator) Invalidate(classes ...string) {
	for _, class := range classes {
		c.cache.Remove(strings.TrimPrefix(class, `\`))
	}
}

// Purge empties the cache.
func (c *CachingLocator) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached sources.
func (c *CachingLocator) Len() int {
	return c.cache.Len()
}
