// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry produces the event→listener map a graph run starts
// from, either from a registry file or by reading a Laravel
// EventServiceProvider.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

// ErrNoRegistry is returned when neither a registry file nor a provider
// is available.
var ErrNoRegistry = errors.New("no listener registry found")

// Closure marks a listener registered as an anonymous function.
type Closure struct{}

// Normalize turns raw listener registrations into an EventListenerMap.
//
// Description:
//
//	A string entry is kept as the listener class. A two-element entry
//	[class, method] becomes "class@method". A Closure entry, or a map
//	with a "closure" key as written in registry files, discards the
//	entries collected for that event so far; later entries are kept.
//	Any other entry is ignored. Leading namespace separators are
//	stripped and events left without listeners are dropped.
//
// Example:
//
//	Normalize(map[string][]any{
//	    `App\Events\Paid`: {`App\Listeners\Mail`, []any{`App\Listeners\Audit`, "onPaid"}},
//	})
//	// {`App\Events\Paid`: {`App\Listeners\Mail`, `App\Listeners\Audit@onPaid`}}
func Normalize(raw map[string][]any) graph.EventListenerMap {
	out := make(graph.EventListenerMap, len(raw))

	for event, entries := range raw {
		event = strings.TrimPrefix(event, `\`)
		var listeners []string

		for _, entry := range entries {
			switch v := entry.(type) {
			case string:
				listeners = append(listeners, strings.TrimPrefix(v, `\`))
			case Closure, *Closure:
				listeners = nil
			case map[string]any:
				if _, ok := v["closure"]; ok {
					listeners = nil
				}
			case []any:
				if pair, ok := handlerPair(v); ok {
					listeners = append(listeners, pair)
				}
			case []string:
				if len(v) == 2 {
					listeners = append(listeners, strings.TrimPrefix(v[0], `\`)+"@"+v[1])
				}
			}
		}

		if len(listeners) > 0 {
			out[event] = append(out[event], listeners...)
		}
	}
	return out
}

func handlerPair(v []any) (string, bool) {
	if len(v) != 2 {
		return "", false
	}
	class, ok1 := v[0].(string)
	method, ok2 := v[1].(string)
	if !ok1 || !ok2 {
		return "", false
	}
	return strings.TrimPrefix(class, `\`) + "@" + method, true
}

// LoadFile reads a registry file mapping events to listener entries.
// YAML and JSON are both accepted.
//
// Example file:
//
//	App\Events\UserRegistered:
//	  - App\Listeners\SendWelcome
//	  - [App\Listeners\Audit, onRegistered]
//	  - {closure: true}
func LoadFile(path string) (graph.EventListenerMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading listener registry: %w", err)
	}
	var raw map[string][]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing listener registry %s: %w", path, err)
	}
	return Normalize(raw), nil
}

// Resolve loads the listener map for a project. A registry file wins over
// the provider; relative paths are taken from projectRoot.
//
// Outputs:
//   - graph.EventListenerMap: The listeners.
//   - error: ErrNoRegistry when neither source exists.
func Resolve(ctx context.Context, projectRoot, file, provider string, logger *slog.Logger) (graph.EventListenerMap, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(projectRoot, p)
	}

	if file != "" {
		events, err := LoadFile(abs(file))
		if err != nil {
			return nil, err
		}
		logger.Info("listener registry loaded",
			slog.String("file", abs(file)),
			slog.Int("events", len(events)))
		return events, nil
	}

	if provider != "" {
		path := abs(provider)
		content, err := os.ReadFile(path)
		if err == nil {
			events, err := DiscoverFromProvider(ctx, content, path)
			if err != nil {
				return nil, err
			}
			logger.Info("listeners discovered from provider",
				slog.String("provider", path),
				slog.Int("events", len(events)))
			return events, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading provider: %w", err)
		}
	}

	return nil, ErrNoRegistry
}
