// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eventviz serves Laravel event/listener/job dispatch graphs over
// HTTP and keeps them current while the project changes.
package eventviz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/eventviz/services/eventviz/config"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
	"github.com/AleutianAI/eventviz/services/eventviz/impact"
	"github.com/AleutianAI/eventviz/services/eventviz/registry"
	"github.com/AleutianAI/eventviz/services/eventviz/render"
	"github.com/AleutianAI/eventviz/services/eventviz/source"
)

var (
	// ErrNoGraph is returned when no analysis has completed yet.
	ErrNoGraph = errors.New("no graph analysed yet")

	// ErrSnapshotsDisabled is returned when no snapshot store is configured.
	ErrSnapshotsDisabled = errors.New("snapshot persistence not configured")
)

// ListenerSource produces the event registrations a run starts from.
type ListenerSource func(ctx context.Context) (graph.EventListenerMap, error)

// RunHook is called after every completed analysis run.
type RunHook func(res *graph.AnalysisResult)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSnapshotManager enables snapshot persistence.
func WithSnapshotManager(m *graph.SnapshotManager) ServiceOption {
	return func(s *Service) {
		s.snapshotMgr = m
	}
}

// WithLocator replaces the composer.json backed source locator.
func WithLocator(l source.Locator) ServiceOption {
	return func(s *Service) {
		s.inner = l
	}
}

// WithListenerSource replaces the configured listener registry.
func WithListenerSource(fn ListenerSource) ServiceOption {
	return func(s *Service) {
		s.listeners = fn
	}
}

// WithRunHook registers fn to run after each completed analysis, in
// the goroutine that ran it.
func WithRunHook(fn RunHook) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.onRun = append(s.onRun, fn)
		}
	}
}

// Service owns the analysis state of one Laravel project.
//
// Description:
//
//	Source lookups go through an LRU cache in front of the locator.
//	Analyze rebuilds the graph from the listener registry; the latest
//	successful result is kept and pushed to live clients. File changes
//	reported by Refresh invalidate the affected cache entries before the
//	rebuild.
//
// Thread Safety:
//
//	Safe for concurrent use. Analysis runs are serialised.
type Service struct {
	projectRoot string
	cfg         *config.Config
	logger      *slog.Logger
	startedAt   time.Time

	inner       source.Locator
	composer    *source.ComposerLocator
	cache       *source.CachingLocator
	builder     *graph.Builder
	listeners   ListenerSource
	onRun       []RunHook
	snapshotMgr *graph.SnapshotManager
	hub         *Hub

	runMu   sync.Mutex
	mu      sync.RWMutex
	current *graph.AnalysisResult
}

// NewService creates a Service for the project at projectRoot.
//
// Inputs:
//   - ctx: Context for indexing the project's PSR-4 roots.
//   - projectRoot: The Laravel project directory.
//   - cfg: Loaded configuration. Nil uses config.Default().
//   - opts: Service options.
//
// Outputs:
//   - *Service: Ready service with no graph yet.
//   - error: Configuration, composer.json or index errors.
func NewService(ctx context.Context, projectRoot string, cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		def, err := config.Default()
		if err != nil {
			return nil, err
		}
		cfg = def
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	s := &Service{
		projectRoot: abs,
		cfg:         cfg,
		logger:      slog.Default(),
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("project", abs))

	if s.inner == nil {
		composer, err := source.NewComposerLocator(ctx, abs,
			source.WithComposerFile(cfg.Source.ComposerJSON),
			source.WithComposerLogger(s.logger),
		)
		if err != nil {
			return nil, err
		}
		s.composer = composer
		s.inner = composer
	}

	s.cache, err = source.NewCachingLocator(s.inner, cfg.Source.CacheSize)
	if err != nil {
		return nil, err
	}

	s.builder, err = graph.NewBuilder(s.cache, cfg.BuilderOptions(abs, s.logger)...)
	if err != nil {
		return nil, err
	}

	if s.listeners == nil {
		s.listeners = func(ctx context.Context) (graph.EventListenerMap, error) {
			return registry.Resolve(ctx, abs, cfg.Listeners.File, cfg.Listeners.Provider, s.logger)
		}
	}
	s.hub = NewHub(s.logger)
	return s, nil
}

// ProjectRoot returns the absolute project directory.
func (s *Service) ProjectRoot() string {
	return s.projectRoot
}

// Config returns the configuration the service runs with.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Hub returns the live update hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// SnapshotManager returns the snapshot store, or nil.
func (s *Service) SnapshotManager() *graph.SnapshotManager {
	return s.snapshotMgr
}

// Analyze rebuilds the dispatch graph.
//
// Description:
//
//	Reads the listener registry and runs the builder. A completed or
//	truncated run replaces the current result and is broadcast; a run
//	ended by ctx is returned with its error and not kept.
//
// Outputs:
//   - *graph.AnalysisResult: The run result.
//   - error: registry.ErrNoRegistry, registry errors or a context error.
func (s *Service) Analyze(ctx context.Context) (*graph.AnalysisResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	events, err := s.listeners(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading listeners: %w", err)
	}

	result, err := s.builder.AddEventsToGraph(ctx, events)
	if err != nil {
		return result, err
	}

	s.mu.Lock()
	s.current = result
	s.mu.Unlock()

	s.hub.Broadcast(updateFor(result))
	for _, hook := range s.onRun {
		hook(result)
	}
	return result, nil
}

// Current returns the latest completed result, or nil.
func (s *Service) Current() *graph.AnalysisResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Theme returns the configured diagram colors.
func (s *Service) Theme() render.Theme {
	c := s.cfg.Theme.Colors
	return render.Theme{Event: c.Event, Listener: c.Listener, Job: c.Job}
}

// Mermaid renders the current graph.
func (s *Service) Mermaid() (string, error) {
	cur := s.Current()
	if cur == nil {
		return "", ErrNoGraph
	}
	return render.Mermaid(cur.Graph, s.Theme()), nil
}

// Refresh reacts to changed files: the classes they declared or now
// declare are dropped from the source cache and the graph is rebuilt.
func (s *Service) Refresh(ctx context.Context, paths []string) (*graph.AnalysisResult, error) {
	if s.composer != nil {
		classes := s.composer.Refresh(paths)
		s.cache.Invalidate(classes...)
		s.logger.Info("source changes",
			slog.Int("files", len(paths)),
			slog.Int("classes", len(classes)))
	} else {
		s.cache.Purge()
	}
	return s.Analyze(ctx)
}

// WatchDirs returns the directories whose changes affect the graph: the
// PSR-4 roots and the directories of the listener registry sources.
func (s *Service) WatchDirs() []string {
	set := make(map[string]struct{})
	if s.composer != nil {
		for _, r := range s.composer.Roots() {
			set[r.Dir] = struct{}{}
		}
	}
	for _, p := range []string{s.cfg.Listeners.File, s.cfg.Listeners.Provider} {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.projectRoot, p)
		}
		set[filepath.Dir(p)] = struct{}{}
	}
	dirs := make([]string, 0, len(set))
	for d := range set {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// Watch rebuilds the graph whenever a watched file changes, until ctx
// ends.
func (s *Service) Watch(ctx context.Context, opts ...source.WatcherOption) error {
	opts = append([]source.WatcherOption{
		source.WithWatcherLogger(s.logger),
		source.WithExtensions(".php", ".yaml", ".yml", ".json"),
	}, opts...)
	w, err := source.NewWatcher(s.WatchDirs(), opts...)
	if err != nil {
		return err
	}
	defer w.Close()

	return w.Run(ctx, func(ctx context.Context, paths []string) {
		if _, err := s.Refresh(ctx, paths); err != nil {
			s.logger.Warn("rebuild after change failed", slog.String("error", err.Error()))
		}
	})
}

// Impact maps a unified diff onto the current graph.
func (s *Service) Impact(ctx context.Context, diff []byte) (*impact.Report, error) {
	cur := s.Current()
	if cur == nil {
		return nil, ErrNoGraph
	}
	opts := impact.Options{ProjectRoot: s.projectRoot}
	var lookup impact.ClassLookup
	if s.composer != nil {
		lookup = s.composer.Index()
		opts.Roots = s.composer.Roots()
	}
	return impact.Analyze(ctx, diff, lookup, cur.Graph, opts)
}

// SaveSnapshot stores the current graph.
func (s *Service) SaveSnapshot(ctx context.Context, label string) (*graph.SnapshotMetadata, error) {
	if s.snapshotMgr == nil {
		return nil, ErrSnapshotsDisabled
	}
	cur := s.Current()
	if cur == nil {
		return nil, ErrNoGraph
	}
	return s.snapshotMgr.Save(ctx, cur.Graph, label)
}

// Close disconnects live clients.
func (s *Service) Close() {
	s.hub.Close()
}
