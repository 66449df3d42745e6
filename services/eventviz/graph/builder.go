// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/eventviz/services/eventviz/ast"
	"github.com/AleutianAI/eventviz/services/eventviz/codeparser"
	"github.com/AleutianAI/eventviz/services/eventviz/source"
)

// DefaultAppPrefix is the event name prefix of application events.
const DefaultAppPrefix = "App"

// EventListenerMap maps an event name to its listener identifiers, each a
// class name or "Class@handlerMethod".
type EventListenerMap map[string][]string

// ProgressFunc is called after each class of a run is processed.
type ProgressFunc func(progress BuildProgress)

// BuildProgress reports the state of a running analysis.
type BuildProgress struct {
	ClassesProcessed int
	QueueLength      int
	NodesCreated     int
	EdgesCreated     int
}

// BuilderOptions configures Builder behavior.
type BuilderOptions struct {
	// ProjectRoot is recorded on produced graphs.
	ProjectRoot string

	// MaxNodes bounds a run. When reached the run stops and the result is
	// marked Truncated. Default: DefaultMaxNodes.
	MaxNodes int

	// ClassesToIgnore are substrings; a class or event containing any of
	// them contributes no edges.
	ClassesToIgnore []string

	// ShowFrameworkEvents includes events whose name lacks AppPrefix.
	ShowFrameworkEvents bool

	// AppPrefix is the application's own event name prefix.
	// Default: DefaultAppPrefix.
	AppPrefix string

	// ShowHandlerMethods renders listener handler methods in node names.
	ShowHandlerMethods bool

	// AutoDiscover resolves dispatch calls from source. When false the
	// declared dispatchesJobs/dispatchesEvents methods are read instead.
	// Default: true.
	AutoDiscover bool

	// Jobs and Events are the dispatch call shapes per family.
	Jobs   codeparser.DispatchFamily
	Events codeparser.DispatchFamily

	// MaxFileSize is the largest class source parsed. Default:
	// ast.DefaultMaxFileSize.
	MaxFileSize int64

	// Logger receives per-class diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// ProgressCallback may be nil.
	ProgressCallback ProgressFunc
}

// DefaultBuilderOptions returns sensible defaults.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		MaxNodes:     DefaultMaxNodes,
		AppPrefix:    DefaultAppPrefix,
		AutoDiscover: true,
		Jobs:         codeparser.DefaultJobFamily(),
		Events:       codeparser.DefaultEventFamily(),
	}
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*BuilderOptions)

// WithProjectRoot sets the project root recorded on graphs.
func WithProjectRoot(root string) BuilderOption {
	return func(o *BuilderOptions) {
		o.ProjectRoot = root
	}
}

// WithBuilderMaxNodes sets the maximum number of nodes per run.
func WithBuilderMaxNodes(n int) BuilderOption {
	return func(o *BuilderOptions) {
		o.MaxNodes = n
	}
}

// WithClassesToIgnore sets the ignore-list substrings.
func WithClassesToIgnore(patterns []string) BuilderOption {
	return func(o *BuilderOptions) {
		o.ClassesToIgnore = patterns
	}
}

// WithShowFrameworkEvents includes framework events.
func WithShowFrameworkEvents(show bool) BuilderOption {
	return func(o *BuilderOptions) {
		o.ShowFrameworkEvents = show
	}
}

// WithAppPrefix sets the application event prefix.
func WithAppPrefix(prefix string) BuilderOption {
	return func(o *BuilderOptions) {
		o.AppPrefix = prefix
	}
}

// WithShowHandlerMethods renders handler methods in listener names.
func WithShowHandlerMethods(show bool) BuilderOption {
	return func(o *BuilderOptions) {
		o.ShowHandlerMethods = show
	}
}

// WithAutoDiscover toggles call resolution from source.
func WithAutoDiscover(auto bool) BuilderOption {
	return func(o *BuilderOptions) {
		o.AutoDiscover = auto
	}
}

// WithFamilies sets the job and event dispatch shapes. Empty families
// fall back to the defaults.
func WithFamilies(jobs, events codeparser.DispatchFamily) BuilderOption {
	return func(o *BuilderOptions) {
		if !jobs.IsEmpty() {
			o.Jobs = jobs
		}
		if !events.IsEmpty() {
			o.Events = events
		}
	}
}

// WithMaxFileSize bounds the size of parsed class sources.
func WithMaxFileSize(bytes int64) BuilderOption {
	return func(o *BuilderOptions) {
		o.MaxFileSize = bytes
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(o *BuilderOptions) {
		o.Logger = logger
	}
}

// WithProgressCallback sets the progress callback.
func WithProgressCallback(fn ProgressFunc) BuilderOption {
	return func(o *BuilderOptions) {
		o.ProgressCallback = fn
	}
}

// FailureKind classifies why a class could not be analysed.
type FailureKind string

const (
	FailureSourceNotFound    FailureKind = "source_not_found"
	FailureParse             FailureKind = "parse_failure"
	FailureUnsupportedSyntax FailureKind = "unsupported_syntax"
	FailureUnknown           FailureKind = "unknown"
)

// ClassifyFailure maps an analysis error to its FailureKind.
func ClassifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, source.ErrSourceNotFound):
		return FailureSourceNotFound
	case errors.Is(err, ast.ErrParseFailure):
		return FailureParse
	case errors.Is(err, codeparser.ErrUnsupportedSyntax):
		return FailureUnsupportedSyntax
	default:
		return FailureUnknown
	}
}

// ClassFailure records a class whose analysis failed. The run continues.
type ClassFailure struct {
	Class   string      `json:"class"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

// Error implements error.
func (f ClassFailure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Class, f.Kind, f.Message)
}

// Unwrap returns the underlying error.
func (f ClassFailure) Unwrap() error {
	return f.Err
}

// AnalysisStats summarises a run.
type AnalysisStats struct {
	ClassesAnalysed int   `json:"classes_analysed"`
	ClassesIgnored  int   `json:"classes_ignored"`
	ClassesFailed   int   `json:"classes_failed"`
	CallsResolved   int   `json:"calls_resolved"`
	NodesCreated    int   `json:"nodes_created"`
	EdgesCreated    int   `json:"edges_created"`
	DurationMilli   int64 `json:"duration_milli"`
}

// AnalysisResult is the outcome of one run.
type AnalysisResult struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Graph is frozen when the run completed or was truncated.
	Graph *Graph `json:"-"`

	// Failures lists classes that could not be analysed, in run order.
	Failures []ClassFailure `json:"failures"`

	Stats AnalysisStats `json:"stats"`

	// Truncated is set when MaxNodes stopped the run.
	Truncated bool `json:"truncated"`

	// Incomplete is set when the context ended the run early.
	Incomplete bool `json:"incomplete"`
}

// ClassAnalysis is the dispatch findings for one class.
type ClassAnalysis struct {
	Class  string
	Jobs   []codeparser.ResolvedCall
	Events []codeparser.ResolvedCall
}

// Builder constructs dispatch graphs from event registrations.
//
// The builder holds no run state and can be reused. Each AddEventsToGraph
// call creates a new graph.
//
// Thread Safety:
//
//	Safe for concurrent use. Each run operates on its own state.
type Builder struct {
	locator source.Locator
	parser  *ast.PHPParser
	options BuilderOptions
	logger  *slog.Logger
}

// NewBuilder creates a Builder reading class sources from locator.
//
// Example:
//
//	builder, err := NewBuilder(locator,
//	    WithClassesToIgnore([]string{"Telescope"}),
//	    WithShowHandlerMethods(true),
//	)
func NewBuilder(locator source.Locator, opts ...BuilderOption) (*Builder, error) {
	if locator == nil {
		return nil, fmt.Errorf("locator must not be nil")
	}

	options := DefaultBuilderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxNodes <= 0 {
		options.MaxNodes = DefaultMaxNodes
	}
	if options.AppPrefix == "" {
		options.AppPrefix = DefaultAppPrefix
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		locator: locator,
		parser:  ast.NewPHPParser(ast.WithParserLogger(logger), ast.WithMaxFileSize(options.MaxFileSize)),
		options: options,
		logger:  logger,
	}, nil
}

// Options returns the effective options.
func (b *Builder) Options() BuilderOptions {
	return b.options
}

// runState holds mutable state of a single run.
type runState struct {
	graph    *Graph
	result   *AnalysisResult
	analysed map[string]*ClassAnalysis
	enqueued map[string]struct{} // node IDs ever queued
	queue    []VisualizerNode
	start    time.Time
}

// AddEventsToGraph builds the dispatch graph reachable from events.
//
// Description:
//
//	Events are visited in sorted name order. Events without the
//	application prefix are skipped unless framework events are shown.
//	Every listener not on the ignore-list is connected to its event and
//	queued. Queued classes are then analysed one at a time from a FIFO
//	queue; each class is analysed at most once per run, and every
//	dispatched class found becomes a new edge and, the first time it is
//	seen, a queued node. A class that fails to analyse is recorded in
//	Failures and contributes no further edges.
//
// Inputs:
//   - ctx: Checked between classes.
//   - events: The registered events and listeners.
//
// Outputs:
//   - *AnalysisResult: Never nil. Graph is always set.
//   - error: Non-nil only when ctx ended the run; the partial result is
//     still returned.
func (b *Builder) AddEventsToGraph(ctx context.Context, events EventListenerMap) (*AnalysisResult, error) {
	ctx, span := startRunSpan(ctx, len(events))
	defer span.End()

	state := &runState{
		graph: NewGraph(b.options.ProjectRoot, WithMaxNodes(b.options.MaxNodes)),
		result: &AnalysisResult{
			RunID:    uuid.NewString(),
			Failures: []ClassFailure{},
		},
		analysed: make(map[string]*ClassAnalysis),
		enqueued: make(map[string]struct{}),
		start:    time.Now(),
	}
	state.result.Graph = state.graph

	logger := b.logger.With(slog.String("run_id", state.result.RunID))

	if !b.seed(state, events) {
		return b.finish(span, state, logger, nil), nil
	}

	for len(state.queue) > 0 {
		if err := ctx.Err(); err != nil {
			state.result.Incomplete = true
			return b.finish(span, state, logger, err), fmt.Errorf("analysis run %s: %w", state.result.RunID, err)
		}

		node := state.queue[0]
		state.queue = state.queue[1:]

		if !b.process(ctx, state, node, logger) {
			break
		}

		if b.options.ProgressCallback != nil {
			b.options.ProgressCallback(BuildProgress{
				ClassesProcessed: len(state.analysed),
				QueueLength:      len(state.queue),
				NodesCreated:     state.graph.NodeCount(),
				EdgesCreated:     state.graph.EdgeCount(),
			})
		}
	}

	return b.finish(span, state, logger, nil), nil
}

// seed connects registered events to their listeners. It returns false
// when the node limit was reached.
func (b *Builder) seed(state *runState, events EventListenerMap) bool {
	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !b.options.ShowFrameworkEvents && !strings.HasPrefix(name, b.options.AppPrefix) {
			continue
		}
		if b.isIgnored(name) {
			continue
		}

		for _, listener := range events[name] {
			if b.isIgnored(listener) {
				continue
			}
			to := NewListener(listener, b.options.ShowHandlerMethods)
			if !b.connect(state, NewEvent(name), to, ViaListens) {
				return false
			}
		}
	}
	return true
}

// process handles one dequeued node. It returns false when the run must
// stop because the node limit was reached.
func (b *Builder) process(ctx context.Context, state *runState, node VisualizerNode, logger *slog.Logger) bool {
	class := node.ClassName()

	if b.isIgnored(class) {
		state.result.Stats.ClassesIgnored++
		return true
	}

	analysis, seen := state.analysed[class]
	if !seen {
		var err error
		analysis, err = b.AnalyseClass(ctx, class)
		state.analysed[class] = analysis
		if err != nil {
			failure := ClassFailure{
				Class:   class,
				Kind:    ClassifyFailure(err),
				Message: err.Error(),
				Err:     err,
			}
			state.result.Failures = append(state.result.Failures, failure)
			state.result.Stats.ClassesFailed++
			recordClassFailure(failure.Kind)
			logger.Warn("class analysis failed",
				slog.String("class", class),
				slog.String("kind", string(failure.Kind)),
				slog.String("error", err.Error()))
		} else {
			state.result.Stats.ClassesAnalysed++
			state.result.Stats.CallsResolved += len(analysis.Jobs) + len(analysis.Events)
			recordClassAnalysed()
		}
	}

	if analysis == nil {
		return true
	}

	for _, call := range analysis.Jobs {
		if !b.connectDispatched(state, node, NewJob(call.DispatchedClass), call.Method) {
			return false
		}
	}
	for _, call := range analysis.Events {
		if !b.connectDispatched(state, node, NewEvent(call.DispatchedClass), call.Method) {
			return false
		}
	}
	return true
}

// connectDispatched adds an edge to a dispatched class unless it is
// ignored. It returns false when the node limit was reached.
func (b *Builder) connectDispatched(state *runState, from, to VisualizerNode, via string) bool {
	if b.isIgnored(to.Class) {
		return true
	}
	return b.connect(state, from, to, via)
}

// connect adds the edge and queues the target the first time its node is
// seen. It returns false when the node limit was reached.
func (b *Builder) connect(state *runState, from, to VisualizerNode, via string) bool {
	added, err := state.graph.Connect(from, to, via)
	if err != nil {
		if errors.Is(err, ErrMaxNodesExceeded) {
			state.result.Truncated = true
			return false
		}
		b.logger.Error("unexpected graph error",
			slog.String("from", from.ID()),
			slog.String("to", to.ID()),
			slog.String("error", err.Error()))
		return true
	}
	if !added {
		return true
	}

	if _, ok := state.enqueued[to.ID()]; !ok {
		state.enqueued[to.ID()] = struct{}{}
		state.queue = append(state.queue, to)
	}
	return true
}

// finish freezes the graph and records run statistics and metrics.
func (b *Builder) finish(span trace.Span, state *runState, logger *slog.Logger, runErr error) *AnalysisResult {
	state.graph.Freeze()

	res := state.result
	res.Stats.NodesCreated = state.graph.NodeCount()
	res.Stats.EdgesCreated = state.graph.EdgeCount()
	res.Stats.DurationMilli = time.Since(state.start).Milliseconds()

	setRunSpanResult(span, res, runErr)
	recordRunMetrics(time.Since(state.start), res, runErr)

	logger.Info("analysis run finished",
		slog.Int("nodes", res.Stats.NodesCreated),
		slog.Int("edges", res.Stats.EdgesCreated),
		slog.Int("classes_analysed", res.Stats.ClassesAnalysed),
		slog.Int("classes_failed", res.Stats.ClassesFailed),
		slog.Bool("truncated", res.Truncated),
		slog.Bool("incomplete", res.Incomplete),
		slog.Int64("duration_ms", res.Stats.DurationMilli))

	return res
}

// AnalyseClass resolves the jobs and events one class dispatches.
//
// Description:
//
//	Locates and parses the class source, then runs the job family and
//	the event family over it, or reads the declared dispatch methods when
//	auto discovery is off. The syntax tree is released before returning.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - class: Fully-qualified class name without handler suffix.
//
// Outputs:
//   - *ClassAnalysis: Findings. Nil on error.
//   - error: Wraps source.ErrSourceNotFound, ast.ErrParseFailure or
//     codeparser.ErrUnsupportedSyntax where they apply.
func (b *Builder) AnalyseClass(ctx context.Context, class string) (*ClassAnalysis, error) {
	ctx, span := startClassSpan(ctx, class)
	defer span.End()

	content, err := b.locator.SourceTextOf(ctx, class)
	if err != nil {
		setClassSpanError(span, err)
		return nil, fmt.Errorf("locating %s: %w", class, err)
	}

	tree, err := b.parser.Parse(ctx, content, class)
	if err != nil {
		setClassSpanError(span, err)
		return nil, err
	}
	defer tree.Close()

	parser, err := codeparser.New(tree)
	if err != nil {
		setClassSpanError(span, err)
		return nil, err
	}

	analysis := &ClassAnalysis{Class: class}

	if b.options.AutoDiscover {
		if analysis.Jobs, err = parser.FindDispatches(ctx, b.options.Jobs); err != nil {
			setClassSpanError(span, err)
			return nil, fmt.Errorf("resolving jobs of %s: %w", class, err)
		}
		if analysis.Events, err = parser.FindDispatches(ctx, b.options.Events); err != nil {
			setClassSpanError(span, err)
			return nil, fmt.Errorf("resolving events of %s: %w", class, err)
		}
	} else {
		if analysis.Jobs, err = declaredCalls(parser, codeparser.DeclaredJobsMethod); err != nil {
			setClassSpanError(span, err)
			return nil, fmt.Errorf("reading declared jobs of %s: %w", class, err)
		}
		if analysis.Events, err = declaredCalls(parser, codeparser.DeclaredEventsMethod); err != nil {
			setClassSpanError(span, err)
			return nil, fmt.Errorf("reading declared events of %s: %w", class, err)
		}
	}

	setClassSpanResult(span, len(analysis.Jobs), len(analysis.Events))
	return analysis, nil
}

// declaredCalls turns a declared dispatch list into ResolvedCalls.
func declaredCalls(p *codeparser.CodeParser, method string) ([]codeparser.ResolvedCall, error) {
	classes, err := p.GetDeclaredDispatches(method)
	if err != nil {
		return nil, err
	}
	calls := make([]codeparser.ResolvedCall, 0, len(classes))
	for _, c := range classes {
		calls = append(calls, codeparser.ResolvedCall{
			DispatcherClass: codeparser.NoDispatcher,
			DispatchedClass: c,
			Method:          ViaDeclared,
		})
	}
	return calls, nil
}

// isIgnored reports whether name contains any ignore-list pattern.
func (b *Builder) isIgnored(name string) bool {
	for _, pattern := range b.options.ClassesToIgnore {
		if pattern != "" && strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}
