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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var graphTracer = otel.Tracer("eventviz.graph")

// Package-level Prometheus metrics for analysis runs.
var (
	// runDuration measures analysis run duration.
	//
	// Labels:
	//   - status: "success", "truncated" or "canceled"
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventviz",
			Subsystem: "graph",
			Name:      "run_duration_seconds",
			Help:      "Duration of dispatch graph analysis runs in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	// runsTotal counts analysis runs.
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventviz",
			Subsystem: "graph",
			Name:      "runs_total",
			Help:      "Total number of dispatch graph analysis runs.",
		},
		[]string{"status"},
	)

	// classesAnalysedTotal counts successfully analysed classes.
	classesAnalysedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventviz",
			Subsystem: "graph",
			Name:      "classes_analysed_total",
			Help:      "Total number of classes analysed successfully.",
		},
	)

	// classFailuresTotal counts classes that could not be analysed.
	//
	// Labels:
	//   - kind: a FailureKind value
	classFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventviz",
			Subsystem: "graph",
			Name:      "class_failures_total",
			Help:      "Total number of classes whose analysis failed, by kind.",
		},
		[]string{"kind"},
	)

	// graphNodes tracks the node count of the last finished run.
	graphNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventviz",
			Subsystem: "graph",
			Name:      "last_run_nodes",
			Help:      "Number of nodes in the graph of the last finished run.",
		},
	)
)

func startRunSpan(ctx context.Context, eventCount int) (context.Context, trace.Span) {
	return graphTracer.Start(ctx, "graph.Builder.AddEventsToGraph",
		trace.WithAttributes(attribute.Int("eventviz.events", eventCount)),
	)
}

func setRunSpanResult(span trace.Span, res *AnalysisResult, err error) {
	span.SetAttributes(
		attribute.String("eventviz.run_id", res.RunID),
		attribute.Int("eventviz.nodes", res.Stats.NodesCreated),
		attribute.Int("eventviz.edges", res.Stats.EdgesCreated),
		attribute.Int("eventviz.failures", len(res.Failures)),
		attribute.Bool("eventviz.truncated", res.Truncated),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func startClassSpan(ctx context.Context, class string) (context.Context, trace.Span) {
	return graphTracer.Start(ctx, "graph.Builder.AnalyseClass",
		trace.WithAttributes(attribute.String("eventviz.class", class)),
	)
}

func setClassSpanResult(span trace.Span, jobs, events int) {
	span.SetAttributes(
		attribute.Int("eventviz.jobs", jobs),
		attribute.Int("eventviz.dispatched_events", events),
	)
}

func setClassSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.String("eventviz.failure_kind", string(ClassifyFailure(err))))
	span.SetStatus(codes.Error, err.Error())
}

// recordRunMetrics records one finished run.
//
// Thread Safety: Safe for concurrent use.
func recordRunMetrics(duration time.Duration, res *AnalysisResult, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "canceled"
	case res.Truncated:
		status = "truncated"
	}
	runDuration.WithLabelValues(status).Observe(duration.Seconds())
	runsTotal.WithLabelValues(status).Inc()
	graphNodes.Set(float64(res.Stats.NodesCreated))
}

func recordClassAnalysed() {
	classesAnalysedTotal.Inc()
}

func recordClassFailure(kind FailureKind) {
	classFailuresTotal.WithLabelValues(string(kind)).Inc()
}
