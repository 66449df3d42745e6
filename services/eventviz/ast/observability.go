// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	astTracer = otel.Tracer("eventviz.ast")
	astMeter  = otel.Meter("eventviz.ast")
)

// Parse metrics are OTel instruments so they flow through whichever meter
// provider telemetry.Setup installs.
var (
	parseDuration metric.Float64Histogram
	parsesTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the parse instruments once.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		parseDuration, err = astMeter.Float64Histogram(
			"eventviz_ast_parse_duration_seconds",
			metric.WithDescription("Duration of PHP source parsing in seconds."),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		parsesTotal, err = astMeter.Int64Counter(
			"eventviz_ast_parses_total",
			metric.WithDescription("Total number of PHP parse attempts."),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// startParseSpan opens the span covering one Parse call.
func startParseSpan(ctx context.Context, unit string, size int) (context.Context, trace.Span) {
	return astTracer.Start(ctx, "ast.PHPParser.Parse",
		trace.WithAttributes(
			attribute.String("eventviz.unit", unit),
			attribute.Int("eventviz.source_bytes", size),
		),
	)
}

// setParseSpanResult annotates a successful parse.
func setParseSpanResult(span trace.Span, hasErrors bool) {
	span.SetAttributes(attribute.Bool("eventviz.tree_has_errors", hasErrors))
}

// recordParseMetrics records one parse outcome. Instrument creation
// failures are swallowed; metrics never fail a parse.
//
// Thread Safety: Safe for concurrent use.
func recordParseMetrics(ctx context.Context, duration time.Duration, success bool) {
	if initMetrics() != nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	parseDuration.Record(ctx, duration.Seconds(), attrs)
	parsesTotal.Add(ctx, 1, attrs)
}
