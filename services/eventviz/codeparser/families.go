// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codeparser

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var codeparserTracer = otel.Tracer("eventviz.codeparser")

// ClassMethods pairs a dispatcher class or facade with the method names
// that dispatch through it.
type ClassMethods struct {
	Class   string   `yaml:"class" json:"class" validate:"required"`
	Methods []string `yaml:"methods" json:"methods" validate:"required,min=1,dive,required"`
}

// DispatchFamily is one group of call shapes meaning the same thing, such
// as "enqueue this job" or "publish this event".
type DispatchFamily struct {
	Static    []ClassMethods `yaml:"static" json:"static" validate:"dive"`
	Method    []ClassMethods `yaml:"method" json:"method" validate:"dive"`
	Functions []string       `yaml:"functions" json:"functions" validate:"dive,required"`
}

// IsEmpty reports whether the family matches nothing.
func (f DispatchFamily) IsEmpty() bool {
	return len(f.Static) == 0 && len(f.Method) == 0 && len(f.Functions) == 0
}

// FindDispatches runs every call shape of family over the unit.
//
// Description:
//
//	Static shapes run first, then method shapes, then functions, each in
//	configuration order; within a shape results follow source order.
//
// Inputs:
//   - ctx: Context for tracing and cancellation.
//   - family: The call shapes to match.
//
// Outputs:
//   - []ResolvedCall: All matches.
//   - error: The first resolver error, wrapped with the failing shape.
func (p *CodeParser) FindDispatches(ctx context.Context, family DispatchFamily) ([]ResolvedCall, error) {
	_, span := codeparserTracer.Start(ctx, "codeparser.CodeParser.FindDispatches",
		trace.WithAttributes(
			attribute.String("eventviz.unit", p.tree.Unit()),
			attribute.Int("eventviz.static_shapes", len(family.Static)),
			attribute.Int("eventviz.method_shapes", len(family.Method)),
			attribute.Int("eventviz.function_shapes", len(family.Functions)),
		),
	)
	defer span.End()

	var out []ResolvedCall

	fail := func(err error) ([]ResolvedCall, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, cm := range family.Static {
		for _, m := range cm.Methods {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
			calls, err := p.GetStaticCalls(cm.Class, m)
			if err != nil {
				return fail(fmt.Errorf("static %s::%s: %w", cm.Class, m, err))
			}
			out = append(out, calls...)
		}
	}

	for _, cm := range family.Method {
		for _, m := range cm.Methods {
			calls, err := p.GetMethodCalls(cm.Class, m)
			if err != nil {
				return fail(fmt.Errorf("method %s->%s: %w", cm.Class, m, err))
			}
			out = append(out, calls...)
		}
	}

	for _, fn := range family.Functions {
		calls, err := p.GetFunctionCalls(fn)
		if err != nil {
			return fail(fmt.Errorf("function %s: %w", fn, err))
		}
		out = append(out, calls...)
	}

	span.SetAttributes(attribute.Int("eventviz.resolved_calls", len(out)))
	return out, nil
}

// DefaultJobFamily returns the job dispatch shapes of a stock Laravel
// application: the Bus facade, the bus dispatcher contract and the
// dispatch helpers.
func DefaultJobFamily() DispatchFamily {
	busMethods := []string{"dispatch", "dispatchNow", "dispatchSync", "dispatchAfterResponse", "dispatchToQueue", "dispatchAfterCommit"}
	return DispatchFamily{
		Static: []ClassMethods{
			{Class: `\Bus`, Methods: busMethods},
			{Class: `\Illuminate\Support\Facades\Bus`, Methods: busMethods},
		},
		Method: []ClassMethods{
			{Class: `\Illuminate\Contracts\Bus\Dispatcher`, Methods: []string{"dispatch", "dispatchNow", "dispatchSync"}},
			{Class: `\Illuminate\Bus\Dispatcher`, Methods: []string{"dispatch", "dispatchNow", "dispatchSync"}},
		},
		Functions: []string{"dispatch", "dispatch_sync", "dispatch_now"},
	}
}

// DefaultEventFamily returns the event dispatch shapes of a stock Laravel
// application.
func DefaultEventFamily() DispatchFamily {
	return DispatchFamily{
		Static: []ClassMethods{
			{Class: `\Event`, Methods: []string{"dispatch"}},
			{Class: `\Illuminate\Support\Facades\Event`, Methods: []string{"dispatch"}},
		},
		Method: []ClassMethods{
			{Class: `\Illuminate\Contracts\Events\Dispatcher`, Methods: []string{"dispatch"}},
			{Class: `\Illuminate\Events\Dispatcher`, Methods: []string{"dispatch"}},
		},
		Functions: []string{"event"},
	}
}
