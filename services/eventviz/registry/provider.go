// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/eventviz/services/eventviz/ast"
	"github.com/AleutianAI/eventviz/services/eventviz/codeparser"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

// listenProperty is the provider property holding registrations.
const listenProperty = "listen"

// eventFacades are the subjects whose listen() calls register listeners.
var eventFacades = []string{`\Illuminate\Support\Facades\Event`, `\Event`}

// DiscoverFromProvider reads listener registrations from the source of
// an EventServiceProvider.
//
// Description:
//
//	Two registration forms are read. The $listen property array, keyed
//	by event with a list of listeners per event, and Event::listen(event,
//	listener) calls. Events and listeners may be written as X::class
//	constants, resolved through the file's imports, or as string
//	literals taken as fully qualified. A listener may also be a
//	[X::class, 'method'] pair or a closure.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - content: The provider source.
//   - unit: Label for errors, usually the file path.
//
// Outputs:
//   - graph.EventListenerMap: The normalized registrations.
//   - error: Wraps ast.ErrParseFailure or codeparser.ErrUnsupportedSyntax.
func DiscoverFromProvider(ctx context.Context, content []byte, unit string) (graph.EventListenerMap, error) {
	tree, err := ast.NewPHPParser().Parse(ctx, content, unit)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	p, err := codeparser.New(tree)
	if err != nil {
		return nil, err
	}

	raw := make(map[string][]any)
	if err := readListenProperty(p, tree.Root(), raw); err != nil {
		return nil, fmt.Errorf("reading $%s of %s: %w", listenProperty, unit, err)
	}
	if err := readListenCalls(p, tree.Root(), raw); err != nil {
		return nil, fmt.Errorf("reading listen calls of %s: %w", unit, err)
	}
	return Normalize(raw), nil
}

func readListenProperty(p *codeparser.CodeParser, root ast.Node, raw map[string][]any) error {
	for _, prop := range root.Find(ast.OfKind(ast.KindProperty)) {
		v, ok := prop.FindFirst(ast.OfKind(ast.KindVariable))
		if !ok || v.VariableName() != listenProperty {
			continue
		}
		arr, ok := prop.FindFirst(ast.OfKind(ast.KindArray))
		if !ok {
			return nil
		}

		for _, el := range arr.NamedChildren() {
			if el.Kind() != ast.KindArrayElement || len(el.NamedChildren()) != 2 {
				continue
			}
			event, ok, err := nameOf(p, el.FirstNamedChild())
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			listeners := el.LastNamedChild()
			if listeners.Kind() != ast.KindArray {
				continue
			}
			for _, l := range listeners.NamedChildren() {
				if l.Kind() != ast.KindArrayElement {
					continue
				}
				entry, ok, err := listenerOf(p, l.LastNamedChild())
				if err != nil {
					return err
				}
				if ok {
					raw[event] = append(raw[event], entry)
				}
			}
		}
		return nil
	}
	return nil
}

func readListenCalls(p *codeparser.CodeParser, root ast.Node, raw map[string][]any) error {
	for _, call := range root.Find(ast.OfKind(ast.KindStaticCall)) {
		if call.Field("name").Text() != "listen" {
			continue
		}
		scope := call.Field("scope")
		if scope.Kind() != ast.KindName {
			continue
		}
		facade, err := isEventFacade(p, scope.Text())
		if err != nil {
			return err
		}
		if !facade {
			continue
		}

		args := call.Field("arguments")
		if args.IsZero() {
			args = call.ChildOfKind(ast.KindArguments)
		}
		var values []ast.Node
		for _, a := range args.NamedChildren() {
			if a.Kind() == ast.KindArgument {
				values = append(values, a.LastNamedChild())
			}
		}
		if len(values) < 2 {
			continue
		}

		event, ok, err := nameOf(p, values[0])
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		entry, ok, err := listenerOf(p, values[1])
		if err != nil {
			return err
		}
		if ok {
			raw[event] = append(raw[event], entry)
		}
	}
	return nil
}

func isEventFacade(p *codeparser.CodeParser, name string) (bool, error) {
	for _, f := range eventFacades {
		same, err := p.AreClassesSame(name, f)
		if err != nil {
			return false, err
		}
		if same {
			return true, nil
		}
	}
	return false, nil
}

// nameOf resolves an X::class constant or string literal to a class name.
func nameOf(p *codeparser.CodeParser, n ast.Node) (string, bool, error) {
	if name, ok := codeparser.ClassConstantName(n); ok {
		fq, err := p.FullyQualify(name)
		if err != nil {
			return "", false, err
		}
		return fq, true, nil
	}
	if s, ok := n.StringValue(); ok && s != "" {
		return strings.TrimPrefix(s, `\`), true, nil
	}
	return "", false, nil
}

// listenerOf converts one listener expression to a raw registry entry.
func listenerOf(p *codeparser.CodeParser, n ast.Node) (any, bool, error) {
	switch n.Kind() {
	case ast.KindClosure:
		return Closure{}, true, nil
	case ast.KindArray:
		var parts []any
		for _, el := range n.NamedChildren() {
			if el.Kind() != ast.KindArrayElement {
				continue
			}
			v := el.LastNamedChild()
			if len(parts) == 0 {
				name, ok, err := nameOf(p, v)
				if err != nil || !ok {
					return nil, false, err
				}
				parts = append(parts, name)
				continue
			}
			method, ok := v.StringValue()
			if !ok {
				return nil, false, nil
			}
			parts = append(parts, method)
		}
		return parts, len(parts) == 2, nil
	default:
		name, ok, err := nameOf(p, n)
		if err != nil || !ok {
			return nil, false, err
		}
		return name, true, nil
	}
}
