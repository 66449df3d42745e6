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
	"fmt"
	"strings"

	"github.com/AleutianAI/eventviz/services/eventviz/ast"
)

// GetStaticCalls finds calls of the form Subject::method(arg, ...).
//
// Description:
//
//	A static call matches when its method name equals methodName and its
//	class reference names the same class as subjectClass in this unit. The
//	first argument is resolved with ResolveClassesFromArgument and one
//	ResolvedCall is emitted per resolved class. Results follow source
//	order.
//
// Inputs:
//   - subjectClass: Class or facade as configured, e.g. "\Event" or "Bus".
//   - methodName: Method to match, e.g. "dispatch".
//
// Outputs:
//   - []ResolvedCall: Matches in source order. Empty when none.
//   - error: Wraps ErrUnsupportedSyntax from import resolution.
//
// Example:
//
//	calls, err := p.GetStaticCalls(`\Event`, "dispatch")
func (p *CodeParser) GetStaticCalls(subjectClass, methodName string) ([]ResolvedCall, error) {
	subject, err := p.qualifySubject(subjectClass)
	if err != nil {
		return nil, err
	}

	var out []ResolvedCall

	for _, call := range p.root.Find(ast.OfKind(ast.KindStaticCall)) {
		if call.Field("name").Text() != methodName {
			continue
		}
		scope := call.Field("scope")
		if scope.Kind() != ast.KindName {
			continue
		}
		scopeClass, err := p.FullyQualify(scope.Text())
		if err != nil {
			return nil, err
		}
		if scopeClass != subject {
			continue
		}

		resolved, err := p.resolveCall(call, dispatcherName(subjectClass), methodName)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}

	return out, nil
}

// GetMethodCalls finds calls of the form $receiver->method(arg, ...).
//
// Description:
//
//	The receiver must be a variable whose resolved classes are exactly the
//	subject class, or a property access whose resolved class is the
//	subject class. A receiver that is itself a static call, such as
//	Bus::chain([...])->dispatch(), fails with ErrUnsupportedSyntax. Other
//	receivers never match.
//
// Outputs:
//   - []ResolvedCall: Matches in source order.
//   - error: Wraps ErrUnsupportedSyntax.
func (p *CodeParser) GetMethodCalls(subjectClass, methodName string) ([]ResolvedCall, error) {
	subject, err := p.qualifySubject(subjectClass)
	if err != nil {
		return nil, err
	}

	var out []ResolvedCall

	for _, call := range p.root.Find(ast.OfKind(ast.KindMethodCall)) {
		if call.Field("name").Text() != methodName {
			continue
		}

		receiver := unwrapParens(call.Field("object"))
		match := false

		switch receiver.Kind() {
		case ast.KindVariable:
			classes, err := p.ResolveClassesFromVariable(receiver)
			if err != nil {
				return nil, err
			}
			match = len(classes) == 1 && classes[0] == subject
		case ast.KindPropertyFetch:
			class, ok, err := p.ResolveClassFromProperty(receiver)
			if err != nil {
				return nil, err
			}
			match = ok && class == subject
		case ast.KindStaticCall:
			return nil, fmt.Errorf("%w: method call on static call result on line %d", ErrUnsupportedSyntax, call.Line())
		}

		if !match {
			continue
		}

		resolved, err := p.resolveCall(call, dispatcherName(subjectClass), methodName)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}

	return out, nil
}

// GetFunctionCalls finds statement-level calls to the bare function
// functionName. Calls nested inside larger expressions are not matched.
func (p *CodeParser) GetFunctionCalls(functionName string) ([]ResolvedCall, error) {
	var out []ResolvedCall

	for _, stmt := range p.root.Find(ast.OfKind(ast.KindExpressionStatement)) {
		call := stmt.FirstNamedChild()
		if call.Kind() != ast.KindFunctionCall {
			continue
		}
		fn := call.Field("function")
		if fn.Kind() != ast.KindName || trimLeadingSeparator(fn.Text()) != functionName {
			continue
		}

		resolved, err := p.resolveCall(call, NoDispatcher, functionName)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved...)
	}

	return out, nil
}

// resolveCall resolves the first argument of call into ResolvedCalls.
func (p *CodeParser) resolveCall(call ast.Node, dispatcher, method string) ([]ResolvedCall, error) {
	first := firstArgument(call)
	if first.IsZero() {
		return nil, nil
	}

	classes, err := p.ResolveClassesFromArgument(first)
	if err != nil {
		return nil, err
	}

	out := make([]ResolvedCall, 0, len(classes))
	for _, class := range classes {
		out = append(out, ResolvedCall{
			DispatcherClass: dispatcher,
			DispatchedClass: class,
			Method:          method,
			Line:            call.Line(),
		})
	}
	return out, nil
}

// firstArgument returns the first argument node of a call, or the zero Node.
func firstArgument(call ast.Node) ast.Node {
	args := call.Field("arguments")
	if args.IsZero() {
		args = call.ChildOfKind(ast.KindArguments)
	}
	return args.ChildOfKind(ast.KindArgument)
}

// dispatcherName is the subject as reported on a ResolvedCall.
func dispatcherName(subject string) string {
	return strings.TrimPrefix(subject, `\`)
}
