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
	"github.com/AleutianAI/eventviz/services/eventviz/ast"
)

// Declared dispatch method names read when auto discovery is off.
const (
	DeclaredJobsMethod   = "dispatchesJobs"
	DeclaredEventsMethod = "dispatchesEvents"
)

// GetDeclaredDispatches reads the classes a unit declares it dispatches.
//
// Description:
//
//	Finds the method named methodName and collects every X::class entry
//	of the array literals it returns, fully qualified and in literal
//	order. Units without the method yield nothing.
//
// Example:
//
//	public static function dispatchesJobs(): array
//	{
//	    return [SendMail::class, \App\Jobs\Audit::class];
//	}
func (p *CodeParser) GetDeclaredDispatches(methodName string) ([]string, error) {
	method, ok := p.root.FindFirst(func(n ast.Node) bool {
		return n.Kind() == ast.KindMethod && n.Field("name").Text() == methodName
	})
	if !ok {
		return nil, nil
	}

	var classes []string
	for _, ret := range method.Find(ast.OfKind(ast.KindReturn)) {
		arr := unwrapParens(ret.FirstNamedChild())
		if arr.Kind() != ast.KindArray {
			continue
		}
		for _, el := range arr.NamedChildren() {
			if el.Kind() != ast.KindArrayElement {
				continue
			}
			name, ok := ClassConstantName(el.LastNamedChild())
			if !ok {
				continue
			}
			fq, err := p.FullyQualify(name)
			if err != nil {
				return nil, err
			}
			classes = appendUnique(classes, fq)
		}
	}

	return classes, nil
}

// ClassConstantName returns X for an X::class expression as written.
func ClassConstantName(n ast.Node) (string, bool) {
	if n.Kind() != ast.KindClassConstant {
		return "", false
	}
	children := n.NamedChildren()
	if len(children) < 2 || children[len(children)-1].Text() != "class" {
		return "", false
	}
	if children[0].Kind() != ast.KindName {
		return "", false
	}
	return children[0].Text(), true
}
