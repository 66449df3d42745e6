// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codeparser resolves dispatch calls in a parsed PHP unit.
//
// A CodeParser answers three questions about one syntax tree: which static
// calls, instance method calls and bare function calls match a dispatch
// pattern, and which concrete classes those calls dispatch. Names are
// fully qualified against the unit's imports and namespace.
package codeparser

import (
	"strings"
	"sync"

	"github.com/AleutianAI/eventviz/services/eventviz/ast"
)

// NoDispatcher is the dispatcher reported for bare function calls.
const NoDispatcher = "none"

// ResolvedCall is one dispatched class found at one call site.
type ResolvedCall struct {
	// DispatcherClass is the class or facade the call went through, or
	// NoDispatcher for function calls.
	DispatcherClass string `json:"dispatcher_class"`

	// DispatchedClass is the fully-qualified dispatched class.
	DispatchedClass string `json:"dispatched_class"`

	// Method is the called method or function name.
	Method string `json:"method"`

	// Line is the 1-based line of the call site.
	Line int `json:"line"`
}

// CodeParser resolves calls within a single SyntaxTree.
//
// Description:
//
//	The import table is built on first use. All resolver methods are
//	read-only over the tree.
//
// Thread Safety:
//
//	Safe for concurrent use. The tree must stay open while the parser is
//	in use.
type CodeParser struct {
	tree *ast.SyntaxTree
	root ast.Node

	importsOnce sync.Once
	imports     *ImportTable
	importsErr  error
}

// New creates a CodeParser over tree.
func New(tree *ast.SyntaxTree) (*CodeParser, error) {
	if tree == nil {
		return nil, ErrNilTree
	}
	return &CodeParser{tree: tree, root: tree.Root()}, nil
}

// Imports returns the unit's import table, building it on first call.
func (p *CodeParser) Imports() (*ImportTable, error) {
	p.importsOnce.Do(func() {
		p.imports, p.importsErr = BuildImportTable(p.root)
	})
	return p.imports, p.importsErr
}

// FullyQualify resolves name against the unit's imports and namespace.
//
// Outputs:
//   - string: The fully-qualified name.
//   - error: Wraps ErrUnsupportedSyntax when the unit's imports cannot be
//     interpreted.
func (p *CodeParser) FullyQualify(name string) (string, error) {
	table, err := p.Imports()
	if err != nil {
		return "", err
	}
	return table.FullyQualify(name), nil
}

// AreClassesSame reports whether two names refer to the same class once
// both are fully qualified in this unit.
func (p *CodeParser) AreClassesSame(a, b string) (bool, error) {
	fa, err := p.FullyQualify(a)
	if err != nil {
		return false, err
	}
	fb, err := p.FullyQualify(b)
	if err != nil {
		return false, err
	}
	return fa == fb, nil
}

// qualifySubject resolves a configured subject class. A name containing a
// namespace separator is already fully qualified, with or without the
// leading separator; a bare name resolves against the unit like a name
// written in the source.
func (p *CodeParser) qualifySubject(subject string) (string, error) {
	if strings.Contains(subject, `\`) {
		return trimLeadingSeparator(subject), nil
	}
	return p.FullyQualify(subject)
}
