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

// importEntry is one class import of a use declaration.
type importEntry struct {
	target string
	alias  string
	line   int
}

// ImportTable maps local class names to fully-qualified names for one
// source unit.
//
// Description:
//
//	Built from the unit's use declarations and its first namespace
//	declaration. Function and constant imports are not class imports and
//	are skipped. A declaration bundling several clauses, or a group
//	clause, is rejected with ErrUnsupportedSyntax because resolving it
//	would require guessing which clause applies.
//
// Thread Safety:
//
//	Immutable after construction; safe for concurrent use.
type ImportTable struct {
	entries   []importEntry
	namespace string
}

// BuildImportTable scans the tree rooted at root.
//
// Outputs:
//   - *ImportTable: The table. Never nil when err is nil.
//   - error: Wraps ErrUnsupportedSyntax for multi-name declarations.
func BuildImportTable(root ast.Node) (*ImportTable, error) {
	table := &ImportTable{}

	if ns, ok := root.FindFirst(ast.OfKind(ast.KindNamespace)); ok {
		table.namespace = trimLeadingSeparator(ns.Field("name").Text())
	}

	for _, decl := range root.Find(ast.OfKind(ast.KindUseDeclaration)) {
		if isNonClassImport(decl) {
			continue
		}

		var clauses []ast.Node
		for _, child := range decl.NamedChildren() {
			switch child.Kind() {
			case ast.KindUseClause:
				clauses = append(clauses, child)
			case ast.KindUseGroup:
				return nil, fmt.Errorf("%w: group use statement on line %d", ErrUnsupportedSyntax, decl.Line())
			}
		}

		if len(clauses) > 1 {
			return nil, fmt.Errorf("%w: multiple imports in one line on line %d", ErrUnsupportedSyntax, decl.Line())
		}
		if len(clauses) == 0 {
			continue
		}

		entry, ok := parseUseClause(clauses[0])
		if !ok {
			continue
		}
		table.entries = append(table.entries, entry)
	}

	return table, nil
}

// isNonClassImport reports whether a use declaration imports functions or
// constants.
func isNonClassImport(decl ast.Node) bool {
	if t := decl.Field("type"); !t.IsZero() {
		return t.Text() == "function" || t.Text() == "const"
	}
	for _, c := range decl.Children() {
		switch c.Type() {
		case "function", "const":
			return true
		case "namespace_use_clause":
			return false
		}
	}
	return false
}

// parseUseClause extracts target and alias from a use clause. The grammar
// has carried the alias as a field, as a nested aliasing clause and as a
// bare second name over time; all three shapes are accepted.
func parseUseClause(clause ast.Node) (importEntry, bool) {
	var names []ast.Node
	var alias string

	for _, c := range clause.NamedChildren() {
		switch {
		case c.Kind() == ast.KindName:
			names = append(names, c)
		case c.Type() == "namespace_aliasing_clause":
			if n := c.ChildOfKind(ast.KindName); !n.IsZero() {
				alias = n.Text()
			}
		}
	}
	if len(names) == 0 {
		return importEntry{}, false
	}

	if a := clause.Field("alias"); !a.IsZero() && !a.Same(names[0]) {
		alias = a.Text()
	} else if alias == "" && len(names) > 1 {
		alias = names[1].Text()
	}

	return importEntry{
		target: trimLeadingSeparator(names[0].Text()),
		alias:  alias,
		line:   clause.Line(),
	}, true
}

// Namespace returns the unit's namespace, or "" for the global namespace.
func (t *ImportTable) Namespace() string {
	return t.namespace
}

// Len returns the number of class imports.
func (t *ImportTable) Len() int {
	return len(t.entries)
}

// FullyQualify resolves a class name as written in the unit.
//
// Description:
//
//	A name with a leading separator is already fully qualified and is
//	returned without it. Otherwise the first import whose alias equals the
//	name, or whose last segment equals the name when it has no alias, wins.
//	Failing that, the name is placed in the unit's namespace. A unit with
//	neither returns the name unchanged.
//
// Example:
//
//	// use App\Jobs\SendMail as Mailer;
//	table.FullyQualify("Mailer") // "App\Jobs\SendMail"
func (t *ImportTable) FullyQualify(name string) string {
	if strings.HasPrefix(name, `\`) {
		return trimLeadingSeparator(name)
	}

	for _, e := range t.entries {
		if e.alias != "" {
			if e.alias == name {
				return e.target
			}
			continue
		}
		if lastSegment(e.target) == name {
			return e.target
		}
	}

	if t.namespace != "" {
		return t.namespace + `\` + name
	}
	return name
}

// lastSegment returns the part of a qualified name after the final separator.
func lastSegment(name string) string {
	if i := strings.LastIndex(name, `\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

func trimLeadingSeparator(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), `\`)
}
