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

// constructorName is the PHP constructor method name.
const constructorName = "__construct"

// ResolveClassesFromVariable returns the classes a variable may hold.
//
// Description:
//
//	Rules are tried in order and the first that yields wins:
//	  1. Assignments of a new instance to the variable.
//	  2. Assignments of an array literal made only of new instances,
//	     returning each element's class in literal order.
//	  3. A method declaring the variable as a typed parameter, plain or
//	     promoted.
//	The search covers the whole unit and ignores control flow. An
//	unresolvable variable yields an empty result, not an error.
//
// Inputs:
//   - variable: A KindVariable node of this parser's tree.
//
// Outputs:
//   - []string: Fully-qualified class names, possibly empty.
//   - error: Wraps ErrUnsupportedSyntax from import resolution.
func (p *CodeParser) ResolveClassesFromVariable(variable ast.Node) ([]string, error) {
	name := variable.VariableName()
	if name == "" {
		return nil, nil
	}

	var assigned []ast.Node
	for _, a := range p.root.Find(ast.OfKind(ast.KindAssignment)) {
		if a.Field("left").VariableName() == name {
			assigned = append(assigned, unwrapParens(a.Field("right")))
		}
	}

	var classes []string
	for _, right := range assigned {
		if right.Kind() != ast.KindNew {
			continue
		}
		class, ok, err := p.classOfNew(right)
		if err != nil {
			return nil, err
		}
		if ok {
			classes = appendUnique(classes, class)
		}
	}
	if len(classes) > 0 {
		return classes, nil
	}

	for _, right := range assigned {
		if right.Kind() != ast.KindArray {
			continue
		}
		elems, allNew, err := p.classesOfArray(right)
		if err != nil {
			return nil, err
		}
		if !allNew {
			continue
		}
		for _, c := range elems {
			classes = appendUnique(classes, c)
		}
	}
	if len(classes) > 0 {
		return classes, nil
	}

	for _, method := range p.root.Find(ast.OfKind(ast.KindMethod)) {
		typeName, ok := parameterType(method, name)
		if !ok {
			continue
		}
		fq, err := p.FullyQualify(typeName)
		if err != nil {
			return nil, err
		}
		return []string{fq}, nil
	}

	return nil, nil
}

// ResolveClassFromProperty returns the class of an injected property.
//
// Description:
//
//	Looks at the first constructor of the unit for a parameter named like
//	the accessed property, either a promoted property or a plain parameter
//	assigned in the body, and returns its declared type. Other injection
//	styles are not resolved.
//
// Outputs:
//   - string: The fully-qualified class.
//   - bool: False when no constructor parameter matches.
//   - error: Wraps ErrUnsupportedSyntax from import resolution.
func (p *CodeParser) ResolveClassFromProperty(property ast.Node) (string, bool, error) {
	if property.Kind() != ast.KindPropertyFetch {
		return "", false, nil
	}
	name := property.Field("name").Text()
	if name == "" {
		return "", false, nil
	}

	ctor, ok := p.root.FindFirst(func(n ast.Node) bool {
		return n.Kind() == ast.KindMethod && n.Field("name").Text() == constructorName
	})
	if !ok {
		return "", false, nil
	}

	typeName, ok := parameterType(ctor, name)
	if !ok {
		return "", false, nil
	}
	fq, err := p.FullyQualify(typeName)
	if err != nil {
		return "", false, err
	}
	return fq, true, nil
}

// ResolveClassesFromArgument returns the classes a call argument dispatches.
//
// Description:
//
//	A variable is resolved with ResolveClassesFromVariable. A new instance
//	yields its class. An array literal yields the class of each new
//	instance element in literal order. Any other shape yields nothing.
func (p *CodeParser) ResolveClassesFromArgument(argument ast.Node) ([]string, error) {
	value := argument
	if argument.Kind() == ast.KindArgument {
		value = argument.LastNamedChild()
	}
	value = unwrapParens(value)

	switch value.Kind() {
	case ast.KindVariable:
		return p.ResolveClassesFromVariable(value)
	case ast.KindNew:
		class, ok, err := p.classOfNew(value)
		if err != nil || !ok {
			return nil, err
		}
		return []string{class}, nil
	case ast.KindArray:
		classes, _, err := p.classesOfArray(value)
		return classes, err
	default:
		return nil, nil
	}
}

// classOfNew resolves the class of an object creation expression. Dynamic
// and anonymous classes report ok=false.
func (p *CodeParser) classOfNew(n ast.Node) (string, bool, error) {
	name := n.ChildOfKind(ast.KindName)
	if name.IsZero() {
		return "", false, nil
	}
	fq, err := p.FullyQualify(name.Text())
	if err != nil {
		return "", false, err
	}
	return fq, true, nil
}

// classesOfArray resolves every new-instance element of an array literal
// and reports whether all elements were new instances.
func (p *CodeParser) classesOfArray(arr ast.Node) ([]string, bool, error) {
	var classes []string
	allNew := true
	elements := 0

	for _, el := range arr.NamedChildren() {
		if el.Kind() != ast.KindArrayElement {
			continue
		}
		elements++
		value := unwrapParens(el.LastNamedChild())
		if value.Kind() != ast.KindNew {
			allNew = false
			continue
		}
		class, ok, err := p.classOfNew(value)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			allNew = false
			continue
		}
		classes = append(classes, class)
	}

	return classes, allNew && elements > 0, nil
}

// parameterType returns the declared class type of the parameter named
// name in method, as written in source.
func parameterType(method ast.Node, name string) (string, bool) {
	for _, param := range method.Field("parameters").NamedChildren() {
		switch param.Kind() {
		case ast.KindParameter, ast.KindPromotedParameter:
		default:
			continue
		}
		if param.Field("name").VariableName() != name {
			continue
		}
		return className(param.Field("type"))
	}
	return "", false
}

// className extracts a single class name from a type node. Primitive,
// union and intersection types have no single class.
func className(typ ast.Node) (string, bool) {
	switch typ.Type() {
	case "named_type":
		if n := typ.ChildOfKind(ast.KindName); !n.IsZero() {
			return n.Text(), true
		}
		return typ.Text(), typ.Text() != ""
	case "optional_type", "type_list":
		return className(typ.FirstNamedChild())
	case "union_type":
		children := typ.NamedChildren()
		if len(children) == 1 {
			return className(children[0])
		}
		return "", false
	case "name", "qualified_name":
		return typ.Text(), true
	default:
		return "", false
	}
}

func unwrapParens(n ast.Node) ast.Node {
	for n.Kind() == ast.KindParenthesized {
		n = n.FirstNamedChild()
	}
	return n
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
