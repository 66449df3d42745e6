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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// NodeKind is the closed set of PHP syntax node kinds the resolvers act on.
//
// Description:
//
//	Every tree-sitter node type maps to exactly one NodeKind. Types the
//	resolvers never look at collapse into KindOther, so a switch over
//	NodeKind is exhaustive without a default branch doing real work.
type NodeKind int

const (
	KindOther NodeKind = iota
	KindProgram
	KindNamespace
	KindUseDeclaration
	KindUseClause
	KindUseGroup
	KindClass
	KindMethod
	KindParameter
	KindPromotedParameter
	KindAssignment
	KindNew
	KindArray
	KindArrayElement
	KindStaticCall
	KindMethodCall
	KindFunctionCall
	KindExpressionStatement
	KindVariable
	KindPropertyFetch
	KindName
	KindClassConstant
	KindArguments
	KindArgument
	KindReturn
	KindProperty
	KindParenthesized
	KindString
	KindClosure
)

// nodeKindNames is indexed by NodeKind.
var nodeKindNames = [...]string{
	KindOther:               "other",
	KindProgram:             "program",
	KindNamespace:           "namespace",
	KindUseDeclaration:      "use_declaration",
	KindUseClause:           "use_clause",
	KindUseGroup:            "use_group",
	KindClass:               "class",
	KindMethod:              "method",
	KindParameter:           "parameter",
	KindPromotedParameter:   "promoted_parameter",
	KindAssignment:          "assignment",
	KindNew:                 "new",
	KindArray:               "array",
	KindArrayElement:        "array_element",
	KindStaticCall:          "static_call",
	KindMethodCall:          "method_call",
	KindFunctionCall:        "function_call",
	KindExpressionStatement: "expression_statement",
	KindVariable:            "variable",
	KindPropertyFetch:       "property_fetch",
	KindName:                "name",
	KindClassConstant:       "class_constant",
	KindArguments:           "arguments",
	KindArgument:            "argument",
	KindReturn:              "return",
	KindProperty:            "property",
	KindParenthesized:       "parenthesized",
	KindString:              "string",
	KindClosure:             "closure",
}

// String returns the kind name.
func (k NodeKind) String() string {
	if k < 0 || int(k) >= len(nodeKindNames) {
		return "unknown"
	}
	return nodeKindNames[k]
}

// kindOf maps a tree-sitter-php node type to its NodeKind.
func kindOf(nodeType string) NodeKind {
	switch nodeType {
	case "program":
		return KindProgram
	case "namespace_definition":
		return KindNamespace
	case "namespace_use_declaration":
		return KindUseDeclaration
	case "namespace_use_clause":
		return KindUseClause
	case "namespace_use_group":
		return KindUseGroup
	case "class_declaration":
		return KindClass
	case "method_declaration":
		return KindMethod
	case "simple_parameter":
		return KindParameter
	case "property_promotion_parameter":
		return KindPromotedParameter
	case "assignment_expression":
		return KindAssignment
	case "object_creation_expression":
		return KindNew
	case "array_creation_expression":
		return KindArray
	case "array_element_initializer":
		return KindArrayElement
	case "scoped_call_expression":
		return KindStaticCall
	case "member_call_expression", "nullsafe_member_call_expression":
		return KindMethodCall
	case "function_call_expression":
		return KindFunctionCall
	case "expression_statement":
		return KindExpressionStatement
	case "variable_name":
		return KindVariable
	case "member_access_expression", "nullsafe_member_access_expression":
		return KindPropertyFetch
	case "name", "qualified_name":
		return KindName
	case "class_constant_access_expression":
		return KindClassConstant
	case "arguments":
		return KindArguments
	case "argument":
		return KindArgument
	case "return_statement":
		return KindReturn
	case "property_declaration":
		return KindProperty
	case "parenthesized_expression":
		return KindParenthesized
	case "string", "encapsed_string":
		return KindString
	case "anonymous_function_creation_expression", "anonymous_function", "arrow_function":
		return KindClosure
	default:
		return KindOther
	}
}

// Node is a read-only view of one syntax node bound to its source text.
//
// The zero Node is the absent node; every accessor on it returns a zero
// value, so lookups can be chained without nil checks.
type Node struct {
	raw *sitter.Node
	src []byte
}

// newNode wraps a raw node. A nil raw node yields the zero Node.
func newNode(raw *sitter.Node, src []byte) Node {
	if raw == nil || raw.IsNull() {
		return Node{}
	}
	return Node{raw: raw, src: src}
}

// IsZero reports whether the node is absent.
func (n Node) IsZero() bool {
	return n.raw == nil
}

// Kind returns the node's tagged kind.
func (n Node) Kind() NodeKind {
	if n.raw == nil {
		return KindOther
	}
	return kindOf(n.raw.Type())
}

// Type returns the raw tree-sitter node type.
func (n Node) Type() string {
	if n.raw == nil {
		return ""
	}
	return n.raw.Type()
}

// Text returns the source text covered by the node.
func (n Node) Text() string {
	if n.raw == nil {
		return ""
	}
	return n.raw.Content(n.src)
}

// Line returns the 1-based line the node starts on.
func (n Node) Line() int {
	if n.raw == nil {
		return 0
	}
	return int(n.raw.StartPoint().Row) + 1
}

// StartByte returns the byte offset the node starts at.
func (n Node) StartByte() uint32 {
	if n.raw == nil {
		return 0
	}
	return n.raw.StartByte()
}

// HasError reports whether the subtree contains syntax errors.
func (n Node) HasError() bool {
	return n.raw != nil && n.raw.HasError()
}

// Field returns the child stored under a grammar field name.
func (n Node) Field(name string) Node {
	if n.raw == nil {
		return Node{}
	}
	return newNode(n.raw.ChildByFieldName(name), n.src)
}

// Parent returns the enclosing node.
func (n Node) Parent() Node {
	if n.raw == nil {
		return Node{}
	}
	return newNode(n.raw.Parent(), n.src)
}

// NamedChildren returns the named children in source order.
func (n Node) NamedChildren() []Node {
	if n.raw == nil {
		return nil
	}
	count := int(n.raw.NamedChildCount())
	children := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if c := newNode(n.raw.NamedChild(i), n.src); !c.IsZero() {
			children = append(children, c)
		}
	}
	return children
}

// Children returns all children, including anonymous tokens, in source order.
func (n Node) Children() []Node {
	if n.raw == nil {
		return nil
	}
	count := int(n.raw.ChildCount())
	children := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if c := newNode(n.raw.Child(i), n.src); !c.IsZero() {
			children = append(children, c)
		}
	}
	return children
}

// FirstNamedChild returns the first named child, or the zero Node.
func (n Node) FirstNamedChild() Node {
	if n.raw == nil || n.raw.NamedChildCount() == 0 {
		return Node{}
	}
	return newNode(n.raw.NamedChild(0), n.src)
}

// LastNamedChild returns the last named child, or the zero Node.
func (n Node) LastNamedChild() Node {
	if n.raw == nil {
		return Node{}
	}
	count := int(n.raw.NamedChildCount())
	if count == 0 {
		return Node{}
	}
	return newNode(n.raw.NamedChild(count-1), n.src)
}

// ChildOfKind returns the first named child with the given kind.
func (n Node) ChildOfKind(kind NodeKind) Node {
	for _, c := range n.NamedChildren() {
		if c.Kind() == kind {
			return c
		}
	}
	return Node{}
}

// Same reports whether both values refer to the same syntax node.
func (n Node) Same(other Node) bool {
	if n.raw == nil || other.raw == nil {
		return n.raw == other.raw
	}
	return n.raw.StartByte() == other.raw.StartByte() &&
		n.raw.EndByte() == other.raw.EndByte() &&
		n.raw.Type() == other.raw.Type()
}

// StringValue returns the contents of a string literal without its
// quotes, with "\\" unescaped. It returns false for any other kind and
// for strings containing interpolation.
func (n Node) StringValue() (string, bool) {
	if n.Kind() != KindString {
		return "", false
	}
	text := n.Text()
	if len(text) < 2 {
		return "", false
	}
	if n.Type() == "encapsed_string" {
		for _, c := range n.NamedChildren() {
			if c.Kind() == KindVariable || c.Type() == "member_access_expression" {
				return "", false
			}
		}
	}
	return strings.ReplaceAll(text[1:len(text)-1], `\\`, `\`), true
}

// VariableName returns the identifier of a variable node without the
// leading "$". It returns "" for any other kind.
func (n Node) VariableName() string {
	if n.Kind() != KindVariable {
		return ""
	}
	return strings.TrimPrefix(n.Text(), "$")
}
