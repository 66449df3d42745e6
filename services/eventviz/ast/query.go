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

// Predicate selects nodes during a search.
type Predicate func(Node) bool

// OfKind returns a predicate matching any of the given kinds.
func OfKind(kinds ...NodeKind) Predicate {
	return func(n Node) bool {
		k := n.Kind()
		for _, want := range kinds {
			if k == want {
				return true
			}
		}
		return false
	}
}

// Walk visits n and its named descendants in pre-order (source order).
//
// Description:
//
//	visit is called for every node; returning false skips that node's
//	subtree. Traversal uses an explicit stack so deeply nested generated
//	code cannot exhaust the goroutine stack.
func Walk(n Node, visit func(Node) bool) {
	if n.IsZero() {
		return
	}
	stack := []Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(cur) {
			continue
		}
		children := cur.NamedChildren()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// Find returns every node in the subtree rooted at n (n included) that
// satisfies pred, in source order.
func (n Node) Find(pred Predicate) []Node {
	var out []Node
	Walk(n, func(c Node) bool {
		if pred(c) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// FindFirst returns the first node in source order satisfying pred.
func (n Node) FindFirst(pred Predicate) (Node, bool) {
	var found Node
	Walk(n, func(c Node) bool {
		if !found.IsZero() {
			return false
		}
		if pred(c) {
			found = c
			return false
		}
		return true
	})
	return found, !found.IsZero()
}

// Find returns every node of the tree satisfying pred, in source order.
//
// Thread Safety: Safe for concurrent use; the tree is never mutated.
func (t *SyntaxTree) Find(pred Predicate) []Node {
	return t.Root().Find(pred)
}

// FindFirst returns the first node of the tree satisfying pred.
func (t *SyntaxTree) FindFirst(pred Predicate) (Node, bool) {
	return t.Root().FindFirst(pred)
}
