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

import "testing"

func TestFind_SourceOrder(t *testing.T) {
	tree := parseOrFail(t, listenerSource)

	methods := tree.Find(OfKind(KindMethod))
	if len(methods) != 2 {
		t.Fatalf("expected 2 methods, got %d", len(methods))
	}

	names := []string{methods[0].Field("name").Text(), methods[1].Field("name").Text()}
	if names[0] != "__construct" || names[1] != "handle" {
		t.Errorf("unexpected method order: %v", names)
	}
	if methods[0].Line() >= methods[1].Line() {
		t.Errorf("expected ascending lines, got %d then %d", methods[0].Line(), methods[1].Line())
	}
}

func TestFind_NoMatches(t *testing.T) {
	tree := parseOrFail(t, "<?php\n$a = 1;\n")

	if got := tree.Find(OfKind(KindNew)); len(got) != 0 {
		t.Errorf("expected empty result, got %d nodes", len(got))
	}
	if _, ok := tree.FindFirst(OfKind(KindStaticCall)); ok {
		t.Error("expected FindFirst to report no match")
	}
}

func TestFindFirst_ReturnsEarliest(t *testing.T) {
	tree := parseOrFail(t, listenerSource)

	n, ok := tree.FindFirst(OfKind(KindNew))
	if !ok {
		t.Fatal("expected an object creation node")
	}
	if n.Line() != 16 {
		t.Errorf("expected first new on line 16, got %d", n.Line())
	}
}

func TestFind_Kinds(t *testing.T) {
	tree := parseOrFail(t, listenerSource)

	tests := []struct {
		kind NodeKind
		want int
	}{
		{KindNamespace, 1},
		{KindUseDeclaration, 2},
		{KindClass, 1},
		{KindPromotedParameter, 1},
		{KindNew, 2},
		{KindMethodCall, 1},
		{KindFunctionCall, 1},
		{KindAssignment, 1},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := len(tree.Find(OfKind(tt.kind))); got != tt.want {
				t.Errorf("expected %d %s nodes, got %d", tt.want, tt.kind, got)
			}
		})
	}
}

func TestNode_ZeroValue(t *testing.T) {
	var n Node

	if !n.IsZero() {
		t.Fatal("expected zero node")
	}
	if n.Kind() != KindOther || n.Text() != "" || n.Line() != 0 {
		t.Error("expected zero accessors on absent node")
	}
	if !n.Field("name").IsZero() || !n.Parent().IsZero() || !n.LastNamedChild().IsZero() {
		t.Error("expected chained lookups on absent node to stay absent")
	}
	if len(n.Find(OfKind(KindClass))) != 0 {
		t.Error("expected Find on absent node to be empty")
	}
}

func TestNode_VariableName(t *testing.T) {
	tree := parseOrFail(t, "<?php\n$job = 1;\n")

	v, ok := tree.FindFirst(OfKind(KindVariable))
	if !ok {
		t.Fatal("expected a variable")
	}
	if v.VariableName() != "job" {
		t.Errorf("expected job, got %q", v.VariableName())
	}

	ns := tree.Root()
	if ns.VariableName() != "" {
		t.Error("expected empty variable name for non-variable node")
	}
}

func TestNodeKind_String(t *testing.T) {
	if KindStaticCall.String() != "static_call" {
		t.Errorf("unexpected name %q", KindStaticCall.String())
	}
	if NodeKind(999).String() != "unknown" {
		t.Error("expected unknown for out of range kind")
	}
}

func TestNode_StringValue(t *testing.T) {
	src := `<?php
$a = 'App\\Events\\Paid';
$b = "handle";
$c = "hi $name";
$d = fn() => 1;
`
	tree := parseOrFail(t, src)

	strs := tree.Find(OfKind(KindString))
	if len(strs) != 3 {
		t.Fatalf("expected 3 strings, got %d", len(strs))
	}

	tests := []struct {
		want   string
		wantOK bool
	}{
		{`App\Events\Paid`, true},
		{"handle", true},
		{"", false},
	}
	for i, tt := range tests {
		got, ok := strs[i].StringValue()
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("string %d: got (%q, %v), want (%q, %v)", i, got, ok, tt.want, tt.wantOK)
		}
	}

	if _, ok := tree.FindFirst(OfKind(KindClosure)); !ok {
		t.Error("expected arrow function to be a closure")
	}
	if _, ok := (Node{}).StringValue(); ok {
		t.Error("zero node should not be a string")
	}
}
