// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

func sampleGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.NewGraph("/srv/app")
	_, err := g.Connect(graph.NewEvent(`App\Events\UserRegistered`), graph.NewListener(`App\Listeners\Audit@onRegistered`, true), graph.ViaListens)
	require.NoError(t, err)
	_, err = g.Connect(graph.NewListener(`App\Listeners\Audit@onRegistered`, true), graph.NewJob(`App\Jobs\WriteAudit`), "dispatch")
	require.NoError(t, err)
	g.Freeze()
	return g
}

func TestMermaid(t *testing.T) {
	got := Mermaid(sampleGraph(t), Theme{Event: "#111111", Job: "#333333"})

	want := "flowchart LR\n" +
		"UserRegistered(UserRegistered):::event --> Audit-onRegistered(Audit-onRegistered):::listener;\n" +
		"Audit-onRegistered(Audit-onRegistered):::listener --> WriteAudit(WriteAudit):::job;\n" +
		"classDef event fill:#111111;\n" +
		"classDef listener fill:#74b9ff;\n" +
		"classDef job fill:#333333;\n"
	assert.Equal(t, want, got)
}

func TestEdges_SameShortName(t *testing.T) {
	g := graph.NewGraph("/srv/app")
	listener := graph.NewListener(`App\Listeners\Notify`, false)
	_, err := g.Connect(graph.NewEvent(`App\Events\UserRegistered`), listener, graph.ViaListens)
	require.NoError(t, err)
	_, err = g.Connect(listener, graph.NewJob(`App\Jobs\Notify`), "dispatch")
	require.NoError(t, err)
	g.Freeze()

	assert.Equal(t, []string{
		"UserRegistered(UserRegistered):::event --> Notify(Notify):::listener;",
		"Notify(Notify):::listener --> Notify_2(Notify):::job;",
	}, Edges(g))
}

func TestMermaid_NilGraph(t *testing.T) {
	got := Mermaid(nil, DefaultTheme())
	lines := strings.Split(strings.TrimSpace(got), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, DiagramType, lines[0])
	assert.Nil(t, Edges(nil))
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	err := HTML(&buf, Page{
		Title:          "Shop",
		Diagram:        Mermaid(sampleGraph(t), DefaultTheme()),
		MermaidVersion: "10.9.1",
		LiveReloadPath: "/event-visualizer/ws",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "<title>Events in Shop</title>")
	assert.Contains(t, out, "https://cdnjs.cloudflare.com/ajax/libs/mermaid/10.9.1/mermaid.min.js")
	assert.Contains(t, out, "UserRegistered(UserRegistered):::event --&gt; ")
	assert.Contains(t, out, "new WebSocket(")
}

func TestHTML_Defaults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, Page{}))

	out := buf.String()
	assert.Contains(t, out, "/mermaid/"+DefaultMermaidVersion+"/")
	assert.Contains(t, out, "Events in application")
	assert.NotContains(t, out, "WebSocket")
}
