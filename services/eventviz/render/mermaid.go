// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package render turns dispatch graphs into mermaid flowchart markup and
// the HTML page that displays it.
package render

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

// DiagramType is the mermaid diagram header.
const DiagramType = "flowchart LR"

// Theme holds the fill color per node type.
type Theme struct {
	Event    string `json:"event"`
	Listener string `json:"listener"`
	Job      string `json:"job"`
}

// DefaultTheme returns the stock colors.
func DefaultTheme() Theme {
	return Theme{
		Event:    "#55efc4",
		Listener: "#74b9ff",
		Job:      "#a29bfe",
	}
}

// colorFor returns the theme color for a node type, falling back to the
// default theme for unset colors.
func (t Theme) colorFor(typ graph.NodeType) string {
	def := DefaultTheme()
	pick := func(c, fallback string) string {
		if c == "" {
			return fallback
		}
		return c
	}
	switch typ {
	case graph.NodeTypeEvent:
		return pick(t.Event, def.Event)
	case graph.NodeTypeListener:
		return pick(t.Listener, def.Listener)
	case graph.NodeTypeJob:
		return pick(t.Job, def.Job)
	}
	return ""
}

// Edges returns the edge lines of g, one per edge in insertion order,
// each of the form "From(From):::event --> To(To):::listener;".
//
// Nodes sharing a display name keep separate mermaid keys: the first one
// in insertion order uses the name, later ones get "_2", "_3" and so on.
func Edges(g *graph.Graph) []string {
	if g == nil {
		return nil
	}
	keys := mermaidKeys(g)
	lines := make([]string, 0, g.EdgeCount())
	for _, e := range g.Edges() {
		from, ok1 := g.GetNode(e.FromID)
		to, ok2 := g.GetNode(e.ToID)
		if !ok1 || !ok2 {
			continue
		}
		lines = append(lines, from.Mermaid(keys[e.FromID])+" --> "+to.Mermaid(keys[e.ToID])+";")
	}
	return lines
}

// mermaidKeys maps node IDs to unique mermaid node keys.
func mermaidKeys(g *graph.Graph) map[string]string {
	keys := make(map[string]string, g.NodeCount())
	seen := make(map[string]int, g.NodeCount())
	for _, n := range g.Nodes() {
		name := n.Name()
		seen[name]++
		if seen[name] == 1 {
			keys[n.ID()] = name
			continue
		}
		keys[n.ID()] = fmt.Sprintf("%s_%d", name, seen[name])
	}
	return keys
}

// Mermaid renders g as a mermaid flowchart.
//
// Description:
//
//	The output starts with the diagram header, lists every edge in the
//	order the builder discovered it and ends with one classDef line per
//	node type. A nil or empty graph yields just the header and the
//	classDef lines.
//
// Example:
//
//	flowchart LR
//	UserRegistered(UserRegistered):::event --> SendWelcome(SendWelcome):::listener;
//	classDef event fill:#55efc4;
//	classDef listener fill:#74b9ff;
//	classDef job fill:#a29bfe;
func Mermaid(g *graph.Graph, theme Theme) string {
	var sb strings.Builder
	sb.WriteString(DiagramType)
	sb.WriteByte('\n')

	for _, line := range Edges(g) {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	for _, typ := range []graph.NodeType{graph.NodeTypeEvent, graph.NodeTypeListener, graph.NodeTypeJob} {
		fmt.Fprintf(&sb, "classDef %s fill:%s;\n", typ, theme.colorFor(typ))
	}
	return sb.String()
}
