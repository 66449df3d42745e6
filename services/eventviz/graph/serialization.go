// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"sort"
)

// GraphSchemaVersion is the version of the serialization schema.
const GraphSchemaVersion = "2.0"

// SerializableGraph is the JSON form of a Graph.
//
// Description:
//
//	Nodes are sorted by ID for stable diffs. Edges keep insertion order so
//	a reconstructed graph renders exactly like the original.
type SerializableGraph struct {
	SchemaVersion string             `json:"schema_version"`
	ProjectRoot   string             `json:"project_root"`
	BuiltAtMilli  int64              `json:"built_at_milli"`
	GraphHash     string             `json:"graph_hash"`
	NodeOrder     []string           `json:"node_order"`
	Nodes         []SerializableNode `json:"nodes"`
	Edges         []SerializableEdge `json:"edges"`
}

// SerializableNode is the JSON form of a Node.
type SerializableNode struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	TypeCode    NodeType `json:"type_code"`
	Class       string   `json:"class"`
	ShowHandler bool     `json:"show_handler,omitempty"`
}

// SerializableEdge is the JSON form of an Edge.
type SerializableEdge struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Via    string `json:"via"`
}

// ToSerializable converts a Graph to its JSON form.
//
// Thread Safety:
//
//	Safe for concurrent use on frozen graphs.
func (g *Graph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			NodeOrder:     []string{},
			Nodes:         []SerializableNode{},
			Edges:         []SerializableEdge{},
		}
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]SerializableNode, 0, len(ids))
	for _, id := range ids {
		n := g.nodes[id]
		nodes = append(nodes, SerializableNode{
			ID:          id,
			Name:        n.Name(),
			Type:        n.Type.String(),
			TypeCode:    n.Type,
			Class:       n.Class,
			ShowHandler: n.ShowHandler,
		})
	}

	edges := make([]SerializableEdge, 0, len(g.edges))
	for _, e := range g.edges {
		edges = append(edges, SerializableEdge{FromID: e.FromID, ToID: e.ToID, Via: e.Via})
	}

	order := make([]string, len(g.nodeOrder))
	copy(order, g.nodeOrder)

	return &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		ProjectRoot:   g.ProjectRoot,
		BuiltAtMilli:  g.BuiltAtMilli,
		GraphHash:     g.Hash(),
		NodeOrder:     order,
		Nodes:         nodes,
		Edges:         edges,
	}
}

// FromSerializable reconstructs a frozen Graph.
//
// Description:
//
//	Nodes are re-added in their original insertion order and edges in
//	theirs, through AddNode and AddEdge, so the reconstructed graph keeps
//	the same indexes and rendering order.
//
// Outputs:
//   - *Graph: The reconstructed, frozen graph.
//   - error: Non-nil for a nil input, an unsupported schema version, an
//     ID mismatch or a dangling edge.
func FromSerializable(sg *SerializableGraph, opts ...GraphOption) (*Graph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (expected %q)", sg.SchemaVersion, GraphSchemaVersion)
	}

	byID := make(map[string]SerializableNode, len(sg.Nodes))
	for _, sn := range sg.Nodes {
		byID[sn.ID] = sn
	}

	order := sg.NodeOrder
	if len(order) != len(sg.Nodes) {
		order = make([]string, 0, len(sg.Nodes))
		for _, sn := range sg.Nodes {
			order = append(order, sn.ID)
		}
	}

	g := NewGraph(sg.ProjectRoot, opts...)

	for _, id := range order {
		sn, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("node order references unknown node %s", id)
		}
		n := VisualizerNode{Type: sn.TypeCode, Class: sn.Class, ShowHandler: sn.ShowHandler}
		if n.ID() != sn.ID {
			return nil, fmt.Errorf("node %s: class %q yields id %q", sn.ID, sn.Class, n.ID())
		}
		if _, err := g.AddNode(n); err != nil {
			return nil, fmt.Errorf("adding node %s: %w", sn.ID, err)
		}
	}

	for i, se := range sg.Edges {
		if _, err := g.AddEdge(se.FromID, se.ToID, se.Via); err != nil {
			return nil, fmt.Errorf("adding edge %d (%s -> %s): %w", i, se.FromID, se.ToID, err)
		}
	}

	g.Freeze()
	g.BuiltAtMilli = sg.BuiltAtMilli

	return g, nil
}
