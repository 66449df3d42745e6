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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"
)

// DefaultMaxNodes bounds a single analysis run.
const DefaultMaxNodes = 5000

// Edge kinds recorded in Edge.Via for edges that are not dispatch calls.
const (
	// ViaListens marks an Event→Listener registration edge.
	ViaListens = "listens"

	// ViaDeclared marks an edge read from dispatchesJobs/dispatchesEvents.
	ViaDeclared = "declared"
)

var (
	// ErrGraphFrozen is returned when mutating a frozen graph.
	ErrGraphFrozen = errors.New("graph is frozen")

	// ErrMaxNodesExceeded is returned when adding a node past the limit.
	ErrMaxNodesExceeded = errors.New("max nodes exceeded")

	// ErrNodeNotFound is returned when an edge references a missing node.
	ErrNodeNotFound = errors.New("node not found")
)

// Node is a VisualizerNode placed in a Graph.
type Node struct {
	VisualizerNode

	// Outgoing and Incoming hold neighbour IDs in insertion order.
	Outgoing []string
	Incoming []string
}

// Edge is a directed dispatch or registration relation.
type Edge struct {
	FromID string
	ToID   string

	// Via is the dispatch method or function, or one of the Via constants.
	Via string
}

type edgeKey struct {
	from, to string
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithMaxNodes caps the node count. Non-positive values disable the cap.
func WithMaxNodes(n int) GraphOption {
	return func(g *Graph) {
		g.maxNodes = n
	}
}

// Graph is the deduplicated dispatch graph of one analysis run.
//
// Description:
//
//	Nodes are keyed by ID and edges by (from, to). Both only ever grow
//	while building; re-adding a node or edge is a no-op. Insertion order
//	is kept so rendering is deterministic. Freeze makes the graph
//	read-only.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. A frozen graph is safe for
//	concurrent reads.
type Graph struct {
	ProjectRoot  string
	BuiltAtMilli int64

	nodes     map[string]*Node
	nodeOrder []string
	edges     []*Edge
	edgeSet   map[edgeKey]struct{}
	maxNodes  int
	frozen    bool
}

// NewGraph creates an empty graph in building state.
func NewGraph(projectRoot string, opts ...GraphOption) *Graph {
	g := &Graph{
		ProjectRoot: projectRoot,
		nodes:       make(map[string]*Node),
		edgeSet:     make(map[edgeKey]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddNode adds n unless a node with the same ID exists, in which case the
// existing node is returned.
func (g *Graph) AddNode(n VisualizerNode) (*Node, error) {
	id := n.ID()
	if existing, ok := g.nodes[id]; ok {
		return existing, nil
	}
	if g.frozen {
		return nil, ErrGraphFrozen
	}
	if g.maxNodes > 0 && len(g.nodes) >= g.maxNodes {
		return nil, ErrMaxNodesExceeded
	}

	node := &Node{VisualizerNode: n}
	g.nodes[id] = node
	g.nodeOrder = append(g.nodeOrder, id)
	return node, nil
}

// AddEdge adds a directed edge between two existing nodes.
//
// Outputs:
//   - bool: True when the edge is new.
//   - error: ErrGraphFrozen or ErrNodeNotFound.
func (g *Graph) AddEdge(fromID, toID, via string) (bool, error) {
	key := edgeKey{from: fromID, to: toID}
	if _, ok := g.edgeSet[key]; ok {
		return false, nil
	}
	if g.frozen {
		return false, ErrGraphFrozen
	}

	from, ok := g.nodes[fromID]
	if !ok {
		return false, ErrNodeNotFound
	}
	to, ok := g.nodes[toID]
	if !ok {
		return false, ErrNodeNotFound
	}

	g.edgeSet[key] = struct{}{}
	g.edges = append(g.edges, &Edge{FromID: fromID, ToID: toID, Via: via})
	from.Outgoing = append(from.Outgoing, toID)
	to.Incoming = append(to.Incoming, fromID)
	return true, nil
}

// Connect adds both nodes and the edge between them.
//
// Outputs:
//   - bool: True when the edge is new.
//   - error: From AddNode or AddEdge.
func (g *Graph) Connect(from, to VisualizerNode, via string) (bool, error) {
	if _, err := g.AddNode(from); err != nil {
		return false, err
	}
	if _, err := g.AddNode(to); err != nil {
		return false, err
	}
	return g.AddEdge(from.ID(), to.ID(), via)
}

// GetNode returns the node with the given ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// HasEdge reports whether the edge from→to exists.
func (g *Graph) HasEdge(fromID, toID string) bool {
	_, ok := g.edgeSet[edgeKey{from: fromID, to: toID}]
	return ok
}

// Freeze makes the graph read-only and stamps BuiltAtMilli.
func (g *Graph) Freeze() {
	if g.frozen {
		return
	}
	g.frozen = true
	g.BuiltAtMilli = time.Now().UnixMilli()
}

// IsFrozen reports whether Freeze has been called.
func (g *Graph) IsFrozen() bool {
	return g.frozen
}

// Hash returns a deterministic hash of the graph structure, independent
// of insertion order.
func (g *Graph) Hash() string {
	lines := make([]string, 0, len(g.nodes)+len(g.edges))
	for id, n := range g.nodes {
		lines = append(lines, "n|"+id+"|"+n.Type.String()+"|"+n.Class)
	}
	for _, e := range g.edges {
		lines = append(lines, "e|"+e.FromID+"|"+e.ToID+"|"+e.Via)
	}
	sort.Strings(lines)

	h := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h[:16])
}
