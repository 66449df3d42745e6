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

// Node change kinds reported by DiffSnapshots.
const (
	ChangeClassChanged = "class_changed"
	ChangeEdgesChanged = "edges_changed"
)

// SnapshotDiff lists the differences between two dispatch graphs.
type SnapshotDiff struct {
	BaseSnapshotID   string `json:"base_snapshot_id"`
	TargetSnapshotID string `json:"target_snapshot_id"`

	NodesAdded    []string   `json:"nodes_added"`
	NodesRemoved  []string   `json:"nodes_removed"`
	NodesModified []NodeDiff `json:"nodes_modified"`

	// EdgesAdded and EdgesRemoved hold "from --> to" strings, sorted.
	EdgesAdded   []string `json:"edges_added"`
	EdgesRemoved []string `json:"edges_removed"`

	Summary DiffSummary `json:"summary"`
}

// NodeDiff describes how one node changed.
type NodeDiff struct {
	NodeID     string `json:"node_id"`
	Class      string `json:"class"`
	ChangeType string `json:"change_type"`
}

// DiffSummary holds aggregate diff statistics.
type DiffSummary struct {
	TotalChanges int `json:"total_changes"`

	// ChangeRatio is the fraction of nodes added, removed or modified.
	ChangeRatio float64 `json:"change_ratio"`
}

// IsEmpty reports whether the graphs are identical.
func (d *SnapshotDiff) IsEmpty() bool {
	return d.Summary.TotalChanges == 0
}

// DiffSnapshots compares two graphs by node ID and edge endpoints.
//
// Thread Safety:
//
//	Safe for concurrent use on frozen graphs.
func DiffSnapshots(base, target *Graph, baseSnapshotID, targetSnapshotID string) (*SnapshotDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	diff := &SnapshotDiff{
		BaseSnapshotID:   baseSnapshotID,
		TargetSnapshotID: targetSnapshotID,
		NodesAdded:       []string{},
		NodesRemoved:     []string{},
		NodesModified:    []NodeDiff{},
		EdgesAdded:       []string{},
		EdgesRemoved:     []string{},
	}

	for id, tNode := range target.nodes {
		bNode, ok := base.nodes[id]
		if !ok {
			diff.NodesAdded = append(diff.NodesAdded, id)
			continue
		}
		if change := classifyChange(bNode, tNode); change != "" {
			diff.NodesModified = append(diff.NodesModified, NodeDiff{
				NodeID:     id,
				Class:      tNode.Class,
				ChangeType: change,
			})
		}
	}
	for id := range base.nodes {
		if _, ok := target.nodes[id]; !ok {
			diff.NodesRemoved = append(diff.NodesRemoved, id)
		}
	}

	for key := range target.edgeSet {
		if _, ok := base.edgeSet[key]; !ok {
			diff.EdgesAdded = append(diff.EdgesAdded, key.from+" --> "+key.to)
		}
	}
	for key := range base.edgeSet {
		if _, ok := target.edgeSet[key]; !ok {
			diff.EdgesRemoved = append(diff.EdgesRemoved, key.from+" --> "+key.to)
		}
	}

	sort.Strings(diff.NodesAdded)
	sort.Strings(diff.NodesRemoved)
	sort.Strings(diff.EdgesAdded)
	sort.Strings(diff.EdgesRemoved)
	sort.Slice(diff.NodesModified, func(i, j int) bool {
		return diff.NodesModified[i].NodeID < diff.NodesModified[j].NodeID
	})

	totalNodes := max(len(base.nodes), len(target.nodes))
	changedNodes := len(diff.NodesAdded) + len(diff.NodesRemoved) + len(diff.NodesModified)

	diff.Summary.TotalChanges = changedNodes + len(diff.EdgesAdded) + len(diff.EdgesRemoved)
	if totalNodes > 0 {
		diff.Summary.ChangeRatio = float64(changedNodes) / float64(totalNodes)
	}

	return diff, nil
}

// classifyChange returns the change kind between two nodes with the same
// ID, or "" when they are equal.
func classifyChange(base, target *Node) string {
	switch {
	case base.Class != target.Class:
		return ChangeClassChanged
	case !sameSet(base.Outgoing, target.Outgoing) || !sameSet(base.Incoming, target.Incoming):
		return ChangeEdgesChanged
	default:
		return ""
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			return false
		}
	}
	return true
}
