// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventviz

import (
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
	"github.com/AleutianAI/eventviz/services/eventviz/impact"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// GraphResponse is returned by GET /v1/eventviz/graph.
type GraphResponse struct {
	RunID      string                   `json:"run_id"`
	Graph      *graph.SerializableGraph `json:"graph"`
	Stats      graph.AnalysisStats      `json:"stats"`
	Truncated  bool                     `json:"truncated"`
	Incomplete bool                     `json:"incomplete"`
}

// AnalyzeResponse is returned by POST /v1/eventviz/analyze.
type AnalyzeResponse struct {
	RunID        string              `json:"run_id"`
	GraphHash    string              `json:"graph_hash"`
	Stats        graph.AnalysisStats `json:"stats"`
	Truncated    bool                `json:"truncated"`
	FailureCount int                 `json:"failure_count"`
}

// FailuresResponse is returned by GET /v1/eventviz/failures.
type FailuresResponse struct {
	RunID    string               `json:"run_id"`
	Failures []graph.ClassFailure `json:"failures"`
}

// HealthResponse is returned by GET /v1/eventviz/health.
type HealthResponse struct {
	Status      string `json:"status"`
	ProjectRoot string `json:"project_root"`
	HasGraph    bool   `json:"has_graph"`
	Nodes       int    `json:"nodes"`
	Edges       int    `json:"edges"`
	GraphHash   string `json:"graph_hash,omitempty"`
	LiveClients int    `json:"live_clients"`
	UptimeSec   int64  `json:"uptime_sec"`
}

// ImpactRequest is the body of POST /v1/eventviz/impact.
type ImpactRequest struct {
	// Diff is a unified diff, as printed by git diff.
	Diff string `json:"diff" binding:"required"`
}

// ImpactResponse wraps an impact report.
type ImpactResponse struct {
	RunID  string         `json:"run_id"`
	Report *impact.Report `json:"report"`
}

// SaveSnapshotRequest is the optional body of POST /v1/eventviz/snapshots.
type SaveSnapshotRequest struct {
	Label string `json:"label,omitempty"`
}

// SaveSnapshotResponse describes a stored snapshot.
type SaveSnapshotResponse struct {
	SnapshotID     string `json:"snapshot_id"`
	GraphHash      string `json:"graph_hash"`
	NodeCount      int    `json:"node_count"`
	EdgeCount      int    `json:"edge_count"`
	CompressedSize int64  `json:"compressed_size"`
}

// ListSnapshotsResponse lists stored snapshots, newest first.
type ListSnapshotsResponse struct {
	Snapshots []*graph.SnapshotMetadata `json:"snapshots"`
}

// LoadSnapshotResponse describes one stored snapshot.
type LoadSnapshotResponse struct {
	Metadata  *graph.SnapshotMetadata `json:"metadata"`
	NodeCount int                     `json:"node_count"`
	EdgeCount int                     `json:"edge_count"`
	GraphHash string                  `json:"graph_hash"`
}

// SnapshotDiffResponse wraps a snapshot comparison.
type SnapshotDiffResponse struct {
	Diff *graph.SnapshotDiff `json:"diff"`
}
