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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

// maxListLimit bounds the limit query parameter of the list endpoint.
const maxListLimit = 1000

// snapshotsAvailable writes a 503 and returns false when snapshots are off.
func (h *Handlers) snapshotsAvailable(c *gin.Context) bool {
	if h.svc.SnapshotManager() == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrSnapshotsDisabled.Error(),
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return false
	}
	return true
}

// HandleSaveSnapshot handles POST /v1/eventviz/snapshots.
//
// Description:
//
//	Persists the current graph. The optional body carries a label.
//
// Response:
//
//	201 Created: SaveSnapshotResponse
//	404 Not Found: No analysis has completed
//	503 Service Unavailable: Snapshots not configured
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSaveSnapshot")

	if !h.snapshotsAvailable(c) {
		return
	}

	var req SaveSnapshotRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
			return
		}
	}

	meta, err := h.svc.SaveSnapshot(c.Request.Context(), req.Label)
	if err != nil {
		if errors.Is(err, ErrNoGraph) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NO_GRAPH"})
			return
		}
		logger.Error("failed to save snapshot", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to save snapshot: " + err.Error(),
			Code:  "SNAPSHOT_SAVE_FAILED",
		})
		return
	}

	c.JSON(http.StatusCreated, SaveSnapshotResponse{
		SnapshotID:     meta.SnapshotID,
		GraphHash:      meta.GraphHash,
		NodeCount:      meta.NodeCount,
		EdgeCount:      meta.EdgeCount,
		CompressedSize: meta.CompressedSize,
	})
}

// HandleListSnapshots handles GET /v1/eventviz/snapshots.
//
// Query Parameters:
//
//	limit: Maximum snapshots to return (default 100, max 1000)
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSnapshots")

	if !h.snapshotsAvailable(c) {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be between 1 and 1000",
				Code:  "INVALID_PARAMETER",
			})
			return
		}
		limit = n
	}

	projectHash := graph.ProjectHash(h.svc.ProjectRoot())
	snapshots, err := h.svc.SnapshotManager().List(c.Request.Context(), projectHash, limit)
	if err != nil {
		logger.Error("failed to list snapshots", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to list snapshots: " + err.Error(),
			Code:  "SNAPSHOT_LIST_FAILED",
		})
		return
	}
	if snapshots == nil {
		snapshots = []*graph.SnapshotMetadata{}
	}
	c.JSON(http.StatusOK, ListSnapshotsResponse{Snapshots: snapshots})
}

// HandleGetSnapshot handles GET /v1/eventviz/snapshots/:id.
func (h *Handlers) HandleGetSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetSnapshot")

	if !h.snapshotsAvailable(c) {
		return
	}

	id := c.Param("id")
	g, meta, err := h.svc.SnapshotManager().Load(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, graph.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SNAPSHOT_NOT_FOUND"})
			return
		}
		logger.Error("failed to load snapshot", slog.String("snapshot_id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to load snapshot: " + err.Error(),
			Code:  "SNAPSHOT_LOAD_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, LoadSnapshotResponse{
		Metadata:  meta,
		NodeCount: g.NodeCount(),
		EdgeCount: g.EdgeCount(),
		GraphHash: g.Hash(),
	})
}

// HandleDeleteSnapshot handles DELETE /v1/eventviz/snapshots/:id.
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteSnapshot")

	if !h.snapshotsAvailable(c) {
		return
	}

	id := c.Param("id")
	if err := h.svc.SnapshotManager().Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, graph.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SNAPSHOT_NOT_FOUND"})
			return
		}
		logger.Error("failed to delete snapshot", slog.String("snapshot_id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to delete snapshot: " + err.Error(),
			Code:  "SNAPSHOT_DELETE_FAILED",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleSnapshotDiff handles GET /v1/eventviz/snapshots/diff.
//
// Query Parameters:
//
//	base: Base snapshot ID (required)
//	target: Target snapshot ID (required)
func (h *Handlers) HandleSnapshotDiff(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSnapshotDiff")

	if !h.snapshotsAvailable(c) {
		return
	}

	baseID := c.Query("base")
	targetID := c.Query("target")
	if baseID == "" || targetID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "base and target query parameters are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	ctx := c.Request.Context()
	mgr := h.svc.SnapshotManager()

	base, _, err := mgr.Load(ctx, baseID)
	if err != nil {
		h.snapshotLoadError(c, logger, baseID, err)
		return
	}
	target, _, err := mgr.Load(ctx, targetID)
	if err != nil {
		h.snapshotLoadError(c, logger, targetID, err)
		return
	}

	diff, err := graph.DiffSnapshots(base, target, baseID, targetID)
	if err != nil {
		logger.Error("diff failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "DIFF_FAILED"})
		return
	}
	c.JSON(http.StatusOK, SnapshotDiffResponse{Diff: diff})
}

func (h *Handlers) snapshotLoadError(c *gin.Context, logger *slog.Logger, id string, err error) {
	if errors.Is(err, graph.ErrSnapshotNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "snapshot " + id + " not found",
			Code:  "SNAPSHOT_NOT_FOUND",
		})
		return
	}
	logger.Error("failed to load snapshot", slog.String("snapshot_id", id), slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: "failed to load snapshot: " + err.Error(),
		Code:  "SNAPSHOT_LOAD_FAILED",
	})
}
