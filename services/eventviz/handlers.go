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
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/eventviz/services/eventviz/impact"
	"github.com/AleutianAI/eventviz/services/eventviz/registry"
	"github.com/AleutianAI/eventviz/services/eventviz/render"
)

// LiveReloadPath is the websocket path used by the HTML page.
const LiveReloadPath = "/event-visualizer/ws"

// Handlers serves the eventviz HTTP API.
type Handlers struct {
	svc     *Service
	limiter *rate.Limiter
}

// NewHandlers creates handlers for svc. POST /analyze is limited to
// server.analyze_rate_per_minute requests per minute when that is set.
func NewHandlers(svc *Service) *Handlers {
	h := &Handlers{svc: svc}
	if n := svc.cfg.Server.AnalyzeRatePerMinute; n > 0 {
		h.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
	return h
}

// HandleGetGraph handles GET /v1/eventviz/graph.
//
// Response:
//
//	200 OK: GraphResponse
//	404 Not Found: No analysis has completed
func (h *Handlers) HandleGetGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetGraph")

	cur := h.svc.Current()
	if cur == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrNoGraph.Error(), Code: "NO_GRAPH"})
		return
	}

	logger.Debug("serving graph", slog.String("run_id", cur.RunID))
	c.JSON(http.StatusOK, GraphResponse{
		RunID:      cur.RunID,
		Graph:      cur.Graph.ToSerializable(),
		Stats:      cur.Stats,
		Truncated:  cur.Truncated,
		Incomplete: cur.Incomplete,
	})
}

// HandleGetMermaid handles GET /v1/eventviz/graph/mermaid and returns the
// diagram as text/plain.
func (h *Handlers) HandleGetMermaid(c *gin.Context) {
	getOrCreateRequestID(c)

	diagram, err := h.svc.Mermaid()
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NO_GRAPH"})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(diagram))
}

// HandleAnalyze handles POST /v1/eventviz/analyze.
//
// Description:
//
//	Rebuilds the graph from the listener registry. Rate limited.
//
// Response:
//
//	200 OK: AnalyzeResponse
//	422 Unprocessable Entity: No listener registry found
//	429 Too Many Requests: Rate limit exceeded
//	500 Internal Server Error: Analysis failed
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAnalyze")

	if h.limiter != nil && !h.limiter.Allow() {
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "analysis rate limit exceeded",
			Code:  "RATE_LIMITED",
		})
		return
	}

	res, err := h.svc.Analyze(c.Request.Context())
	if err != nil {
		if errors.Is(err, registry.ErrNoRegistry) {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error: err.Error(),
				Code:  "NO_LISTENER_REGISTRY",
			})
			return
		}
		logger.Error("analysis failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "analysis failed: " + err.Error(),
			Code:  "ANALYZE_FAILED",
		})
		return
	}

	logger.Info("analysis complete",
		slog.String("run_id", res.RunID),
		slog.Int("nodes", res.Stats.NodesCreated),
		slog.Int("failures", len(res.Failures)))

	c.JSON(http.StatusOK, AnalyzeResponse{
		RunID:        res.RunID,
		GraphHash:    res.Graph.Hash(),
		Stats:        res.Stats,
		Truncated:    res.Truncated,
		FailureCount: len(res.Failures),
	})
}

// HandleGetFailures handles GET /v1/eventviz/failures and lists the
// classes of the latest run that could not be analysed.
func (h *Handlers) HandleGetFailures(c *gin.Context) {
	getOrCreateRequestID(c)

	cur := h.svc.Current()
	if cur == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrNoGraph.Error(), Code: "NO_GRAPH"})
		return
	}
	c.JSON(http.StatusOK, FailuresResponse{RunID: cur.RunID, Failures: cur.Failures})
}

// HandleHealth handles GET /v1/eventviz/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:      "healthy",
		ProjectRoot: h.svc.ProjectRoot(),
		LiveClients: h.svc.Hub().Clients(),
		UptimeSec:   int64(time.Since(h.svc.startedAt).Seconds()),
	}
	if cur := h.svc.Current(); cur != nil {
		resp.HasGraph = true
		resp.Nodes = cur.Graph.NodeCount()
		resp.Edges = cur.Graph.EdgeCount()
		resp.GraphHash = cur.Graph.Hash()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleImpact handles POST /v1/eventviz/impact.
//
// Response:
//
//	200 OK: ImpactResponse
//	400 Bad Request: Missing or unparsable diff
//	404 Not Found: No analysis has completed
func (h *Handlers) HandleImpact(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleImpact")

	var req ImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "diff is required", Code: "INVALID_REQUEST"})
		return
	}

	report, err := h.svc.Impact(c.Request.Context(), []byte(req.Diff))
	switch {
	case errors.Is(err, ErrNoGraph):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NO_GRAPH"})
		return
	case errors.Is(err, impact.ErrInvalidDiff):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_DIFF"})
		return
	case err != nil:
		logger.Error("impact analysis failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "IMPACT_FAILED"})
		return
	}

	logger.Info("impact analysed",
		slog.Int("files", len(report.Files)),
		slog.Int("affected", len(report.Affected)))
	c.JSON(http.StatusOK, ImpactResponse{RunID: h.svc.Current().RunID, Report: report})
}

// HandlePage handles GET /event-visualizer.
//
// Description:
//
//	Serves the HTML diagram page. The graph is built on first request
//	when no run has completed yet.
func (h *Handlers) HandlePage(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePage")

	if h.svc.Current() == nil {
		if _, err := h.svc.Analyze(c.Request.Context()); err != nil {
			logger.Error("analysis for page failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "analysis failed: " + err.Error(),
				Code:  "ANALYZE_FAILED",
			})
			return
		}
	}
	diagram, err := h.svc.Mermaid()
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NO_GRAPH"})
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	err = render.HTML(c.Writer, render.Page{
		Title:          h.svc.cfg.Title(h.svc.ProjectRoot()),
		Diagram:        diagram,
		MermaidVersion: h.svc.cfg.MermaidVersion,
		LiveReloadPath: LiveReloadPath,
	})
	if err != nil {
		logger.Error("rendering page failed", slog.String("error", err.Error()))
	}
}

// HandleLiveReload handles the websocket at LiveReloadPath.
func (h *Handlers) HandleLiveReload(c *gin.Context) {
	h.svc.Hub().ServeWS(c.Writer, c.Request)
}
