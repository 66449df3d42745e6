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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the eventviz API routes.
//
// Description:
//
//	Registers all /v1/eventviz/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET    /v1/eventviz/graph - Current graph as JSON
//	GET    /v1/eventviz/graph/mermaid - Current graph as mermaid text
//	POST   /v1/eventviz/analyze - Rebuild the graph
//	GET    /v1/eventviz/failures - Classes that could not be analysed
//	POST   /v1/eventviz/impact - Nodes affected by a unified diff
//	GET    /v1/eventviz/health - Health check
//	GET    /v1/eventviz/metrics - Prometheus metrics
//
// Snapshot Endpoints:
//
//	POST   /v1/eventviz/snapshots - Save the current graph
//	GET    /v1/eventviz/snapshots - List snapshots
//	GET    /v1/eventviz/snapshots/diff - Compare two snapshots
//	GET    /v1/eventviz/snapshots/:id - Describe a snapshot
//	DELETE /v1/eventviz/snapshots/:id - Delete a snapshot
//
// Example:
//
//	svc, err := eventviz.NewService(ctx, projectRoot, cfg)
//	handlers := eventviz.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	eventviz.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	ev := rg.Group("/eventviz")
	{
		ev.GET("/graph", handlers.HandleGetGraph)
		ev.GET("/graph/mermaid", handlers.HandleGetMermaid)
		ev.POST("/analyze", handlers.HandleAnalyze)
		ev.GET("/failures", handlers.HandleGetFailures)
		ev.POST("/impact", handlers.HandleImpact)

		ev.GET("/health", handlers.HandleHealth)
		ev.GET("/metrics", gin.WrapH(promhttp.Handler()))

		// diff must be registered before the :id wildcard
		ev.GET("/snapshots/diff", handlers.HandleSnapshotDiff)
		ev.POST("/snapshots", handlers.HandleSaveSnapshot)
		ev.GET("/snapshots", handlers.HandleListSnapshots)
		ev.GET("/snapshots/:id", handlers.HandleGetSnapshot)
		ev.DELETE("/snapshots/:id", handlers.HandleDeleteSnapshot)
	}
}

// RegisterPageRoutes registers the HTML page and its live reload socket.
//
// Endpoints:
//
//	GET /event-visualizer - Diagram page
//	GET /event-visualizer/ws - Live reload websocket
//
// Both are guarded by LocalOnlyMiddleware using server.local_only and
// server.app_env.
func RegisterPageRoutes(r gin.IRouter, handlers *Handlers) {
	srv := handlers.svc.Config().Server
	page := r.Group("/event-visualizer", LocalOnlyMiddleware(srv.LocalOnly, srv.AppEnv))
	{
		page.GET("", handlers.HandlePage)
		page.GET("/ws", handlers.HandleLiveReload)
	}
}
