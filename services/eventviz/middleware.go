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
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

// getOrCreateRequestID returns the caller's request ID or a new one, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	if id, ok := c.Get("request_id"); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	c.Header(RequestIDHeader, id)
	return id
}

// LocalOnlyMiddleware rejects non-loopback clients unless the guard is
// off or appEnv is "local".
func LocalOnlyMiddleware(enabled bool, appEnv string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled || appEnv == "local" {
			c.Next()
			return
		}
		ip := net.ParseIP(c.ClientIP())
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Error: "event visualizer is only available locally",
				Code:  "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}
