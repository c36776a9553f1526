// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/fibledger/services/api/handlers"
)

// SetupRoutes registers the values API on router.
//
// # Inputs
//
//   - router: Engine with global middleware already installed.
//   - h: Handlers backing every route.
//   - metrics: Serves GET /metrics. Nil leaves the route unregistered.
//   - submitMiddleware: Runs before POST /values only, e.g. the rate limiter.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, metrics http.Handler,
	submitMiddleware ...gin.HandlerFunc) {

	router.GET("/", h.HandleRoot)
	router.GET("/health", h.HandleHealth)
	router.GET("/ready", h.HandleReady)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	values := router.Group("/values")
	{
		values.GET("/all", h.HandleListAll)
		values.GET("/current", h.HandleCurrent)

		submit := append(append([]gin.HandlerFunc{}, submitMiddleware...), h.HandleSubmit)
		values.POST("", submit...)
	}
}
