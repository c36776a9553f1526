// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// unmatchedRoute labels requests that matched no route, so arbitrary paths
// do not explode metric cardinality.
const unmatchedRoute = "unmatched"

// Middleware records request count, duration and in-flight requests.
//
// # Description
//
// Labels are method, route template (c.FullPath) and status code. Tracing is
// handled separately by otelgin.
//
// # Inputs
//
//   - metrics: Instruments from NewHTTPMetrics. Nil disables recording.
//
// # Examples
//
//	httpMetrics, _ := telemetry.NewHTTPMetrics(otel.Meter("fibledger/http"))
//	router.Use(telemetry.Middleware(httpMetrics))
func Middleware(metrics *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		start := time.Now()

		metrics.ActiveRequests.Add(ctx, 1)
		defer metrics.ActiveRequests.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("route", route),
			attribute.Int("status", c.Writer.Status()),
		)
		metrics.RequestsTotal.Add(ctx, 1, attrs)
		metrics.RequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
