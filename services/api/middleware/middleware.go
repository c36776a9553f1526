// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the values API.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	Recovery ──► RequestID ──► otelgin ──► RequestLogger ──► CORS
//	                                                           │
//	                                                           ▼
//	                                        RateLimit (POST /values only)
//	                                                           │
//	                                                           ▼
//	                                                        Handler
//
// RequestID runs ahead of every handler so each log line and each response,
// including panics and 429s, carries X-Request-ID.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/fibledger/services/api/datatypes"
	"github.com/AleutianAI/fibledger/services/api/telemetry"
)

// =============================================================================
// Request ID
// =============================================================================

// RequestIDHeader is read from requests and written to every response.
const RequestIDHeader = "X-Request-ID"

// requestIDKey is the gin context key holding the request ID.
const requestIDKey = "fibledger_request_id"

// maxRequestIDLength bounds client-supplied IDs before they reach logs.
const maxRequestIDLength = 128

// RequestID assigns each request an ID.
//
// # Description
//
// A client-supplied X-Request-ID is reused when it is non-empty and at most
// 128 printable ASCII characters; otherwise a UUID is generated. The ID is
// stored on the gin context and echoed in the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the ID assigned by RequestID, or "" outside it.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// =============================================================================
// Request Logging
// =============================================================================

// RequestLogger logs one line per request through slog.
//
// # Description
//
// 5xx responses log at Error, 4xx at Warn and the rest at Info. Paths in
// skip (exact match) are not logged, which keeps probes and scrapes quiet.
// Trace IDs are attached when otelgin has started a span.
//
// # Inputs
//
//   - logger: Nil means slog.Default().
//   - skip: Paths that are never logged, e.g. "/metrics".
func RequestLogger(logger *slog.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if _, ok := skipped[path]; ok {
			return
		}

		base := logger
		if base == nil {
			base = slog.Default()
		}
		status := c.Writer.Status()
		attrs := []any{
			"request_id", GetRequestID(c),
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		log := telemetry.LoggerWithTrace(c.Request.Context(), base)
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request completed", attrs...)
		case status >= http.StatusBadRequest:
			log.Warn("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}

// =============================================================================
// Recovery
// =============================================================================

// Recovery turns a handler panic into a 500 ErrorResponse and logs it.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		base := logger
		if base == nil {
			base = slog.Default()
		}
		base.Error("handler panic",
			"request_id", GetRequestID(c),
			"path", c.Request.URL.Path,
			"panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error: "internal error",
			Code:  "INTERNAL",
		})
	})
}

// =============================================================================
// Rate Limiting
// =============================================================================

// NewLimiter returns a token bucket allowing perSecond sustained requests
// with the given burst, or nil when perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// RateLimit refuses requests with 429 RATE_LIMITED once limiter is empty.
//
// # Inputs
//
//   - limiter: Shared by every request through this middleware. Nil
//     disables limiting.
//   - onLimited: Called for each refused request. May be nil.
func RateLimit(limiter *rate.Limiter, onLimited func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.Allow() {
			c.Next()
			return
		}
		if onLimited != nil {
			onLimited()
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
			Error: "rate limit exceeded",
			Code:  "RATE_LIMITED",
		})
	}
}

// =============================================================================
// CORS
// =============================================================================

// CORS allows cross-origin calls from the browser client.
//
// # Inputs
//
//   - origins: Allowed origins, each with an http:// or https:// scheme.
//     Empty or containing "*" allows every origin.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, RequestIDHeader)
	cfg.ExposeHeaders = []string{RequestIDHeader, "Retry-After"}
	cfg.MaxAge = 12 * time.Hour

	if allowsAllOrigins(origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = make([]string, 0, len(origins))
		for _, o := range origins {
			cfg.AllowOrigins = append(cfg.AllowOrigins, strings.TrimSpace(o))
		}
	}
	return cors.New(cfg)
}

func allowsAllOrigins(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
