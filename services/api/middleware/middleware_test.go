// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fibledger/services/api/datatypes"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ============================================================================
// RequestID
// ============================================================================

func TestRequestID_Generates(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())

	var seen string
	router.GET("/", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := serve(router, http.MethodGet, "/", nil)
	id := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, seen)
}

func TestRequestID_ReusesClientID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, http.MethodGet, "/", http.Header{RequestIDHeader: {"client-abc-1"}})
	assert.Equal(t, "client-abc-1", w.Header().Get(RequestIDHeader))
}

func TestRequestID_RejectsBadClientID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, bad := range []string{"has space", strings.Repeat("x", maxRequestIDLength+1)} {
		w := serve(router, http.MethodGet, "/", http.Header{RequestIDHeader: {bad}})
		assert.NotEqual(t, bad, w.Header().Get(RequestIDHeader))
		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetRequestID(c))
}

// ============================================================================
// RequestLogger
// ============================================================================

func TestRequestLogger_LevelsByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	router := gin.New()
	router.Use(RequestID(), RequestLogger(logger, "/metrics"))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusUnprocessableEntity) })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })
	router.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, http.MethodGet, "/ok", nil)
	serve(router, http.MethodGet, "/bad", nil)
	serve(router, http.MethodGet, "/boom", nil)
	serve(router, http.MethodGet, "/metrics", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "level=INFO")
	assert.Contains(t, lines[0], "path=/ok")
	assert.Contains(t, lines[1], "level=WARN")
	assert.Contains(t, lines[2], "level=ERROR")
	assert.Contains(t, lines[2], "status=503")
	assert.Contains(t, lines[0], "request_id=")
}

// ============================================================================
// Recovery
// ============================================================================

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	router := gin.New()
	router.Use(RequestID(), Recovery(logger))
	router.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	w := serve(router, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL", body.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), "kaboom")
}

// ============================================================================
// RateLimit
// ============================================================================

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0, 5))
	assert.Nil(t, NewLimiter(-1, 5))

	l := NewLimiter(2, 0)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.Burst())
}

func TestRateLimit(t *testing.T) {
	var limited int
	router := gin.New()
	router.POST("/values", RateLimit(NewLimiter(0.001, 2), func() { limited++ }), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, serve(router, http.MethodPost, "/values", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, limited)

	w := serve(router, http.MethodPost, "/values", nil)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	var body datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body.Code)
}

func TestRateLimit_NilLimiter(t *testing.T) {
	router := gin.New()
	router.POST("/values", RateLimit(nil, nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/values", nil).Code)
	}
}

// ============================================================================
// CORS
// ============================================================================

func TestCORS_AllOrigins(t *testing.T) {
	router := gin.New()
	router.Use(CORS(nil))
	router.GET("/values/all", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, http.MethodGet, "/values/all", http.Header{"Origin": {"http://client.local"}})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"http://allowed.local"}))
	router.GET("/values/all", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, http.MethodGet, "/values/all", http.Header{"Origin": {"http://allowed.local"}})
	assert.Equal(t, "http://allowed.local", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(router, http.MethodGet, "/values/all", http.Header{"Origin": {"http://other.local"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAllowsAllOrigins(t *testing.T) {
	assert.True(t, allowsAllOrigins(nil))
	assert.True(t, allowsAllOrigins([]string{"http://a", " * "}))
	assert.False(t, allowsAllOrigins([]string{"http://a"}))
}
