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
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fibledger/services/api/handlers"
	"github.com/AleutianAI/fibledger/services/values"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type okSubmitter struct{}

func (okSubmitter) Submit(_ context.Context, text string) (values.Index, error) {
	return values.ParseIndex(text)
}

type emptyReader struct{}

func (emptyReader) Current(context.Context) (values.Snapshot, error) { return values.Snapshot{}, nil }
func (emptyReader) History(context.Context) ([]values.Record, error) { return []values.Record{}, nil }

func newHandlers(t *testing.T) *handlers.Handlers {
	t.Helper()
	h, err := handlers.NewHandlers(okSubmitter{}, emptyReader{}, handlers.Config{})
	require.NoError(t, err)
	return h
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersTable(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newHandlers(t), http.NotFoundHandler())

	registered := make(map[string]bool)
	for _, r := range router.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"GET /",
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"GET /values/all",
		"GET /values/current",
		"POST /values",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}
}

func TestSetupRoutes_NoMetricsHandler(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newHandlers(t), nil)

	for _, r := range router.Routes() {
		assert.NotEqual(t, "/metrics", r.Path)
	}
}

func TestSetupRoutes_SubmitMiddlewareOnlyOnPost(t *testing.T) {
	var calls int
	counter := func(c *gin.Context) {
		calls++
		c.Next()
	}

	router := gin.New()
	SetupRoutes(router, newHandlers(t), nil, counter)

	for _, path := range []string{"/", "/values/all", "/values/current"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.Zero(t, calls)

	req := httptest.NewRequest(http.MethodPost, "/values", strings.NewReader(`{"index":"3"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
}

func TestSetupRoutes_MetricsHandlerServed(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newHandlers(t), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", w.Body.String())
}
