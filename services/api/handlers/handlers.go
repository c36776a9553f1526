// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers of the values API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/fibledger/services/api/datatypes"
	"github.com/AleutianAI/fibledger/services/api/middleware"
	"github.com/AleutianAI/fibledger/services/api/observability"
	"github.com/AleutianAI/fibledger/services/api/telemetry"
	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/connstate"
)

// ServiceVersion is reported by /health.
const ServiceVersion = "1.0.0"

// Error codes that are not validation codes.
const (
	CodeMalformedBody         = "MALFORMED_BODY"
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	CodeLedgerUnavailable     = "LEDGER_UNAVAILABLE"
	CodeInternal              = "INTERNAL"
)

// Submitter accepts index submissions. Implemented by *values.Coordinator.
type Submitter interface {
	Submit(ctx context.Context, indexText string) (values.Index, error)
}

// Reader serves the history and the cache snapshot. Implemented by
// *values.Query.
type Reader interface {
	Current(ctx context.Context) (values.Snapshot, error)
	History(ctx context.Context) ([]values.Record, error)
}

// Config holds optional handler settings.
type Config struct {
	// ExposeErrorDetails copies internal causes into ErrorResponse.Details.
	ExposeErrorDetails bool

	// Metrics records query outcomes. May be nil.
	Metrics *observability.Metrics

	// Trackers are reported by /health and /ready in this order.
	Trackers []*connstate.Tracker

	// Logger is used for failures. Nil means slog.Default().
	Logger *slog.Logger
}

// Handlers contains the HTTP handlers for the values API.
type Handlers struct {
	submitter Submitter
	reader    Reader
	cfg       Config
}

// NewHandlers creates handlers.
//
// # Inputs
//
//   - submitter: Backs POST /values.
//   - reader: Backs GET /values/all and GET /values/current.
//   - cfg: Optional settings.
//
// # Outputs
//
//   - *Handlers: Ready for concurrent use.
//   - error: Non-nil if submitter or reader is nil.
func NewHandlers(submitter Submitter, reader Reader, cfg Config) (*Handlers, error) {
	if submitter == nil {
		return nil, errors.New("handlers: nil submitter")
	}
	if reader == nil {
		return nil, errors.New("handlers: nil reader")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handlers{submitter: submitter, reader: reader, cfg: cfg}, nil
}

// HandleRoot handles GET /.
//
// Response:
//
//	200 OK: "Hi"
func (h *Handlers) HandleRoot(c *gin.Context) {
	c.String(http.StatusOK, "Hi")
}

// HandleListAll handles GET /values/all.
//
// # Description
//
// Returns every ledger record. Duplicates are kept and no order is
// promised. Works while the cache is down.
//
// Response:
//
//	200 OK: [{"number": 5}, ...]
//	500 Internal Server Error: Ledger unreachable or query failed
func (h *Handlers) HandleListAll(c *gin.Context) {
	records, err := h.reader.History(c.Request.Context())
	h.cfg.Metrics.ObserveQuery(observability.QueryHistory, err)
	if err != nil {
		h.writeError(c, "HandleListAll", err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// HandleCurrent handles GET /values/current.
//
// # Description
//
// Returns the cache snapshot, index text to result text. Indices still
// waiting for the worker carry the placeholder.
//
// Response:
//
//	200 OK: {"5": "5", "7": "pending"}
//	503 Service Unavailable: Cache not connected
//	500 Internal Server Error: Cache read failed
func (h *Handlers) HandleCurrent(c *gin.Context) {
	snapshot, err := h.reader.Current(c.Request.Context())
	h.cfg.Metrics.ObserveQuery(observability.QueryCurrent, err)
	if err != nil {
		h.writeError(c, "HandleCurrent", err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// HandleSubmit handles POST /values.
//
// # Description
//
// Parses the body and hands the index to the coordinator, which writes the
// placeholder, publishes the notification and appends to the ledger. The
// response is sent only after all three succeed.
//
// Request Body:
//
//	{"index": "5"} or {"index": 5}
//
// Response:
//
//	200 OK: {"working": true}
//	422 Unprocessable Entity: INVALID_INDEX or INDEX_TOO_HIGH
//	503 Service Unavailable: Cache or channel not connected
//	500 Internal Server Error: MALFORMED_BODY, ledger failure or other error
func (h *Handlers) HandleSubmit(c *gin.Context) {
	var req datatypes.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger(c).Warn("Invalid request body", "handler", "HandleSubmit", "error", err)
		resp := datatypes.ErrorResponse{
			Error: "malformed request body",
			Code:  CodeMalformedBody,
		}
		if h.cfg.ExposeErrorDetails {
			resp.Details = err.Error()
		}
		c.JSON(http.StatusInternalServerError, resp)
		return
	}

	text, err := req.IndexText()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{
			Error: err.Error(),
			Code:  values.CodeInvalidIndex,
		})
		return
	}

	index, err := h.submitter.Submit(c.Request.Context(), text)
	if err != nil {
		h.writeError(c, "HandleSubmit", err)
		return
	}

	h.logger(c).Debug("Submission recorded", "index", index)
	c.JSON(http.StatusOK, datatypes.SubmitResponse{Working: true})
}

// =============================================================================
// Error mapping
// =============================================================================

// StatusFor maps a domain error to an HTTP status and error body.
//
// # Description
//
//   - *values.ValidationError: 422 with its code and reason.
//   - Cache or channel unavailable: 503 DEPENDENCY_UNAVAILABLE.
//   - Ledger unavailable: 500 LEDGER_UNAVAILABLE.
//   - Anything else: 500 INTERNAL.
//
// The cause is copied to Details only when exposeDetails is set.
func StatusFor(err error, exposeDetails bool) (int, datatypes.ErrorResponse) {
	var validation *values.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, datatypes.ErrorResponse{
			Error: validation.Reason,
			Code:  validation.Code,
		}
	}

	status := http.StatusInternalServerError
	resp := datatypes.ErrorResponse{Error: "internal error", Code: CodeInternal}

	var depErr *values.DependencyError
	if errors.Is(err, values.ErrDependencyUnavailable) && errors.As(err, &depErr) {
		if depErr.Dependency == values.DependencyLedger {
			resp = datatypes.ErrorResponse{Error: "ledger unavailable", Code: CodeLedgerUnavailable}
		} else {
			status = http.StatusServiceUnavailable
			resp = datatypes.ErrorResponse{
				Error: string(depErr.Dependency) + " unavailable",
				Code:  CodeDependencyUnavailable,
			}
		}
	}

	if exposeDetails {
		resp.Details = err.Error()
	}
	return status, resp
}

func (h *Handlers) writeError(c *gin.Context, handler string, err error) {
	status, resp := StatusFor(err, h.cfg.ExposeErrorDetails)

	logger := h.logger(c).With("handler", handler, "status", status, "code", resp.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	} else {
		logger.Info("Request rejected", "reason", resp.Error)
	}
	c.JSON(status, resp)
}

func (h *Handlers) logger(c *gin.Context) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), h.cfg.Logger).
		With("request_id", middleware.GetRequestID(c))
}

// =============================================================================
// Health
// =============================================================================

// HandleHealth handles GET /health.
//
// # Description
//
// Liveness. Always 200 while the process serves requests; dependency states
// are included for operators.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, datatypes.HealthResponse{
		Status:       "ok",
		Version:      ServiceVersion,
		Dependencies: h.dependencyStatus(),
	})
}

// HandleReady handles GET /ready.
//
// # Description
//
// Readiness. 200 only when every tracked dependency is Connected.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true)
//	503 Service Unavailable: ReadyResponse (Ready=false)
func (h *Handlers) HandleReady(c *gin.Context) {
	ready := true
	for _, t := range h.cfg.Trackers {
		if !t.Available() {
			ready = false
			break
		}
	}

	resp := datatypes.ReadyResponse{Ready: ready, Dependencies: h.dependencyStatus()}
	if !ready {
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) dependencyStatus() map[string]datatypes.DependencyStatus {
	out := make(map[string]datatypes.DependencyStatus, len(h.cfg.Trackers))
	for _, t := range h.cfg.Trackers {
		status := datatypes.DependencyStatus{
			State: t.State().String(),
			Since: t.Since().UTC(),
		}
		if err := t.LastError(); err != nil {
			status.LastError = err.Error()
		}
		out[t.Name()] = status
	}
	return out
}
