// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api provides the values HTTP service.
//
// This package wires the submission coordinator and the query surface to
// their stores and exposes them over HTTP. It owns the startup sequence
// (telemetry, connections, schema bootstrap, first connection probe) and
// the shutdown sequence (drain requests, stop the monitor, close
// connections).
//
// # Usage
//
//	svc, err := api.New(ctx, api.Config{Port: 5000})
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx) // returns after ctx is cancelled and requests drain
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/fibledger/services/api/handlers"
	"github.com/AleutianAI/fibledger/services/api/middleware"
	"github.com/AleutianAI/fibledger/services/api/observability"
	"github.com/AleutianAI/fibledger/services/api/routes"
	"github.com/AleutianAI/fibledger/services/api/telemetry"
	"github.com/AleutianAI/fibledger/services/values"
	"github.com/AleutianAI/fibledger/services/values/connstate"
)

const (
	meterName         = "github.com/AleutianAI/fibledger/services/api"
	readHeaderTimeout = 10 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the values service.
//
// # Thread Safety
//
// Run and Serve block and should be called once per instance. Close is safe
// to call more than once and from any goroutine.
type Service interface {
	// Run listens on the configured port and serves until ctx is cancelled
	// or the server fails. In-flight requests are drained before it returns
	// and every connection is closed.
	Run(ctx context.Context) error

	// Serve is Run on an existing listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the configured Gin engine, primarily for tests.
	Router() *gin.Engine

	// Close releases every resource without serving. Run and Serve call it
	// on return.
	Close() error
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - config: Configuration with defaults applied
//   - logger: Service logger
//   - registry: Prometheus registry behind GET /metrics
//   - stores: Cache, channel and ledger connections
//   - monitor: Background connection prober
//   - router: Gin HTTP engine
//   - server: HTTP server wrapping router
//   - telemetryShutdown: Flushes trace and meter providers
type service struct {
	config            Config
	logger            *slog.Logger
	registry          *prometheus.Registry
	metrics           *observability.Metrics
	stores            *Stores
	monitor           *connstate.Monitor
	coordinator       *values.Coordinator
	query             *values.Query
	router            *gin.Engine
	server            *http.Server
	telemetryShutdown func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// New creates a values Service.
//
// # Description
//
// New initializes every component in order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry and the Prometheus registry
//  3. Opens the cache, channel and ledger connections
//  4. Probes every dependency once so readiness is known before serving
//  5. Builds the coordinator and the query surface
//  6. Sets up the HTTP router and server
//
// # Inputs
//
//   - ctx: Bounds connection setup and the first probe round.
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready to run. Dependencies that were unreachable are
//     retried by the monitor once Run starts.
//   - error: Non-nil if telemetry or the ledger cannot be initialized.
func New(ctx context.Context, cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	s.logger = s.config.Logger.With("component", "api")

	gin.SetMode(s.config.GinMode)

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	telemetryCfg := s.config.Telemetry
	telemetryCfg.Registerer = s.registry
	shutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown

	s.metrics = observability.NewMetrics(s.registry)

	s.stores, err = OpenStores(ctx, s.config, s.config.Logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open stores: %w", err)
	}
	for _, tracker := range s.stores.Trackers() {
		s.metrics.TrackDependency(tracker)
		tracker.OnTransition(s.logTransition)
	}

	s.monitor = connstate.NewMonitor(connstate.MonitorConfig{
		Interval: s.config.ProbeInterval,
		Timeout:  s.config.ProbeTimeout,
	}, s.config.Logger, s.stores.Probes()...)
	s.monitor.RunNow(ctx)

	deps := s.stores.Dependencies()
	s.coordinator, err = values.NewCoordinator(deps, values.CoordinatorConfig{
		Ceiling:        s.config.Ceiling,
		CacheTimeout:   s.config.CacheTimeout,
		ChannelTimeout: s.config.ChannelTimeout,
		LedgerTimeout:  s.config.LedgerTimeout,
		Observer:       s.metrics,
		Logger:         s.config.Logger,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	s.query, err = values.NewQuery(deps)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create query: %w", err)
	}

	if err := s.initRouter(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(s.config.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("Values service initialized",
		"ledger_driver", s.config.LedgerDriver,
		"ceiling", int64(s.coordinator.Ceiling()),
		"channel", s.stores.Publisher.Channel(),
		"placeholder", s.stores.Cache.Placeholder(),
		"cache_state", s.stores.CacheState.State().String(),
		"channel_state", s.stores.ChannelState.State().String(),
		"ledger_state", s.stores.LedgerState.State().String(),
	)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run listens on the configured port and serves until ctx is done.
func (s *service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done or the server fails.
//
// # Description
//
// Starts the connection monitor, then runs the HTTP server and a shutdown
// watcher in an errgroup. When ctx is cancelled the server stops accepting
// connections and waits up to ShutdownTimeout for in-flight requests. The
// monitor and every store are closed before Serve returns.
//
// # Outputs
//
//   - error: Nil after a clean shutdown. Non-nil if the server failed or
//     draining timed out.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	if err := s.monitor.Start(ctx); err != nil && !errors.Is(err, connstate.ErrMonitorRunning) {
		_ = ln.Close()
		return fmt.Errorf("start monitor: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting values server", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down values server", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("drain requests: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Router returns the underlying Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases every resource.
func (s *service) Close() error {
	s.cleanup()
	return s.closeErr
}

// =============================================================================
// Private Methods
// =============================================================================

// initRouter builds the Gin engine with global middleware and routes.
func (s *service) initRouter() error {
	httpMetrics, err := telemetry.NewHTTPMetrics(otel.Meter(meterName))
	if err != nil {
		return fmt.Errorf("failed to create http metrics: %w", err)
	}

	h, err := handlers.NewHandlers(s.coordinator, s.query, handlers.Config{
		ExposeErrorDetails: s.config.ExposeErrorDetails,
		Metrics:            s.metrics,
		Trackers:           s.stores.Trackers(),
		Logger:             s.config.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create handlers: %w", err)
	}

	s.router = gin.New()
	s.router.Use(
		middleware.Recovery(s.config.Logger),
		middleware.RequestID(),
		otelgin.Middleware(s.config.Telemetry.ServiceName),
		middleware.RequestLogger(s.config.Logger, "/metrics", "/health", "/ready"),
		middleware.CORS(s.config.CORSOrigins),
		telemetry.Middleware(httpMetrics),
	)

	limiter := middleware.NewLimiter(s.config.SubmitRateLimit, s.config.SubmitBurst)
	metricsHandler := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
	routes.SetupRoutes(s.router, h, metricsHandler,
		middleware.RateLimit(limiter, s.metrics.RecordRateLimited))
	return nil
}

func (s *service) logTransition(tr connstate.Transition) {
	attrs := []any{
		"dependency", tr.Dependency,
		"from", tr.From.String(),
		"to", tr.To.String(),
	}
	if tr.To == connstate.Disconnected {
		if tr.Err != nil {
			attrs = append(attrs, "error", tr.Err)
		}
		s.logger.Warn("Dependency disconnected", attrs...)
		return
	}
	s.logger.Info("Dependency state changed", attrs...)
}

// cleanup stops the monitor, closes the stores and flushes telemetry. Runs
// once.
func (s *service) cleanup() {
	s.closeOnce.Do(func() {
		var errs []error
		if s.monitor != nil {
			s.monitor.Stop()
		}
		if s.stores != nil {
			errs = append(errs, s.stores.Close())
		}
		if s.telemetryShutdown != nil {
			errs = append(errs, s.telemetryShutdown(context.Background()))
		}
		s.closeErr = errors.Join(errs...)
		if s.closeErr != nil {
			s.logger.Warn("Cleanup finished with errors", "error", s.closeErr)
		}
	})
}
