// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the HTTP surface of the gateway: the streamable
// MCP endpoint plus health and readiness probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/graphgate/graphgate/pkg/auth"
	"github.com/graphgate/graphgate/pkg/cache"
	"github.com/graphgate/graphgate/pkg/config"
	"github.com/graphgate/graphgate/pkg/logger"
	"github.com/graphgate/graphgate/pkg/tools"
	"github.com/graphgate/graphgate/pkg/versions"
)

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	idleTimeout       = 120 * time.Second
	maxHeaderBytes    = 1 << 20
	shutdownTimeout   = 10 * time.Second
)

// Server hosts the MCP endpoint and the probe routes.
type Server struct {
	cfg        *config.Config
	store      cache.Cache
	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
}

// New builds the server and registers the full tool surface.
func New(cfg *config.Config, store cache.Cache, deps *tools.Deps) *Server {
	mcpSrv := mcpserver.NewMCPServer(
		"graphgate",
		versions.GetVersionInfo().Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithLogging(),
	)
	mcpSrv.AddTools(tools.Registry(deps)...)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath("/mcp"),
		mcpserver.WithHTTPContextFunc(bearerContext),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Get("/health", healthHandler)
	r.Get("/ping", healthHandler)
	r.Get("/readyz", readyHandler(store))
	r.Mount("/mcp", streamable)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		// Streaming responses stay open indefinitely.
		WriteTimeout:   0,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	return &Server{
		cfg:        cfg,
		store:      store,
		mcpServer:  mcpSrv,
		httpServer: httpServer,
	}
}

// bearerContext carries the caller's Authorization header into tool handler
// contexts. The header value itself is never logged.
func bearerContext(ctx context.Context, r *http.Request) context.Context {
	if header := r.Header.Get("Authorization"); header != "" {
		ctx = auth.WithBearer(ctx, header)
	}
	return ctx
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("starting server", "addr", s.httpServer.Addr, "endpoint", "/mcp")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return <-errCh
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]any{"status": "ok"})
}

// readyHandler reports readiness based on cache reachability. A gateway that
// cannot reach its cache cannot serve sessions.
func readyHandler(store cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Warnw("readiness check failed", "error", err)
			writeStatus(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  "Cache unavailable",
			})
			return
		}
		writeStatus(w, http.StatusOK, map[string]any{"status": "ready"})
	}
}

func writeStatus(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
