// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphgate/graphgate/pkg/auth"
	"github.com/graphgate/graphgate/pkg/cache"
	"github.com/graphgate/graphgate/pkg/config"
	"github.com/graphgate/graphgate/pkg/graph"
	"github.com/graphgate/graphgate/pkg/idempotency"
	"github.com/graphgate/graphgate/pkg/idp"
	"github.com/graphgate/graphgate/pkg/session"
	"github.com/graphgate/graphgate/pkg/tools"
)

// brokenCache fails readiness pings but otherwise behaves as the memory cache.
type brokenCache struct {
	*cache.MemoryCache
}

func (*brokenCache) Ping(context.Context) error {
	return errors.New("backend down")
}

func newTestServer(t *testing.T, store cache.Cache) *Server {
	t.Helper()

	cfg := &config.Config{
		GraphClientID:         "client-1",
		GraphTenantID:         "organizations",
		LoginBaseURL:          "http://127.0.0.1:0",
		UpstreamBaseURL:       "http://127.0.0.1:0",
		HTTPTimeoutSeconds:    5,
		MaxRetryAttempts:      1,
		RetryBaseSeconds:      0.01,
		DisableOIDCValidation: true,
		Host:                  "127.0.0.1",
		Port:                  0,
	}
	provider := idp.NewProvider(cfg, &http.Client{Timeout: 5 * time.Second})
	graphClient := graph.NewClient(cfg)
	deps := &tools.Deps{
		Auth:        session.NewAuthService(store, provider, graphClient, cfg),
		Tokens:      session.NewTokenService(store, provider),
		Resolver:    session.NewResolver(store, nil, true),
		Idempotency: idempotency.NewCoordinator(store),
		Graph:       graphClient,
		Config:      cfg,
	}
	return New(cfg, store, deps)
}

func memoryStore() *cache.MemoryCache {
	return cache.NewMemoryCache(cache.Settings{
		AccessTokenSkew: time.Minute,
		IdempotencyTTL:  30 * time.Minute,
	})
}

func getJSON(t *testing.T, handler http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, memoryStore())
	for _, path := range []string{"/health", "/ping"} {
		code, body := getJSON(t, srv.Handler(), path)
		assert.Equal(t, http.StatusOK, code, path)
		assert.Equal(t, "ok", body["status"], path)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, memoryStore())
	code, body := getJSON(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzCacheDown(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &brokenCache{MemoryCache: memoryStore()})
	code, body := getJSON(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
	assert.Equal(t, "Cache unavailable", body["error"])
}

func TestBearerContext(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	ctx := bearerContext(context.Background(), req)
	assert.Equal(t, "Bearer tok-1", auth.BearerFromContext(ctx))

	ctx = bearerContext(context.Background(), httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Empty(t, auth.BearerFromContext(ctx))
}

func TestRunShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, memoryStore())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	// Give the listener a moment to bind before cancelling.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after context cancellation")
	}
}
