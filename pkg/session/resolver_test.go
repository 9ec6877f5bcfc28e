// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphgate/graphgate/pkg/auth"
	"github.com/graphgate/graphgate/pkg/cache"
	gwerr "github.com/graphgate/graphgate/pkg/errors"
)

// stubValidator accepts a single known bearer and rejects everything else.
type stubValidator struct {
	accepted string
	calls    int
}

func (s *stubValidator) ValidateBearer(_ context.Context, authorization string) (auth.Claims, error) {
	s.calls++
	if authorization == s.accepted {
		return auth.Claims{"sub": "caller-1"}, nil
	}
	return nil, gwerr.NewAuthRequiredError("Invalid token: verification failed", nil)
}

func seedSession(t *testing.T, store *cache.MemoryCache, sessionID string) {
	t.Helper()
	err := store.CacheSession(context.Background(), cache.SessionRecord{
		SessionID: sessionID,
		TenantID:  "tenant-1",
		UserID:    "user-1",
		ClientID:  "client-1",
		Scopes:    []string{"Mail.Read", "offline_access"},
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
}

func newResolverFixture(t *testing.T, disabled bool) (*Resolver, *cache.MemoryCache, *stubValidator) {
	t.Helper()
	store := cache.NewMemoryCache(cache.Settings{
		AccessTokenSkew: time.Minute,
		IdempotencyTTL:  30 * time.Minute,
	})
	validator := &stubValidator{accepted: "Bearer good-token"}
	return NewResolver(store, validator, disabled), store, validator
}

func TestResolve(t *testing.T) {
	t.Parallel()

	resolver, store, validator := newResolverFixture(t, false)
	seedSession(t, store, "sid-1")
	ctx := context.Background()

	sess, err := resolver.Resolve(ctx, "sid-1", "Bearer good-token")
	require.NoError(t, err)
	assert.Equal(t, "sid-1", sess.SessionID)
	assert.Equal(t, "tenant-1", sess.TenantID)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, 1, validator.calls)
}

func TestResolveMissingSession(t *testing.T) {
	t.Parallel()

	resolver, _, _ := newResolverFixture(t, false)
	_, err := resolver.Resolve(context.Background(), "", "Bearer good-token")
	require.Error(t, err)
	assert.Equal(t, "Missing session", gwerr.AsError(err).Message)
}

func TestResolveMissingBearer(t *testing.T) {
	t.Parallel()

	resolver, store, _ := newResolverFixture(t, false)
	seedSession(t, store, "sid-1")

	_, err := resolver.Resolve(context.Background(), "sid-1", "")
	require.Error(t, err)
	gwe := gwerr.AsError(err)
	assert.Equal(t, gwerr.CodeAuthRequired, gwe.Code)
	assert.Equal(t, "Missing client token", gwe.Message)
}

func TestResolveRejectedBearer(t *testing.T) {
	t.Parallel()

	resolver, store, _ := newResolverFixture(t, false)
	seedSession(t, store, "sid-1")

	_, err := resolver.Resolve(context.Background(), "sid-1", "Bearer bad-token")
	require.Error(t, err)
	assert.True(t, gwerr.IsAuthRequired(err))
}

func TestResolveUnknownSession(t *testing.T) {
	t.Parallel()

	resolver, _, _ := newResolverFixture(t, false)
	_, err := resolver.Resolve(context.Background(), "sid-unknown", "Bearer good-token")
	require.Error(t, err)
	assert.Equal(t, "Invalid session", gwerr.AsError(err).Message)
}

func TestResolveValidationDisabled(t *testing.T) {
	t.Parallel()

	resolver, store, validator := newResolverFixture(t, true)
	seedSession(t, store, "sid-1")

	sess, err := resolver.Resolve(context.Background(), "sid-1", "")
	require.NoError(t, err)
	assert.Equal(t, "sid-1", sess.SessionID)
	assert.Equal(t, 0, validator.calls, "disabled mode skips bearer validation")
}

func TestLogout(t *testing.T) {
	t.Parallel()

	resolver, store, _ := newResolverFixture(t, true)
	ctx := context.Background()
	seedSession(t, store, "sid-1")
	require.NoError(t, store.CacheRefreshToken(ctx, "sid-1", cache.RefreshRecord{
		RefreshToken: "rt-1",
		Scopes:       []string{"offline_access"},
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}))

	require.NoError(t, resolver.Logout(ctx, "sid-1"))

	_, ok, err := store.GetSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.GetRefreshToken(ctx, "sid-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = resolver.Resolve(ctx, "sid-1", "")
	require.Error(t, err)
	assert.Equal(t, "Invalid session", gwerr.AsError(err).Message)
}
