package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		AccessTokenSkew: 60 * time.Second,
		IdempotencyTTL:  30 * time.Minute,
	}
}

func TestMemoryAccessTokenRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(testSettings())

	_, ok, err := c.GetAccessToken(ctx, "sid")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.CacheAccessToken(ctx, "sid", "at-1", 3600))

	token, ok, err := c.GetAccessToken(ctx, "sid")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "at-1", token)
}

func TestMemoryAccessTokenExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(testSettings())

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.CacheAccessToken(ctx, "sid", "at-1", 3600))

	// TTL is expires_in minus skew: at 3600-60 seconds the entry is gone.
	now = now.Add(3540 * time.Second)
	_, ok, err := c.GetAccessToken(ctx, "sid")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryAccessTokenTTLFloor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(testSettings())

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	// expires_in below the skew still yields the 30s floor.
	require.NoError(t, c.CacheAccessToken(ctx, "sid", "at-1", 10))

	now = now.Add(29 * time.Second)
	token, ok, err := c.GetAccessToken(ctx, "sid")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "at-1", token)

	now = now.Add(2 * time.Second)
	_, ok, err = c.GetAccessToken(ctx, "sid")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryPopPKCESingleUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(testSettings())

	tx := PKCETransaction{
		Verifier:    "verifier-1",
		Scopes:      []string{"Mail.Read", "offline_access"},
		RedirectURI: "http://cb",
	}
	require.NoError(t, c.CachePKCE(ctx, "state-1", tx))

	got, ok, err := c.PopPKCE(ctx, "state-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tx, got)

	// Second pop with the same state must miss.
	_, ok, err = c.PopPKCE(ctx, "state-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryPopPKCEExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(testSettings())

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.CachePKCE(ctx, "state-1", PKCETransaction{Verifier: "v"}))

	now = now.Add(11 * time.Minute)
	_, ok, err := c.PopPKCE(ctx, "state-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySessionLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(testSettings())

	sess := SessionRecord{
		SessionID: "sid-1",
		TenantID:  "tenant-1",
		UserID:    "user-123",
		ClientID:  "client-1",
		Scopes:    []string{"Mail.Read"},
		ExpiresAt: c.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, c.CacheSession(ctx, sess))

	got, ok, err := c.GetSession(ctx, "sid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sess, got)

	require.NoError(t, c.DeleteSession(ctx, "sid-1"))
	_, ok, err = c.GetSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRefreshTokenLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(testSettings())

	rec := RefreshRecord{
		RefreshToken: "rt-1",
		Scopes:       []string{"Mail.Read"},
		ExpiresAt:    c.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, c.CacheRefreshToken(ctx, "sid-1", rec))

	got, ok, err := c.GetRefreshToken(ctx, "sid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	require.NoError(t, c.DeleteRefreshToken(ctx, "sid-1"))
	_, ok, err = c.GetRefreshToken(ctx, "sid-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryIdempotency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(testSettings())

	response := map[string]any{"result": map[string]any{"id": "d1"}, "hash": "abc"}
	require.NoError(t, c.CacheIdempotency(ctx, "tenant:user:tool:k1", response))

	got, ok, err := c.GetIdempotency(ctx, "tenant:user:tool:k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, response, got)
}

func TestMemoryRateLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(testSettings())

	_, ok, err := c.GetRateLimit(ctx, "client-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.RecordRateLimit(ctx, "client-1", 41.5, time.Minute))

	tokens, ok, err := c.GetRateLimit(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 41.5, tokens)
}
