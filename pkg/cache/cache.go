// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache stores the gateway's short-lived records: PKCE transactions,
// sessions, tokens, idempotent responses, and rate counters. Two backends
// implement the same contract: an in-memory map and a Redis store that
// encrypts every value at rest.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/graphgate/graphgate/pkg/config"
)

// Key namespaces. The prefix is part of the persisted format.
const (
	nsPKCE        = "pkce:"
	nsSession     = "session:"
	nsAccess      = "access:"
	nsRefresh     = "refresh:"
	nsIdempotency = "idempotency:"
	nsRate        = "rate:"
)

const (
	// pkceTTL bounds how long a begun authorization flow may stay pending.
	pkceTTL = 10 * time.Minute

	// minRecordTTL is the floor applied to every computed TTL.
	minRecordTTL = 30 * time.Second
)

// PKCETransaction is the server-side state bridging begin and complete.
// The state value is the cache key, not part of the record.
type PKCETransaction struct {
	Verifier    string   `json:"verifier"`
	Scopes      []string `json:"scopes"`
	RedirectURI string   `json:"redirect_uri"`
}

// SessionRecord maps an opaque session ID to the identity established by a
// completed authorization flow.
type SessionRecord struct {
	SessionID string   `json:"session_id"`
	TenantID  string   `json:"tenant_id"`
	UserID    string   `json:"user_id"`
	ClientID  string   `json:"client_id"`
	Scopes    []string `json:"scopes"`
	ExpiresAt int64    `json:"expires_at"`
}

// RefreshRecord holds the refresh token material for a session. It is
// rotated on every successful refresh.
type RefreshRecord struct {
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scopes"`
	ExpiresAt    int64    `json:"expires_at"`
}

// storedAccessToken wraps a cached access token value.
type storedAccessToken struct {
	Token string `json:"token"`
}

// Cache is the contract both backends implement. Lookups return ok=false
// for missing or expired records; errors are reserved for backend failures.
type Cache interface {
	CacheAccessToken(ctx context.Context, sessionID, token string, expiresIn int64) error
	GetAccessToken(ctx context.Context, sessionID string) (string, bool, error)

	CachePKCE(ctx context.Context, state string, tx PKCETransaction) error
	PopPKCE(ctx context.Context, state string) (PKCETransaction, bool, error)

	CacheSession(ctx context.Context, sess SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error)
	DeleteSession(ctx context.Context, sessionID string) error

	CacheRefreshToken(ctx context.Context, sessionID string, rec RefreshRecord) error
	GetRefreshToken(ctx context.Context, sessionID string) (RefreshRecord, bool, error)
	DeleteRefreshToken(ctx context.Context, sessionID string) error

	CacheIdempotency(ctx context.Context, key string, response map[string]any) error
	GetIdempotency(ctx context.Context, key string) (map[string]any, bool, error)

	RecordRateLimit(ctx context.Context, key string, tokens float64, ttl time.Duration) error
	GetRateLimit(ctx context.Context, key string) (float64, bool, error)

	// Now returns the backend's view of the current time. The clock is
	// injectable so TTL arithmetic is testable.
	Now() time.Time

	Ping(ctx context.Context) error
	Close() error
}

// Settings carries the tunables shared by both backends.
type Settings struct {
	// AccessTokenSkew is subtracted from token lifetimes so entries lapse
	// before the token itself does.
	AccessTokenSkew time.Duration

	// IdempotencyTTL is the retention period for replayable responses.
	IdempotencyTTL time.Duration
}

// New builds the cache backend selected by the configuration.
func New(ctx context.Context, cfg *config.Config) (Cache, error) {
	settings := Settings{
		AccessTokenSkew: cfg.AccessTokenSkew(),
		IdempotencyTTL:  cfg.IdempotencyTTL(),
	}

	switch cfg.CacheMode {
	case config.CacheModeMemory:
		return NewMemoryCache(settings), nil
	case config.CacheModeRemote:
		key, err := cfg.EncryptionKey()
		if err != nil {
			return nil, err
		}
		return NewRedisCache(ctx, cfg.CacheEndpoint, key, settings)
	default:
		return nil, fmt.Errorf("unknown cache_mode %q", cfg.CacheMode)
	}
}

// accessTokenTTL derives the cache TTL from a token lifetime in seconds.
func accessTokenTTL(expiresIn int64, skew time.Duration) time.Duration {
	ttl := time.Duration(expiresIn)*time.Second - skew
	if ttl < minRecordTTL {
		return minRecordTTL
	}
	return ttl
}

// ttlUntil derives the cache TTL from an absolute unix expiry.
func ttlUntil(expiresAt int64, now time.Time, skew time.Duration) time.Duration {
	ttl := time.Duration(expiresAt-now.Unix())*time.Second - skew
	if ttl < minRecordTTL {
		return minRecordTTL
	}
	return ttl
}
