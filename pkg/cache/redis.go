// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	gwerr "github.com/graphgate/graphgate/pkg/errors"
)

// Redis operation timeouts.
const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// RedisCache is the production backend. Every value except the plaintext
// rate counters is encrypted with AES-256-GCM before it reaches Redis.
type RedisCache struct {
	client   redis.UniversalClient
	sealer   *sealer
	settings Settings
	now      func() time.Time
}

// NewRedisCache connects to the Redis endpoint (a redis:// URL) and verifies
// connectivity before returning.
func NewRedisCache(ctx context.Context, endpoint string, key []byte, settings Settings) (*RedisCache, error) {
	opts, err := redis.ParseURL(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid cache endpoint: %w", err)
	}
	opts.DialTimeout = defaultDialTimeout
	opts.ReadTimeout = defaultReadTimeout
	opts.WriteTimeout = defaultWriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, key, settings)
}

// NewRedisCacheWithClient wraps a pre-configured client. Used by tests with
// miniredis.
func NewRedisCacheWithClient(client redis.UniversalClient, key []byte, settings Settings) (*RedisCache, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	return &RedisCache{
		client:   client,
		sealer:   s,
		settings: settings,
		now:      time.Now,
	}, nil
}

// Now returns the cache's view of the current time.
func (r *RedisCache) Now() time.Time {
	return r.now()
}

// Ping checks Redis connectivity.
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return gwerr.NewUpstreamError("Cache unavailable", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	sealed, err := r.sealer.Seal(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt cache value: %w", err)
	}
	if err := r.client.SetEx(ctx, key, sealed, ttl).Err(); err != nil {
		return gwerr.NewUpstreamError("Cache unavailable", err)
	}
	return nil
}

func (r *RedisCache) getJSON(ctx context.Context, key string, out any) (bool, error) {
	blob, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, gwerr.NewUpstreamError("Cache unavailable", err)
	}
	return true, r.openInto(blob, out)
}

func (r *RedisCache) openInto(blob string, out any) error {
	data, err := r.sealer.Open(blob)
	if err != nil {
		return fmt.Errorf("failed to decrypt cache value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

func (r *RedisCache) delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return gwerr.NewUpstreamError("Cache unavailable", err)
	}
	return nil
}

// CacheAccessToken stores an access token with a skewed TTL.
func (r *RedisCache) CacheAccessToken(ctx context.Context, sessionID, token string, expiresIn int64) error {
	ttl := accessTokenTTL(expiresIn, r.settings.AccessTokenSkew)
	return r.setJSON(ctx, nsAccess+sessionID, storedAccessToken{Token: token}, ttl)
}

// GetAccessToken returns the cached access token for a session, if live.
func (r *RedisCache) GetAccessToken(ctx context.Context, sessionID string) (string, bool, error) {
	var stored storedAccessToken
	ok, err := r.getJSON(ctx, nsAccess+sessionID, &stored)
	if err != nil || !ok {
		return "", false, err
	}
	return stored.Token, stored.Token != "", nil
}

// CachePKCE stores a pending PKCE transaction under its state value.
func (r *RedisCache) CachePKCE(ctx context.Context, state string, tx PKCETransaction) error {
	return r.setJSON(ctx, nsPKCE+state, tx, pkceTTL)
}

// PopPKCE consumes a PKCE transaction via atomic GETDEL, so concurrent
// completions for the same state observe it at most once.
func (r *RedisCache) PopPKCE(ctx context.Context, state string) (PKCETransaction, bool, error) {
	blob, err := r.client.GetDel(ctx, nsPKCE+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PKCETransaction{}, false, nil
		}
		return PKCETransaction{}, false, gwerr.NewUpstreamError("Cache unavailable", err)
	}

	var tx PKCETransaction
	if err := r.openInto(blob, &tx); err != nil {
		return PKCETransaction{}, false, err
	}
	if tx.Verifier == "" {
		return PKCETransaction{}, false, nil
	}
	return tx, true, nil
}

// CacheSession stores a session record until its expiry, minus skew.
func (r *RedisCache) CacheSession(ctx context.Context, sess SessionRecord) error {
	ttl := ttlUntil(sess.ExpiresAt, r.now(), r.settings.AccessTokenSkew)
	return r.setJSON(ctx, nsSession+sess.SessionID, sess, ttl)
}

// GetSession returns the session record for an opaque session ID.
func (r *RedisCache) GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error) {
	var sess SessionRecord
	ok, err := r.getJSON(ctx, nsSession+sessionID, &sess)
	return sess, ok, err
}

// DeleteSession removes a session record.
func (r *RedisCache) DeleteSession(ctx context.Context, sessionID string) error {
	return r.delete(ctx, nsSession+sessionID)
}

// CacheRefreshToken stores refresh token material alongside a session.
func (r *RedisCache) CacheRefreshToken(ctx context.Context, sessionID string, rec RefreshRecord) error {
	ttl := ttlUntil(rec.ExpiresAt, r.now(), r.settings.AccessTokenSkew)
	return r.setJSON(ctx, nsRefresh+sessionID, rec, ttl)
}

// GetRefreshToken returns the refresh record for a session.
func (r *RedisCache) GetRefreshToken(ctx context.Context, sessionID string) (RefreshRecord, bool, error) {
	var rec RefreshRecord
	ok, err := r.getJSON(ctx, nsRefresh+sessionID, &rec)
	return rec, ok, err
}

// DeleteRefreshToken removes the refresh record for a session.
func (r *RedisCache) DeleteRefreshToken(ctx context.Context, sessionID string) error {
	return r.delete(ctx, nsRefresh+sessionID)
}

// CacheIdempotency stores a replayable tool response.
func (r *RedisCache) CacheIdempotency(ctx context.Context, key string, response map[string]any) error {
	return r.setJSON(ctx, nsIdempotency+key, response, r.settings.IdempotencyTTL)
}

// GetIdempotency returns a previously stored tool response.
func (r *RedisCache) GetIdempotency(ctx context.Context, key string) (map[string]any, bool, error) {
	var response map[string]any
	ok, err := r.getJSON(ctx, nsIdempotency+key, &response)
	return response, ok, err
}

// RecordRateLimit stores an advisory rate-limit counter. Counters hold no
// secret material, so they are stored plaintext for cheap numeric reads.
func (r *RedisCache) RecordRateLimit(ctx context.Context, key string, tokens float64, ttl time.Duration) error {
	value := strconv.FormatFloat(tokens, 'f', -1, 64)
	if err := r.client.SetEx(ctx, nsRate+key, value, ttl).Err(); err != nil {
		return gwerr.NewUpstreamError("Cache unavailable", err)
	}
	return nil
}

// GetRateLimit returns an advisory rate-limit counter.
func (r *RedisCache) GetRateLimit(ctx context.Context, key string) (float64, bool, error) {
	value, err := r.client.Get(ctx, nsRate+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, gwerr.NewUpstreamError("Cache unavailable", err)
	}
	tokens, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid rate-limit counter: %w", err)
	}
	return tokens, true, nil
}
