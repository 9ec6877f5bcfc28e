// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryCache is the in-process backend used for tests and single-node dev
// setups. Values are held unencrypted; expiry is checked lazily on read.
type MemoryCache struct {
	mu       sync.RWMutex
	store    map[string]memoryEntry
	settings Settings

	// now is injectable for TTL tests.
	now func() time.Time
}

type memoryEntry struct {
	expiresAt time.Time
	value     []byte
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache(settings Settings) *MemoryCache {
	return &MemoryCache{
		store:    make(map[string]memoryEntry),
		settings: settings,
		now:      time.Now,
	}
}

// SetClock replaces the cache's clock. For tests only.
func (m *MemoryCache) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Now returns the cache's view of the current time.
func (m *MemoryCache) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now()
}

// Ping always succeeds for the in-memory backend.
func (*MemoryCache) Ping(context.Context) error {
	return nil
}

// Close releases the backing store.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = make(map[string]memoryEntry)
	return nil
}

func (m *MemoryCache) setJSON(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = memoryEntry{expiresAt: m.now().Add(ttl), value: data}
	return nil
}

// getJSON reads key into out. Expired entries are dropped on read.
func (m *MemoryCache) getJSON(key string, out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.store[key]
	if !ok {
		return false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.store, key)
		return false, nil
	}
	if err := json.Unmarshal(entry.value, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (m *MemoryCache) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
}

// CacheAccessToken stores an access token with a skewed TTL.
func (m *MemoryCache) CacheAccessToken(_ context.Context, sessionID, token string, expiresIn int64) error {
	ttl := accessTokenTTL(expiresIn, m.settings.AccessTokenSkew)
	return m.setJSON(nsAccess+sessionID, storedAccessToken{Token: token}, ttl)
}

// GetAccessToken returns the cached access token for a session, if live.
func (m *MemoryCache) GetAccessToken(_ context.Context, sessionID string) (string, bool, error) {
	var stored storedAccessToken
	ok, err := m.getJSON(nsAccess+sessionID, &stored)
	if err != nil || !ok {
		return "", false, err
	}
	return stored.Token, stored.Token != "", nil
}

// CachePKCE stores a pending PKCE transaction under its state value.
func (m *MemoryCache) CachePKCE(_ context.Context, state string, tx PKCETransaction) error {
	return m.setJSON(nsPKCE+state, tx, pkceTTL)
}

// PopPKCE consumes a PKCE transaction. The read and delete happen under one
// lock, so a state is observed at most once.
func (m *MemoryCache) PopPKCE(_ context.Context, state string) (PKCETransaction, bool, error) {
	key := nsPKCE + state

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.store[key]
	if !ok || !m.now().Before(entry.expiresAt) {
		delete(m.store, key)
		return PKCETransaction{}, false, nil
	}
	delete(m.store, key)

	var tx PKCETransaction
	if err := json.Unmarshal(entry.value, &tx); err != nil {
		return PKCETransaction{}, false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	if tx.Verifier == "" {
		return PKCETransaction{}, false, nil
	}
	return tx, true, nil
}

// CacheSession stores a session record until its expiry, minus skew.
func (m *MemoryCache) CacheSession(_ context.Context, sess SessionRecord) error {
	ttl := ttlUntil(sess.ExpiresAt, m.Now(), m.settings.AccessTokenSkew)
	return m.setJSON(nsSession+sess.SessionID, sess, ttl)
}

// GetSession returns the session record for an opaque session ID.
func (m *MemoryCache) GetSession(_ context.Context, sessionID string) (SessionRecord, bool, error) {
	var sess SessionRecord
	ok, err := m.getJSON(nsSession+sessionID, &sess)
	return sess, ok, err
}

// DeleteSession removes a session record.
func (m *MemoryCache) DeleteSession(_ context.Context, sessionID string) error {
	m.delete(nsSession + sessionID)
	return nil
}

// CacheRefreshToken stores refresh token material alongside a session.
func (m *MemoryCache) CacheRefreshToken(_ context.Context, sessionID string, rec RefreshRecord) error {
	ttl := ttlUntil(rec.ExpiresAt, m.Now(), m.settings.AccessTokenSkew)
	return m.setJSON(nsRefresh+sessionID, rec, ttl)
}

// GetRefreshToken returns the refresh record for a session.
func (m *MemoryCache) GetRefreshToken(_ context.Context, sessionID string) (RefreshRecord, bool, error) {
	var rec RefreshRecord
	ok, err := m.getJSON(nsRefresh+sessionID, &rec)
	return rec, ok, err
}

// DeleteRefreshToken removes the refresh record for a session.
func (m *MemoryCache) DeleteRefreshToken(_ context.Context, sessionID string) error {
	m.delete(nsRefresh + sessionID)
	return nil
}

// CacheIdempotency stores a replayable tool response.
func (m *MemoryCache) CacheIdempotency(_ context.Context, key string, response map[string]any) error {
	return m.setJSON(nsIdempotency+key, response, m.settings.IdempotencyTTL)
}

// GetIdempotency returns a previously stored tool response.
func (m *MemoryCache) GetIdempotency(_ context.Context, key string) (map[string]any, bool, error) {
	var response map[string]any
	ok, err := m.getJSON(nsIdempotency+key, &response)
	return response, ok, err
}

// RecordRateLimit stores an advisory rate-limit counter.
func (m *MemoryCache) RecordRateLimit(_ context.Context, key string, tokens float64, ttl time.Duration) error {
	value := strconv.FormatFloat(tokens, 'f', -1, 64)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[nsRate+key] = memoryEntry{expiresAt: m.now().Add(ttl), value: []byte(value)}
	return nil
}

// GetRateLimit returns an advisory rate-limit counter.
func (m *MemoryCache) GetRateLimit(_ context.Context, key string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.store[nsRate+key]
	if !ok || !m.now().Before(entry.expiresAt) {
		delete(m.store, nsRate+key)
		return 0, false, nil
	}
	tokens, err := strconv.ParseFloat(string(entry.value), 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid rate-limit counter: %w", err)
	}
	return tokens, true, nil
}
