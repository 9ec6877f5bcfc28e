// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package idempotency replays stored responses for repeated mutating calls.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/graphgate/graphgate/pkg/cache"
	"github.com/graphgate/graphgate/pkg/logger"
)

// Coordinator wraps mutating tool handlers with replay semantics: the same
// idempotency key from the same user yields the stored response instead of
// a second upstream call.
type Coordinator struct {
	cache cache.Cache
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store cache.Cache) *Coordinator {
	return &Coordinator{cache: store}
}

// cacheKey scopes the idempotency key to tenant, user, and tool so keys can
// never collide across users.
func cacheKey(sess cache.SessionRecord, toolName, key string) string {
	return fmt.Sprintf("%s:%s:%s:%s", sess.TenantID, sess.UserID, toolName, key)
}

// Execute runs fn under the given idempotency key. An empty key bypasses
// the cache entirely. Handler errors are never stored, so a failed call can
// be retried with the same key.
func (c *Coordinator) Execute(
	ctx context.Context,
	sess cache.SessionRecord,
	toolName, key string,
	fn func() (map[string]any, error),
) (map[string]any, error) {
	if key == "" {
		return fn()
	}

	storageKey := cacheKey(sess, toolName, key)
	stored, ok, err := c.cache.GetIdempotency(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if result, ok := stored["result"].(map[string]any); ok {
			logger.Debugw("idempotent replay", "tool", toolName)
			return result, nil
		}
	}

	result, err := fn()
	if err != nil {
		return nil, err
	}

	err = c.cache.CacheIdempotency(ctx, storageKey, map[string]any{
		"result": result,
		"hash":   canonicalHash(result),
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// canonicalHash fingerprints a response. encoding/json marshals maps with
// sorted keys, so equal responses hash equal regardless of insertion order.
func canonicalHash(result map[string]any) string {
	canonical, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
