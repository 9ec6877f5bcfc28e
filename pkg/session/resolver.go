// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/graphgate/graphgate/pkg/auth"
	"github.com/graphgate/graphgate/pkg/cache"
	gwerr "github.com/graphgate/graphgate/pkg/errors"
)

// BearerValidator checks a caller's Authorization header.
type BearerValidator interface {
	ValidateBearer(ctx context.Context, authorization string) (auth.Claims, error)
}

// Resolver maps a caller-presented session ID to its session record,
// gating access on the caller's own bearer token first.
//
// The caller's OIDC identity is not bound to the Graph session identity:
// any caller with a valid bearer can present any session ID it knows.
type Resolver struct {
	cache     cache.Cache
	validator BearerValidator
	disabled  bool
}

// NewResolver creates a Resolver. A nil validator together with
// disableValidation skips caller validation entirely (development mode).
func NewResolver(store cache.Cache, validator BearerValidator, disableValidation bool) *Resolver {
	return &Resolver{
		cache:     store,
		validator: validator,
		disabled:  disableValidation,
	}
}

// Resolve validates the caller and looks up the session record.
func (r *Resolver) Resolve(ctx context.Context, sessionID, authorization string) (cache.SessionRecord, error) {
	if sessionID == "" {
		return cache.SessionRecord{}, gwerr.NewAuthRequiredError("Missing session", nil)
	}

	if !r.disabled {
		if authorization == "" {
			return cache.SessionRecord{}, gwerr.NewAuthRequiredError("Missing client token", nil)
		}
		if _, err := r.validator.ValidateBearer(ctx, authorization); err != nil {
			return cache.SessionRecord{}, err
		}
	}

	sess, ok, err := r.cache.GetSession(ctx, sessionID)
	if err != nil {
		return cache.SessionRecord{}, err
	}
	if !ok {
		return cache.SessionRecord{}, gwerr.NewAuthRequiredError("Invalid session", nil)
	}
	sess.SessionID = sessionID
	return sess, nil
}

// Logout removes the session and refresh records. Cached access tokens are
// left to lapse by TTL.
func (r *Resolver) Logout(ctx context.Context, sessionID string) error {
	if err := r.cache.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	return r.cache.DeleteRefreshToken(ctx, sessionID)
}
