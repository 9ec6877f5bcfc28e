// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/graphgate/graphgate/pkg/cache"
	gwerr "github.com/graphgate/graphgate/pkg/errors"
	"github.com/graphgate/graphgate/pkg/idp"
	"github.com/graphgate/graphgate/pkg/logger"
)

// TokenService hands out access tokens for established sessions, refreshing
// them against the identity provider when the cached token has lapsed.
type TokenService struct {
	cache    cache.Cache
	provider *idp.Provider
	group    singleflight.Group
}

// NewTokenService creates a TokenService.
func NewTokenService(store cache.Cache, provider *idp.Provider) *TokenService {
	return &TokenService{cache: store, provider: provider}
}

// AccessToken returns a valid access token for the session. Concurrent
// callers for the same session collapse into a single refresh; all of them
// share its outcome.
func (s *TokenService) AccessToken(ctx context.Context, sessionID string) (string, error) {
	token, ok, err := s.cache.GetAccessToken(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if ok {
		return token, nil
	}

	result, err, _ := s.group.Do(sessionID, func() (any, error) {
		return s.refresh(ctx, sessionID)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// refresh redeems the stored refresh token and rotates the session records.
// A refresh failure is terminal for the session: the caller has to
// re-authenticate, so the provider call is never retried.
func (s *TokenService) refresh(ctx context.Context, sessionID string) (string, error) {
	// A peer may have refreshed while this call waited on the flight group.
	if token, ok, err := s.cache.GetAccessToken(ctx, sessionID); err != nil {
		return "", err
	} else if ok {
		return token, nil
	}

	stored, ok, err := s.cache.GetRefreshToken(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !ok || stored.RefreshToken == "" {
		return "", gwerr.NewAuthRequiredError("No refresh token", nil)
	}

	tokens, err := s.provider.Redeem(ctx, stored.RefreshToken, NormalizeScopes(stored.Scopes))
	if err != nil {
		logger.Warnw("refresh token redemption failed", "session_id", sessionID)
		return "", gwerr.NewAuthRequiredError("Refresh token failed: "+err.Error(), err)
	}

	// Rotation: the provider may return a new refresh token. When it does
	// not, the prior one stays valid.
	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = stored.RefreshToken
	}
	scopes := splitScopes(tokens.Scope)
	if len(scopes) == 0 {
		scopes = stored.Scopes
	}
	expiresAt := s.cache.Now().Unix() + tokens.ExpiresIn

	err = s.cache.CacheRefreshToken(ctx, sessionID, cache.RefreshRecord{
		RefreshToken: refreshToken,
		Scopes:       scopes,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return "", err
	}
	if err := s.cache.CacheAccessToken(ctx, sessionID, tokens.AccessToken, tokens.ExpiresIn); err != nil {
		return "", err
	}

	logger.Debugw("access token refreshed", "session_id", sessionID)
	return tokens.AccessToken, nil
}
