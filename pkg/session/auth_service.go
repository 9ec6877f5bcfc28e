// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the authorization lifecycle: PKCE flows,
// session resolution, and access token refresh.
package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/graphgate/graphgate/pkg/cache"
	"github.com/graphgate/graphgate/pkg/config"
	gwerr "github.com/graphgate/graphgate/pkg/errors"
	"github.com/graphgate/graphgate/pkg/graph"
	"github.com/graphgate/graphgate/pkg/idp"
	"github.com/graphgate/graphgate/pkg/logger"
)

// offlineAccessScope is required for the provider to issue refresh tokens.
const offlineAccessScope = "offline_access"

// NormalizeScopes trims, drops empties, dedupes preserving order, and
// guarantees offline_access is requested.
func NormalizeScopes(scopes []string) []string {
	normalized := make([]string, 0, len(scopes)+1)
	seen := make(map[string]struct{}, len(scopes)+1)
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, dup := seen[scope]; dup {
			continue
		}
		seen[scope] = struct{}{}
		normalized = append(normalized, scope)
	}
	if _, ok := seen[offlineAccessScope]; !ok {
		normalized = append(normalized, offlineAccessScope)
	}
	return normalized
}

// AuthService drives the PKCE authorization flow against the identity
// provider and establishes gateway sessions.
type AuthService struct {
	cache    cache.Cache
	provider *idp.Provider
	graph    *graph.Client
	cfg      *config.Config
}

// NewAuthService creates an AuthService.
func NewAuthService(store cache.Cache, provider *idp.Provider, graphClient *graph.Client, cfg *config.Config) *AuthService {
	return &AuthService{
		cache:    store,
		provider: provider,
		graph:    graphClient,
		cfg:      cfg,
	}
}

// BeginParams are the caller-supplied inputs for starting a flow.
type BeginParams struct {
	Scopes      []string
	RedirectURI string
	LoginHint   string
}

// BeginResult is returned to the caller; it never contains the verifier.
type BeginResult struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
	ChallengeMethod  string `json:"code_challenge_method"`
}

// CompleteParams carry the authorization response back from the caller.
type CompleteParams struct {
	Code        string
	State       string
	RedirectURI string
}

// CompleteResult identifies the established session. Tokens stay server
// side.
type CompleteResult struct {
	GraphSessionID string   `json:"graph_session_id"`
	GrantedScopes  []string `json:"granted_scopes"`
	ExpiresIn      int64    `json:"expires_in"`
}

// BeginPKCE generates the state and PKCE pair, caches the transaction, and
// returns the authorization URL for the caller to visit.
func (s *AuthService) BeginPKCE(ctx context.Context, params BeginParams) (BeginResult, error) {
	state := idp.NewState()
	verifier, challenge := idp.GeneratePKCE()
	scopes := NormalizeScopes(params.Scopes)

	redirectURI := params.RedirectURI
	if redirectURI == "" {
		redirectURI = s.cfg.GraphRedirectURI
	}

	tx := cache.PKCETransaction{
		Verifier:    verifier,
		Scopes:      scopes,
		RedirectURI: redirectURI,
	}
	if err := s.cache.CachePKCE(ctx, state, tx); err != nil {
		return BeginResult{}, err
	}

	authorizationURL := s.provider.AuthorizationURL(idp.AuthorizeParams{
		Scopes:      scopes,
		State:       state,
		Challenge:   challenge,
		RedirectURI: redirectURI,
		LoginHint:   params.LoginHint,
	})

	logger.Infow("authorization flow started", "state", state, "scopes", scopes)
	return BeginResult{
		AuthorizationURL: authorizationURL,
		State:            state,
		ChallengeMethod:  idp.ChallengeMethodS256,
	}, nil
}

// CompletePKCE redeems the authorization code, resolves the signed-in user,
// and establishes the session records.
func (s *AuthService) CompletePKCE(ctx context.Context, params CompleteParams) (CompleteResult, error) {
	tx, ok, err := s.cache.PopPKCE(ctx, params.State)
	if err != nil {
		return CompleteResult{}, err
	}
	if !ok || tx.Verifier == "" {
		return CompleteResult{}, gwerr.NewAuthRequiredError("Invalid or expired state", nil)
	}

	// The redirect URI must match the one sent on begin; the stored value
	// wins over anything the caller supplies now.
	redirectURI := tx.RedirectURI
	if redirectURI == "" {
		redirectURI = params.RedirectURI
	}
	if redirectURI == "" {
		redirectURI = s.cfg.GraphRedirectURI
	}

	tokens, err := s.provider.ExchangeCode(ctx, params.Code, tx.Verifier, redirectURI, tx.Scopes)
	if err != nil {
		return CompleteResult{}, err
	}

	tenantID := tenantFromAccessToken(tokens.AccessToken)

	me, err := s.graph.Do(ctx, tokens.AccessToken, http.MethodGet, "/me", nil, nil, nil)
	if err != nil {
		return CompleteResult{}, err
	}
	userID, _ := me["id"].(string)
	if userID == "" {
		return CompleteResult{}, gwerr.NewUpstreamError("Unable to resolve user", nil)
	}

	scopes := splitScopes(tokens.Scope)
	if len(scopes) == 0 {
		scopes = tx.Scopes
	}

	sessionID := idp.NewSessionID()
	expiresAt := s.cache.Now().Unix() + tokens.ExpiresIn

	if tokens.RefreshToken != "" {
		err = s.cache.CacheRefreshToken(ctx, sessionID, cache.RefreshRecord{
			RefreshToken: tokens.RefreshToken,
			Scopes:       scopes,
			ExpiresAt:    expiresAt,
		})
		if err != nil {
			return CompleteResult{}, err
		}
	}

	err = s.cache.CacheSession(ctx, cache.SessionRecord{
		SessionID: sessionID,
		TenantID:  tenantID,
		UserID:    userID,
		ClientID:  s.cfg.GraphClientID,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return CompleteResult{}, err
	}

	if err := s.cache.CacheAccessToken(ctx, sessionID, tokens.AccessToken, tokens.ExpiresIn); err != nil {
		return CompleteResult{}, err
	}

	logger.Infow("session established", "tenant_id", tenantID, "user_id", userID, "scopes", scopes)
	return CompleteResult{
		GraphSessionID: sessionID,
		GrantedScopes:  scopes,
		ExpiresIn:      tokens.ExpiresIn,
	}, nil
}

// splitScopes splits a space-delimited scope string from the token
// response.
func splitScopes(scope string) []string {
	return strings.Fields(scope)
}

// tenantFromAccessToken pulls the tid claim out of a Graph access token
// without verifying the signature. The token is audienced at Graph, not at
// this service, so verification is neither possible nor meaningful here.
func tenantFromAccessToken(accessToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "unknown"
	}
	tid, _ := claims["tid"].(string)
	if tid == "" {
		return "unknown"
	}
	return tid
}
