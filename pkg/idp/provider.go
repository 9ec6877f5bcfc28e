// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/graphgate/graphgate/pkg/config"
	gwerr "github.com/graphgate/graphgate/pkg/errors"
)

// maxResponseSize caps token endpoint response reads to prevent DoS.
const maxResponseSize = 1024 * 1024 // 1MB

// Provider drives the OAuth2 endpoints of the Microsoft identity platform
// for one registered application.
type Provider struct {
	clientID     string
	tenantID     string
	clientSecret string
	loginBase    string
	client       *http.Client
}

// NewProvider builds a Provider from the gateway configuration.
func NewProvider(cfg *config.Config, client *http.Client) *Provider {
	return &Provider{
		clientID:     cfg.GraphClientID,
		tenantID:     cfg.GraphTenantID,
		clientSecret: cfg.GraphClientSecret,
		loginBase:    strings.TrimSuffix(cfg.LoginBaseURL, "/"),
		client:       client,
	}
}

// AuthorizeParams collects the inputs for an authorization redirect.
type AuthorizeParams struct {
	Scopes      []string
	State       string
	Challenge   string
	RedirectURI string
	LoginHint   string
}

// Tokens is the decoded response of the token endpoint.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// tokenErrorResponse is an RFC 6749 error response from the token endpoint.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// AuthorizationURL assembles the authorize endpoint URL for the configured
// tenant. Every parameter is query-escaped; scopes are space-joined.
func (p *Provider) AuthorizationURL(params AuthorizeParams) string {
	values := url.Values{
		"client_id":             {p.clientID},
		"response_type":         {"code"},
		"redirect_uri":          {params.RedirectURI},
		"response_mode":         {"query"},
		"scope":                 {strings.Join(params.Scopes, " ")},
		"state":                 {params.State},
		"code_challenge":        {params.Challenge},
		"code_challenge_method": {ChallengeMethodS256},
	}
	if params.LoginHint != "" {
		values.Set("login_hint", params.LoginHint)
	}
	// url.Values encodes spaces as '+'; the identity platform documents the
	// %20 form for the scope parameter, so normalize to percent encoding.
	query := strings.ReplaceAll(values.Encode(), "+", "%20")
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize?%s", p.loginBase, p.tenantID, query)
}

// ExchangeCode redeems an authorization code with the PKCE verifier.
// Failures are terminal: the code is single-use, so the caller never retries.
func (p *Provider) ExchangeCode(ctx context.Context, code, verifier, redirectURI string, scopes []string) (Tokens, error) {
	scope := strings.Join(scopes, " ")
	if scope == "" {
		scope = "offline_access"
	}
	form := url.Values{
		"client_id":     {p.clientID},
		"scope":         {scope},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
		"code_verifier": {verifier},
	}
	if p.clientSecret != "" {
		form.Set("client_secret", p.clientSecret)
	}

	tokens, err := p.tokenRequest(ctx, form)
	if err != nil {
		return Tokens{}, gwerr.NewUpstreamError(fmt.Sprintf("Token exchange failed: %s", err.Error()), err)
	}
	return tokens, nil
}

// Redeem turns a refresh token into a fresh access token. Errors carry the
// provider's detail; the token service decides how to surface them.
func (p *Provider) Redeem(ctx context.Context, refreshToken string, scopes []string) (Tokens, error) {
	form := url.Values{
		"client_id":     {p.clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {strings.Join(scopes, " ")},
	}
	if p.clientSecret != "" {
		form.Set("client_secret", p.clientSecret)
	}
	return p.tokenRequest(ctx, form)
}

// tokenRequest performs a form POST against the tenant's token endpoint.
// The request form and response body are never logged: they carry codes,
// verifiers, and tokens.
func (p *Provider) tokenRequest(ctx context.Context, form url.Values) (Tokens, error) {
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.loginBase, p.tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var tokenError tokenErrorResponse
		if err := json.Unmarshal(body, &tokenError); err == nil && tokenError.Error != "" {
			// OAuth error responses are standardized and safe to surface.
			detail := tokenError.ErrorDescription
			if detail == "" {
				detail = tokenError.Error
			}
			return Tokens{}, fmt.Errorf("%s", detail)
		}
		return Tokens{}, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokens Tokens
	if err := json.Unmarshal(body, &tokens); err != nil {
		return Tokens{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return Tokens{}, errors.New("token response missing access_token")
	}
	// Case-insensitive per RFC 6749 Section 5.1; absent means bearer.
	if tokens.TokenType != "" && !strings.EqualFold(tokens.TokenType, "bearer") {
		return Tokens{}, fmt.Errorf("unexpected token_type %q", tokens.TokenType)
	}
	return tokens, nil
}
