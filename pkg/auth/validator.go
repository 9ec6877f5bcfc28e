// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth validates the OIDC bearer tokens presented by MCP callers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	gwerr "github.com/graphgate/graphgate/pkg/errors"
	"github.com/graphgate/graphgate/pkg/logger"
	"github.com/graphgate/graphgate/pkg/versions"
)

const (
	jwksRegisterTimeout  = 5 * time.Second
	maxDiscoveryResponse = 1 << 20
)

var errUnknownKeyID = errors.New("key id not found in JWKS")

// Claims is the verified claim set of a caller token.
type Claims jwt.MapClaims

// TenantID returns the tid claim, or "" when absent.
func (c Claims) TenantID() string {
	tid, _ := c["tid"].(string)
	return tid
}

// ObjectID returns the oid claim, falling back to sub.
func (c Claims) ObjectID() string {
	if oid, ok := c["oid"].(string); ok && oid != "" {
		return oid
	}
	sub, _ := c["sub"].(string)
	return sub
}

// Subject returns the sub claim, or "" when absent.
func (c Claims) Subject() string {
	sub, _ := c["sub"].(string)
	return sub
}

// ValidatorConfig carries the OIDC parameters for caller validation.
type ValidatorConfig struct {
	// Issuer is the expected iss claim and, when JWKSURL is empty, the
	// base for OIDC discovery.
	Issuer string

	// Audience is the expected aud claim.
	Audience string

	// JWKSURL overrides discovery when set.
	JWKSURL string

	// HTTPClient is used for discovery and JWKS fetches. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Validator checks caller bearer tokens against a cached JWKS.
type Validator struct {
	issuer   string
	audience string
	jwksURL  string
	cache    *jwk.Cache

	registerMu  sync.Mutex
	registered  bool
	registerErr error
}

type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// discoverJWKSURL resolves the jwks_uri from the issuer's well-known endpoint.
func discoverJWKSURL(ctx context.Context, client *http.Client, issuer string) (string, error) {
	wellKnownURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("graphgate/%s", versions.Version))
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch OIDC configuration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc discoveryDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDiscoveryResponse)).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode OIDC configuration: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("OIDC configuration missing jwks_uri")
	}
	return doc.JWKSURI, nil
}

// NewValidator creates a bearer token validator. When cfg.JWKSURL is empty
// the JWKS endpoint is discovered from the issuer.
func NewValidator(ctx context.Context, cfg ValidatorConfig) (*Validator, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		if cfg.Issuer == "" {
			return nil, fmt.Errorf("either issuer or JWKS URL must be provided")
		}
		discovered, err := discoverJWKSURL(ctx, httpClient, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC configuration: %w", err)
		}
		jwksURL = discovered
	}

	httprcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	// JWKS registration is deferred to first use so startup never blocks
	// on the identity provider.
	return &Validator{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		jwksURL:  jwksURL,
		cache:    cache,
	}, nil
}

// ensureRegistered registers the JWKS URL with the cache on first use.
func (v *Validator) ensureRegistered(ctx context.Context) error {
	v.registerMu.Lock()
	defer v.registerMu.Unlock()

	if v.registered {
		return v.registerErr
	}

	registerCtx, cancel := context.WithTimeout(ctx, jwksRegisterTimeout)
	defer cancel()

	if err := v.cache.Register(registerCtx, v.jwksURL); err != nil {
		v.registerErr = fmt.Errorf("failed to register JWKS URL: %w", err)
	} else {
		v.registerErr = nil
	}
	v.registered = true
	return v.registerErr
}

// keyFunc resolves the signing key for a parsed token header. An unknown kid
// triggers one forced JWKS refresh before failing, covering provider key
// rotation between cache refreshes.
func (v *Validator) keyFunc(ctx context.Context, token *jwt.Token) (any, error) {
	if err := v.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("token header missing kid")
	}

	keySet, err := v.cache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		refreshed, refreshErr := v.cache.Refresh(ctx, v.jwksURL)
		if refreshErr != nil {
			return nil, fmt.Errorf("failed to refresh JWKS: %w", refreshErr)
		}
		key, found = refreshed.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("%w: %s", errUnknownKeyID, kid)
		}
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return rawKey, nil
}

// validateClaims checks issuer, audience, and expiry.
func (v *Validator) validateClaims(claims jwt.MapClaims) error {
	if v.issuer != "" {
		issuer, err := claims.GetIssuer()
		if err != nil || strings.TrimSpace(issuer) != strings.TrimSpace(v.issuer) {
			return fmt.Errorf("invalid issuer")
		}
	}
	if v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil {
			return fmt.Errorf("invalid audience")
		}
		found := false
		for _, aud := range audiences {
			if aud == v.audience {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("invalid audience")
		}
	}

	expiration, err := claims.GetExpirationTime()
	if err != nil || expiration == nil || expiration.Before(time.Now()) {
		return fmt.Errorf("token expired")
	}
	return nil
}

// ValidateBearer validates a raw Authorization header value and returns the
// verified claims. Every failure maps to AUTH_REQUIRED so callers are told
// to re-authenticate rather than retry.
func (v *Validator) ValidateBearer(ctx context.Context, authorization string) (Claims, error) {
	tokenString := StripBearerPrefix(authorization)
	if tokenString == "" {
		return nil, gwerr.NewAuthRequiredError("Missing client token", nil)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.keyFunc(ctx, token)
	})
	if err != nil {
		if errors.Is(err, errUnknownKeyID) {
			logger.Warnw("caller token signed by unknown key", "issuer", v.issuer)
			return nil, gwerr.NewAuthRequiredError("Unknown key id", err)
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, gwerr.NewAuthRequiredError("Invalid token: token expired", err)
		}
		if errors.Is(err, jwt.ErrTokenMalformed) || errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, gwerr.NewAuthRequiredError("Invalid token: malformed or bad signature", err)
		}
		logger.Warnw("JWKS resolution failed", "issuer", v.issuer, "error", err.Error())
		return nil, gwerr.NewAuthRequiredError("Unable to load JWKS", err)
	}
	if !token.Valid {
		return nil, gwerr.NewAuthRequiredError("Invalid token: verification failed", nil)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, gwerr.NewAuthRequiredError("Invalid token: missing claims", nil)
	}
	if err := v.validateClaims(claims); err != nil {
		logger.Warnw("caller token rejected", "issuer", v.issuer, "reason", err.Error())
		return nil, gwerr.NewAuthRequiredError(fmt.Sprintf("Invalid token: %s", err.Error()), err)
	}
	return Claims(claims), nil
}

// StripBearerPrefix removes a case-insensitive "Bearer " prefix from an
// Authorization header value. A header without the prefix yields "".
func StripBearerPrefix(authorization string) string {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return ""
	}
	const prefix = "bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authorization[len(prefix):])
}
