// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package idp talks to the Microsoft identity platform: it generates PKCE
// material, builds authorization URLs, and drives the token endpoint for
// code exchange and refresh.
package idp

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// ChallengeMethodS256 is the only PKCE challenge method offered (RFC 7636).
// The plain method is never used.
const ChallengeMethodS256 = "S256"

// Entropy sizes for server-issued opaque values, in raw bytes before
// base64url encoding.
const (
	stateBytes     = 16 // 128 bits
	sessionIDBytes = 24 // 192 bits
)

// GeneratePKCE returns a fresh (verifier, challenge) pair using the S256
// method. The verifier stays server-side; only the challenge appears in the
// authorization URL.
func GeneratePKCE() (string, string) {
	verifier := oauth2.GenerateVerifier()
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}

// NewState returns a URL-safe OAuth state value with 128 bits of entropy.
func NewState() string {
	return randomToken(stateBytes)
}

// NewSessionID returns an opaque session handle with 192 bits of entropy.
func NewSessionID() string {
	return randomToken(sessionIDBytes)
}

func randomToken(n int) string {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand failure means the process cannot mint credentials at
		// all; matches oauth2.GenerateVerifier behavior.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}
