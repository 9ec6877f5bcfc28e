// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// nonceSize is the AES-GCM nonce length in bytes (96 bits).
const nonceSize = 12

// sealer encrypts cache values at rest with AES-256-GCM. Every Seal call
// draws a fresh random nonce, so identical plaintexts produce distinct
// ciphertexts. The wire form is base64(nonce || ciphertext).
type sealer struct {
	aead cipher.AEAD
}

// newSealer builds a sealer from a 32-byte AES-256 key.
func newSealer(key []byte) (*sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// Seal encrypts plaintext and returns the base64-encoded nonce-prefixed blob.
func (s *sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal.
func (s *sealer) Open(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("invalid encrypted payload: %w", err)
	}
	if len(raw) <= nonceSize {
		return nil, fmt.Errorf("invalid encrypted payload: too short")
	}
	plaintext, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return plaintext, nil
}
