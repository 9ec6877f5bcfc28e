// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package graph mediates HTTP access to the Microsoft Graph API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	"github.com/graphgate/graphgate/pkg/config"
	gwerr "github.com/graphgate/graphgate/pkg/errors"
	"github.com/graphgate/graphgate/pkg/logger"
)

// maxErrorBody bounds how much of an upstream error body is surfaced to the
// caller.
const maxErrorBody = 512

// Client issues authenticated requests against the Graph API with retry and
// backoff. Access tokens pass through per call and are never stored here.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxTries   uint
	retryBase  time.Duration
}

// NewClient builds a Graph client from the gateway configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout()},
		baseURL:    strings.TrimSuffix(cfg.UpstreamBaseURL, "/"),
		maxTries:   uint(cfg.MaxRetryAttempts),
		retryBase:  cfg.RetryBase(),
	}
}

// fullJitterBackOff grows the wait as base * 2^attempt and adds up to the
// same amount of random jitter on top.
type fullJitterBackOff struct {
	base    time.Duration
	attempt int
}

func (b *fullJitterBackOff) NextBackOff() time.Duration {
	wait := float64(b.base) * float64(uint64(1)<<uint64(b.attempt))
	b.attempt++
	return time.Duration(wait * (1 + rand.Float64())) // #nosec G404 -- jitter, not crypto
}

func (b *fullJitterBackOff) Reset() {
	b.attempt = 0
}

// Do performs a Graph API request relative to the configured base URL and
// decodes the JSON response. Throttling (429) and service unavailability
// (503) honor Retry-After; other 5xx and transport failures retry with
// jittered exponential backoff; remaining 4xx fail immediately.
func (c *Client) Do(
	ctx context.Context,
	access, method, path string,
	query url.Values,
	body any,
	extra http.Header,
) (map[string]any, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, gwerr.NewValidationError("Request body is not serializable", err)
		}
		payload = encoded
	}
	return c.do(ctx, access, method, path, query, payload, "application/json", extra)
}

// DoUpload sends a raw byte payload (file content, upload chunks) through
// the same retry engine. The URL may be relative to the base URL or
// absolute, as upload session URLs point at a different host.
func (c *Client) DoUpload(
	ctx context.Context,
	access, method, uploadURL string,
	content []byte,
	extra http.Header,
) (map[string]any, error) {
	return c.do(ctx, access, method, uploadURL, nil, content, "application/octet-stream", extra)
}

func (c *Client) do(
	ctx context.Context,
	access, method, path string,
	query url.Values,
	payload []byte,
	contentType string,
	extra http.Header,
) (map[string]any, error) {
	requestURL := path
	if !strings.HasPrefix(requestURL, "http") {
		requestURL = c.baseURL + path
	}
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	attempt := 0
	operation := func() (map[string]any, error) {
		attempt++

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
		if err != nil {
			return nil, backoff.Permanent(gwerr.NewValidationError("Invalid Graph request", err))
		}
		req.Header.Set("Authorization", "Bearer "+access)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
		}
		for name, values := range extra {
			for _, value := range values {
				req.Header.Add(name, value)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Debugw("graph request transport error", "method", method, "path", path, "attempt", attempt)
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
			logger.Debugw("graph request throttled",
				"method", method, "path", path, "status", resp.StatusCode, "attempt", attempt)
			return nil, backoff.RetryAfter(retryAfterSeconds(resp.Header))
		case resp.StatusCode >= http.StatusInternalServerError:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
			logger.Debugw("graph request server error",
				"method", method, "path", path, "status", resp.StatusCode, "attempt", attempt)
			return nil, fmt.Errorf("graph returned status %d", resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, backoff.Permanent(upstreamError(resp.StatusCode, raw))
		case resp.StatusCode == http.StatusNoContent:
			return map[string]any{}, nil
		}

		// Some accepted mutations (202) come back with no body at all.
		var result map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			if errors.Is(err, io.EOF) {
				return map[string]any{}, nil
			}
			return nil, fmt.Errorf("failed to decode graph response: %w", err)
		}
		return result, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&fullJitterBackOff{base: c.retryBase}),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		var gwe *gwerr.Error
		if errors.As(err, &gwe) {
			return nil, gwe
		}
		return nil, gwerr.NewUpstreamError("Graph request failed after retries", err)
	}
	return result, nil
}

// DoRaw fetches an absolute Graph URL (content downloads) without retry. The
// response body is capped at maxBytes.
func (c *Client) DoRaw(ctx context.Context, access, absoluteURL string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absoluteURL, nil)
	if err != nil {
		return nil, gwerr.NewValidationError("Invalid Graph request", err)
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, gwerr.NewUpstreamError("Graph request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, upstreamError(resp.StatusCode, raw)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, gwerr.NewUpstreamError("Graph request failed", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, gwerr.NewPayloadTooLargeError("File too large for base64", nil)
	}
	return data, nil
}

// retryAfterSeconds parses the Retry-After header, defaulting to one second.
func retryAfterSeconds(header http.Header) int {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 1
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 1 {
		return 1
	}
	return seconds
}

// upstreamError turns a 4xx Graph response into an upstream error, pulling
// the structured error code and message out of the body when present.
func upstreamError(status int, raw []byte) *gwerr.Error {
	detail := strings.TrimSpace(string(raw))
	if code, message := gjson.GetBytes(raw, "error.code"), gjson.GetBytes(raw, "error.message"); message.Exists() {
		if code.Exists() && code.String() != "" {
			detail = fmt.Sprintf("%s: %s", code.String(), message.String())
		} else {
			detail = message.String()
		}
	}
	if detail == "" {
		detail = fmt.Sprintf("status %d", status)
	}
	return gwerr.NewUpstreamError(fmt.Sprintf("Graph error: %s", detail), nil)
}
