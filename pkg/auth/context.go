// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import "context"

// bearerContextKey is the context key for the transport Authorization header.
type bearerContextKey struct{}

// WithBearer stashes the raw Authorization header value in the context so
// tool handlers can resolve the caller without touching transport internals.
func WithBearer(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, bearerContextKey{}, header)
}

// BearerFromContext returns the Authorization header stored by WithBearer,
// or "" when none was set.
func BearerFromContext(ctx context.Context) string {
	header, _ := ctx.Value(bearerContextKey{}).(string)
	return header
}
