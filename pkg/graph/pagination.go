// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"net/url"
	"strconv"
	"strings"
)

// Page size bounds applied to list operations.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// PageOptions carries caller-supplied paging parameters.
type PageOptions struct {
	Top     int
	Cursor  string
	OrderBy string
}

// Query renders the paging options as Graph query parameters. Top is clamped
// to [1, MaxPageSize], defaulting to DefaultPageSize when unset.
func (p PageOptions) Query() url.Values {
	top := p.Top
	if top <= 0 {
		top = DefaultPageSize
	}
	if top > MaxPageSize {
		top = MaxPageSize
	}

	query := url.Values{}
	query.Set("$top", strconv.Itoa(top))
	if p.Cursor != "" {
		query.Set("$skiptoken", p.Cursor)
	}
	if p.OrderBy != "" {
		query.Set("$orderby", p.OrderBy)
	}
	return query
}

// NextCursor extracts the continuation cursor from a Graph list payload.
// Graph encodes it as the $skiptoken parameter of @odata.nextLink; the
// cursor is the value after the last "=" so encoded tokens survive intact.
func NextCursor(payload map[string]any) string {
	nextLink, _ := payload["@odata.nextLink"].(string)
	if nextLink == "" {
		return ""
	}
	idx := strings.Index(nextLink, "$skiptoken=")
	if idx < 0 {
		return ""
	}
	return nextLink[strings.LastIndex(nextLink, "=")+1:]
}
