// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools defines the MCP tool surface of the gateway: auth and
// system tools plus the mail, calendar, and drive proxies.
package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/graphgate/graphgate/pkg/auth"
	"github.com/graphgate/graphgate/pkg/cache"
	"github.com/graphgate/graphgate/pkg/config"
	gwerr "github.com/graphgate/graphgate/pkg/errors"
	"github.com/graphgate/graphgate/pkg/graph"
	"github.com/graphgate/graphgate/pkg/idempotency"
	"github.com/graphgate/graphgate/pkg/logger"
	"github.com/graphgate/graphgate/pkg/session"
)

// Deps bundles the services the tool handlers operate on.
type Deps struct {
	Auth        *session.AuthService
	Tokens      *session.TokenService
	Resolver    *session.Resolver
	Idempotency *idempotency.Coordinator
	Graph       *graph.Client
	Validator   session.BearerValidator
	Config      *config.Config
}

// Registry returns the full tool surface for server registration.
func Registry(d *Deps) []server.ServerTool {
	var tools []server.ServerTool
	tools = append(tools, authTools(d)...)
	tools = append(tools, systemTools(d)...)
	tools = append(tools, mailTools(d)...)
	tools = append(tools, calendarTools(d)...)
	tools = append(tools, driveTools(d)...)
	return tools
}

// sessionArgs are the common arguments for session-scoped tools.
// mcp_session_id is the legacy alias of graph_session_id.
type sessionArgs struct {
	GraphSessionID string `json:"graph_session_id"`
	MCPSessionID   string `json:"mcp_session_id"`
	Authorization  string `json:"authorization"`
}

func (a sessionArgs) sessionID() string {
	if a.GraphSessionID != "" {
		return a.GraphSessionID
	}
	return a.MCPSessionID
}

// bearerHeader resolves the caller's Authorization header: the transport
// header wins, the tool argument is the fallback. A bare token argument is
// promoted to header form.
func bearerHeader(ctx context.Context, arg string) string {
	if header := auth.BearerFromContext(ctx); header != "" {
		return header
	}
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return ""
	}
	if token := auth.StripBearerPrefix(arg); token != "" {
		return "Bearer " + token
	}
	return "Bearer " + arg
}

// resolveSession validates the caller and loads the session record.
func (d *Deps) resolveSession(ctx context.Context, args sessionArgs) (cache.SessionRecord, error) {
	return d.Resolver.Resolve(ctx, args.sessionID(), bearerHeader(ctx, args.Authorization))
}

// accessToken returns a live Graph access token for the session.
func (d *Deps) accessToken(ctx context.Context, sess cache.SessionRecord) (string, error) {
	return d.Tokens.AccessToken(ctx, sess.SessionID)
}

// toolHandler is the handler signature tools implement; the dispatch
// wrapper converts results and errors into MCP responses.
type toolHandler func(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error)

// handle wraps a toolHandler with error payload conversion. A failed call
// still returns a CallToolResult so the MCP client sees the taxonomy error,
// not a protocol failure.
func handle(name string, fn toolHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := fn(ctx, request)
		if err != nil {
			return errorResult(ctx, name, err), nil
		}
		return mcp.NewToolResultStructuredOnly(result), nil
	}
}

// errorResult renders an error as an MCP tool result with the stable error
// payload as both text and structured content.
func errorResult(ctx context.Context, name string, err error) *mcp.CallToolResult {
	gwe := gwerr.AsError(err).WithCorrelationID(correlationID(ctx))
	logger.Warnw("tool call failed",
		"tool", name, "code", gwe.Code, "status", gwe.Status, "correlation_id", gwe.CorrelationID)

	payload := gwe.Payload()
	text, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		text = []byte(`{"error":{"code":"UPSTREAM_ERROR","message":"Internal error"}}`)
	}
	return &mcp.CallToolResult{
		IsError:           true,
		Content:           []mcp.Content{mcp.NewTextContent(string(text))},
		StructuredContent: payload,
	}
}

// correlationID takes the chi request ID when the call came through the
// HTTP transport, otherwise mints one.
func correlationID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

// bindArguments decodes the request arguments into a typed struct.
func bindArguments(request mcp.CallToolRequest, out any) error {
	if err := request.BindArguments(out); err != nil {
		return gwerr.NewValidationError("Failed to parse arguments: "+err.Error(), err)
	}
	return nil
}

// Schema shorthands. mcp-go renders these as the tool's JSON schema.

func objectSchema(props map[string]any, required ...string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func boolProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func stringArrayProp(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

func objectProp(description string) map[string]any {
	return map[string]any{"type": "object", "description": description}
}

// sessionProps merges the shared session arguments into a property map.
func sessionProps(props map[string]any) map[string]any {
	merged := map[string]any{
		"graph_session_id": stringProp("Gateway session handle returned by auth_complete_pkce."),
		"mcp_session_id":   stringProp("Legacy alias of graph_session_id."),
		"authorization":    stringProp("Caller bearer token when not sent as a transport header."),
	}
	for name, prop := range props {
		merged[name] = prop
	}
	return merged
}

// pageArgs are the shared pagination arguments.
type pageArgs struct {
	Top     int    `json:"top"`
	Cursor  string `json:"cursor"`
	OrderBy string `json:"order_by"`
}

func (p pageArgs) options() graph.PageOptions {
	return graph.PageOptions{Top: p.Top, Cursor: p.Cursor, OrderBy: p.OrderBy}
}

func pageProps() map[string]any {
	return map[string]any{
		"top":    intProp("Page size, 1-100. Defaults to 25."),
		"cursor": stringProp("Continuation cursor from a previous page."),
	}
}
