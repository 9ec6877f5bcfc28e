// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/graphgate/graphgate/pkg/session"
)

// authTools cover the PKCE lifecycle and session management.
func authTools(d *Deps) []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        "auth_begin_pkce",
				Description: "Start a PKCE authorization flow. Returns the URL the user must visit and the state handle.",
				InputSchema: objectSchema(map[string]any{
					"scopes":       stringArrayProp("Microsoft Graph delegated scopes to request."),
					"redirect_uri": stringProp("Override of the configured redirect URI."),
					"login_hint":   stringProp("Pre-filled account hint for the sign-in page."),
				}, "scopes"),
			},
			Handler: handle("auth_begin_pkce", d.authBeginPKCE),
		},
		{
			Tool: mcp.Tool{
				Name:        "auth_complete_pkce",
				Description: "Complete a PKCE flow with the authorization code and state, establishing a gateway session.",
				InputSchema: objectSchema(map[string]any{
					"code":         stringProp("Authorization code from the redirect."),
					"state":        stringProp("State value returned by auth_begin_pkce."),
					"redirect_uri": stringProp("Redirect URI override, must match the begin call."),
				}, "code", "state"),
			},
			Handler: handle("auth_complete_pkce", d.authCompletePKCE),
		},
		{
			Tool: mcp.Tool{
				Name:        "auth_get_status",
				Description: "Report the authentication status of a gateway session.",
				InputSchema: objectSchema(sessionProps(nil)),
			},
			Handler: handle("auth_get_status", d.authGetStatus),
		},
		{
			Tool: mcp.Tool{
				Name:        "auth_logout",
				Description: "Terminate a gateway session and discard its refresh token.",
				InputSchema: objectSchema(sessionProps(nil)),
			},
			Handler: handle("auth_logout", d.authLogout),
		},
	}
}

func (d *Deps) authBeginPKCE(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		Scopes      []string `json:"scopes"`
		RedirectURI string   `json:"redirect_uri"`
		LoginHint   string   `json:"login_hint"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}

	result, err := d.Auth.BeginPKCE(ctx, session.BeginParams{
		Scopes:      args.Scopes,
		RedirectURI: args.RedirectURI,
		LoginHint:   args.LoginHint,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"authorization_url":     result.AuthorizationURL,
		"state":                 result.State,
		"code_challenge_method": result.ChallengeMethod,
	}, nil
}

func (d *Deps) authCompletePKCE(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		Code        string `json:"code"`
		State       string `json:"state"`
		RedirectURI string `json:"redirect_uri"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}

	result, err := d.Auth.CompletePKCE(ctx, session.CompleteParams{
		Code:        args.Code,
		State:       args.State,
		RedirectURI: args.RedirectURI,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"graph_session_id": result.GraphSessionID,
		"granted_scopes":   result.GrantedScopes,
		"expires_in":       result.ExpiresIn,
	}, nil
}

func (d *Deps) authGetStatus(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args sessionArgs
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}

	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"authenticated":  true,
		"granted_scopes": sess.Scopes,
		"expires_at":     sess.ExpiresAt,
	}, nil
}

func (d *Deps) authLogout(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args sessionArgs
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}

	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := d.Resolver.Logout(ctx, sess.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{"status": "logged_out"}, nil
}
