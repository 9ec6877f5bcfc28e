// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	gwerr "github.com/graphgate/graphgate/pkg/errors"
)

// systemTools expose health and caller introspection.
func systemTools(d *Deps) []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        "system_health",
				Description: "Liveness probe. Requires no session.",
				InputSchema: objectSchema(map[string]any{}),
			},
			Handler: handle("system_health", d.systemHealth),
		},
		{
			Tool: mcp.Tool{
				Name:        "system_whoami",
				Description: "Return the verified claims of the caller's bearer token.",
				InputSchema: objectSchema(map[string]any{
					"authorization": stringProp("Caller bearer token when not sent as a transport header."),
				}),
			},
			Handler: handle("system_whoami", d.systemWhoami),
		},
	}
}

func (*Deps) systemHealth(context.Context, mcp.CallToolRequest) (map[string]any, error) {
	return map[string]any{"status": "ok"}, nil
}

func (d *Deps) systemWhoami(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		Authorization string `json:"authorization"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}

	if d.Config.DisableOIDCValidation {
		return nil, gwerr.NewValidationError("Caller validation is disabled", nil)
	}
	claims, err := d.Validator.ValidateBearer(ctx, bearerHeader(ctx, args.Authorization))
	if err != nil {
		return nil, err
	}
	return map[string]any{"claims": map[string]any(claims)}, nil
}
