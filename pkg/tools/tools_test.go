// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphgate/graphgate/pkg/cache"
	"github.com/graphgate/graphgate/pkg/config"
	gwerr "github.com/graphgate/graphgate/pkg/errors"
	"github.com/graphgate/graphgate/pkg/graph"
	"github.com/graphgate/graphgate/pkg/idempotency"
	"github.com/graphgate/graphgate/pkg/idp"
	"github.com/graphgate/graphgate/pkg/session"
)

// toolsFixture wires the full tool surface against an in-memory cache and a
// stub Graph server. OIDC validation is disabled so calls only need a seeded
// session.
type toolsFixture struct {
	deps       *Deps
	store      *cache.MemoryCache
	graphCalls atomic.Int32
}

func newToolsFixture(t *testing.T, graphHandler http.HandlerFunc) *toolsFixture {
	t.Helper()

	f := &toolsFixture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.graphCalls.Add(1)
		graphHandler(w, r)
	}))
	t.Cleanup(server.Close)

	cfg := &config.Config{
		GraphClientID:         "client-1",
		GraphTenantID:         "organizations",
		LoginBaseURL:          server.URL,
		UpstreamBaseURL:       server.URL,
		MaxBase64Bytes:        1 << 20,
		HTTPTimeoutSeconds:    5,
		MaxRetryAttempts:      1,
		RetryBaseSeconds:      0.01,
		DisableOIDCValidation: true,
	}
	f.store = cache.NewMemoryCache(cache.Settings{
		AccessTokenSkew: time.Minute,
		IdempotencyTTL:  30 * time.Minute,
	})

	provider := idp.NewProvider(cfg, &http.Client{Timeout: 5 * time.Second})
	graphClient := graph.NewClient(cfg)
	f.deps = &Deps{
		Auth:        session.NewAuthService(f.store, provider, graphClient, cfg),
		Tokens:      session.NewTokenService(f.store, provider),
		Resolver:    session.NewResolver(f.store, nil, true),
		Idempotency: idempotency.NewCoordinator(f.store),
		Graph:       graphClient,
		Config:      cfg,
	}
	return f
}

func (f *toolsFixture) seedSession(t *testing.T, sessionID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CacheSession(ctx, cache.SessionRecord{
		SessionID: sessionID,
		TenantID:  "tenant-1",
		UserID:    "user-1",
		ClientID:  "client-1",
		Scopes:    []string{"Mail.Read", "offline_access"},
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}))
	require.NoError(t, f.store.CacheAccessToken(ctx, sessionID, "at-1", 3600))
}

func (f *toolsFixture) call(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	for _, tool := range Registry(f.deps) {
		if tool.Tool.Name != name {
			continue
		}
		request := mcp.CallToolRequest{}
		request.Params.Name = name
		request.Params.Arguments = args
		result, err := tool.Handler(context.Background(), request)
		require.NoError(t, err, "handlers report failures as tool results, not protocol errors")
		require.NotNil(t, result)
		return result
	}
	t.Fatalf("tool %q is not registered", name)
	return nil
}

func structured(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	payload, ok := result.StructuredContent.(map[string]any)
	require.True(t, ok, "structured content should be a map, got %T", result.StructuredContent)
	return payload
}

func errorPayload(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.True(t, result.IsError)
	inner, ok := structured(t, result)["error"].(map[string]any)
	require.True(t, ok)
	return inner
}

func writeJSON(t *testing.T, w http.ResponseWriter, body map[string]any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func emptyList(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"value": []any{}})
	}
}

func TestRegistryToolNames(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, emptyList(t))
	expected := []string{
		"auth_begin_pkce", "auth_complete_pkce", "auth_get_status", "auth_logout",
		"system_health", "system_whoami",
		"mail_list_folders", "mail_list_messages", "mail_get_message", "mail_search_messages",
		"mail_create_draft", "mail_send_draft", "mail_reply", "mail_mark_read",
		"mail_move_message", "mail_get_attachment",
		"calendar_list_calendars", "calendar_list_events", "calendar_get_event",
		"calendar_create_event", "calendar_update_event", "calendar_delete_event",
		"calendar_respond_to_invite", "calendar_find_availability",
		"drive_get_default", "drive_list_children", "drive_get_item", "drive_search",
		"drive_download_file", "drive_upload_small_file", "drive_create_upload_session",
		"drive_upload_chunk", "drive_create_folder", "drive_delete_item", "drive_share_create_link",
	}

	registered := map[string]int{}
	for _, tool := range Registry(f.deps) {
		registered[tool.Tool.Name]++
		require.NotNil(t, tool.Handler, "tool %q has no handler", tool.Tool.Name)
	}
	for _, name := range expected {
		assert.Equal(t, 1, registered[name], "tool %q should be registered exactly once", name)
	}
	assert.Len(t, registered, len(expected))
}

func TestSessionIDAlias(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, emptyList(t))
	f.seedSession(t, "sid-1")

	result := f.call(t, "mail_list_messages", map[string]any{"mcp_session_id": "sid-1"})
	require.False(t, result.IsError)
	assert.Equal(t, int32(1), f.graphCalls.Load())
}

func TestMissingSessionErrorPayload(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, emptyList(t))

	inner := errorPayload(t, f.call(t, "calendar_get_event", map[string]any{"event_id": "evt-1"}))
	assert.Equal(t, gwerr.CodeAuthRequired, inner["code"])
	assert.Equal(t, "Missing session", inner["message"])
	assert.NotEmpty(t, inner["correlation_id"])
	assert.Equal(t, int32(0), f.graphCalls.Load())
}

func TestUnknownSessionErrorPayload(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, emptyList(t))

	inner := errorPayload(t, f.call(t, "mail_list_folders", map[string]any{"graph_session_id": "sid-missing"}))
	assert.Equal(t, gwerr.CodeAuthRequired, inner["code"])
	assert.Equal(t, "Invalid session", inner["message"])
}

func TestBindFailureIsValidationError(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, emptyList(t))
	f.seedSession(t, "sid-1")

	inner := errorPayload(t, f.call(t, "mail_list_messages", map[string]any{
		"graph_session_id": "sid-1",
		"top":              "not-a-number",
	}))
	assert.Equal(t, gwerr.CodeValidation, inner["code"])
	assert.Contains(t, inner["message"], "Failed to parse arguments")
}

func TestSystemHealth(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, emptyList(t))

	result := f.call(t, "system_health", nil)
	require.False(t, result.IsError)
	assert.Equal(t, "ok", structured(t, result)["status"])
}

func TestMailListMessagesMapping(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/messages", r.URL.Path)
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		writeJSON(t, w, map[string]any{
			"@odata.nextLink": "https://graph.microsoft.com/v1.0/me/messages?$skiptoken=page2",
			"value": []any{
				map[string]any{
					"id":               "msg-1",
					"subject":          "Status report",
					"receivedDateTime": "2026-02-10T09:00:00Z",
					"isRead":           false,
					"hasAttachments":   true,
					"bodyPreview":      "Numbers attached",
					"from": map[string]any{
						"emailAddress": map[string]any{"address": "a@example.com", "name": "Ada"},
					},
				},
			},
		})
	})
	f.seedSession(t, "sid-1")

	payload := structured(t, f.call(t, "mail_list_messages", map[string]any{"graph_session_id": "sid-1"}))
	assert.Equal(t, "page2", payload["next_cursor"])

	msgs, ok := payload["items"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, "msg-1", msgs[0]["message_id"])
	assert.Equal(t, "Status report", msgs[0]["subject"])
	assert.Equal(t, false, msgs[0]["is_read"])
	assert.Equal(t, true, msgs[0]["has_attachments"])
	assert.Equal(t, "Numbers attached", msgs[0]["preview"])
}

func TestCalendarCreateEventIdempotentReplay(t *testing.T) {
	t.Parallel()

	var creates atomic.Int32
	f := newToolsFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/me/events", r.URL.Path)
		creates.Add(1)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Planning", body["subject"])
		assert.Equal(t, true, body["isOnlineMeeting"])
		assert.Equal(t, "teamsForBusiness", body["onlineMeetingProvider"])

		writeJSON(t, w, map[string]any{"id": "evt-1", "subject": "Planning"})
	})
	f.seedSession(t, "sid-1")

	args := map[string]any{
		"graph_session_id":  "sid-1",
		"subject":           "Planning",
		"start":             "2026-03-01T10:00:00",
		"end":               "2026-03-01T11:00:00",
		"attendees":         []any{"a@example.com"},
		"is_online_meeting": true,
		"transaction_id":    "txn-1",
	}

	first := structured(t, f.call(t, "calendar_create_event", args))
	second := structured(t, f.call(t, "calendar_create_event", args))

	assert.Equal(t, "evt-1", first["event_id"])
	assert.Equal(t, "evt-1", second["event_id"])
	assert.Equal(t, int32(1), creates.Load(), "replay must not reach Graph again")
}

func TestCalendarRespondToInviteRejectsUnknownResponse(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, emptyList(t))
	f.seedSession(t, "sid-1")

	inner := errorPayload(t, f.call(t, "calendar_respond_to_invite", map[string]any{
		"graph_session_id": "sid-1",
		"event_id":         "evt-1",
		"response":         "maybe",
		"idempotency_key":  "key-1",
	}))
	assert.Equal(t, gwerr.CodeValidation, inner["code"])
}

func TestCalendarListEventsFilter(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/events", r.URL.Path)
		filter := r.URL.Query().Get("$filter")
		assert.Contains(t, filter, "start/dateTime ge '2026-03-01T00:00:00'")
		assert.Contains(t, filter, "end/dateTime le '2026-03-02T00:00:00'")
		assert.Contains(t, filter, "isCancelled eq false")
		writeJSON(t, w, map[string]any{"value": []any{}})
	})
	f.seedSession(t, "sid-1")

	result := f.call(t, "calendar_list_events", map[string]any{
		"graph_session_id": "sid-1",
		"start":            "2026-03-01T00:00:00",
		"end":              "2026-03-02T00:00:00",
	})
	require.False(t, result.IsError)
}

func TestDriveDownloadFileContentMode(t *testing.T) {
	t.Parallel()

	content := []byte("file payload")
	var serverURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/drive/items/item-1":
			writeJSON(t, w, map[string]any{
				"id":                           "item-1",
				"name":                         "report.pdf",
				"size":                         float64(len(content)),
				"@microsoft.graph.downloadUrl": serverURL + "/content/item-1",
			})
		case "/content/item-1":
			_, _ = w.Write(content)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	serverURL = server.URL

	f := newToolsFixture(t, func(w http.ResponseWriter, r *http.Request) {
		server.Config.Handler.ServeHTTP(w, r)
	})
	f.seedSession(t, "sid-1")

	payload := structured(t, f.call(t, "drive_download_file", map[string]any{
		"graph_session_id": "sid-1",
		"item_id":          "item-1",
		"mode":             "content",
	}))
	assert.Equal(t, base64.StdEncoding.EncodeToString(content), payload["content_base64"])
	assert.Equal(t, int64(len(content)), payload["size_bytes"])
}

func TestDriveUploadChunkStatus(t *testing.T) {
	t.Parallel()

	var uploadURL string
	inProgress := true
	f := newToolsFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "bytes 0-4/10", r.Header.Get("Content-Range"))
		if inProgress {
			writeJSON(t, w, map[string]any{"nextExpectedRanges": []any{"5-9"}})
			return
		}
		writeJSON(t, w, map[string]any{"id": "item-1", "name": "big.bin", "size": float64(10)})
	})
	f.seedSession(t, "sid-1")
	uploadURL = f.deps.Config.UpstreamBaseURL + "/upload/session-1"

	args := map[string]any{
		"graph_session_id": "sid-1",
		"upload_url":       uploadURL,
		"content_base64":   base64.StdEncoding.EncodeToString([]byte("01234")),
		"range_start":      0,
		"total_size":       10,
	}

	payload := structured(t, f.call(t, "drive_upload_chunk", args))
	assert.Equal(t, "in_progress", payload["status"])
	assert.NotEmpty(t, payload["next_expected_ranges"])

	inProgress = false
	payload = structured(t, f.call(t, "drive_upload_chunk", args))
	assert.Equal(t, "completed", payload["status"])
}

func TestDriveUploadSmallFile(t *testing.T) {
	t.Parallel()

	content := []byte("small file")
	f := newToolsFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/me/drive/root:/docs/report.txt:/content", r.URL.Path)
		assert.Equal(t, "rename", r.URL.Query().Get("@microsoft.graph.conflictBehavior"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, content, raw)

		writeJSON(t, w, map[string]any{"id": "item-1", "name": "report.txt", "size": float64(len(content))})
	})
	f.seedSession(t, "sid-1")

	payload := structured(t, f.call(t, "drive_upload_small_file", map[string]any{
		"graph_session_id": "sid-1",
		"parent_path":      "docs",
		"file_name":        "report.txt",
		"content_base64":   base64.StdEncoding.EncodeToString(content),
		"idempotency_key":  "key-1",
	}))
	assert.Equal(t, "item-1", payload["item_id"])
}

func TestDriveSearchRequiresQuery(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, emptyList(t))
	f.seedSession(t, "sid-1")

	inner := errorPayload(t, f.call(t, "drive_search", map[string]any{
		"graph_session_id": "sid-1",
		"query":            "  ",
	}))
	assert.Equal(t, gwerr.CodeValidation, inner["code"])
	assert.Equal(t, "Query is required", inner["message"])
}

func TestDriveAddressResource(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		address driveAddress
		suffix  string
		want    string
	}{
		{"root", driveAddress{}, "", "/me/drive/root"},
		{"root children", driveAddress{}, "/children", "/me/drive/root/children"},
		{"item id", driveAddress{ItemID: "item-1"}, "/children", "/me/drive/items/item-1/children"},
		{"path", driveAddress{Path: "docs/report.pdf"}, "", "/me/drive/root:/docs/report.pdf"},
		{"path children", driveAddress{Path: "/docs/"}, "/children", "/me/drive/root:/docs:/children"},
		{"drive and item", driveAddress{DriveID: "d1", ItemID: "item-1"}, "", "/drives/d1/items/item-1"},
		{"drive and path", driveAddress{DriveID: "d1", Path: "docs"}, "/content", "/drives/d1/root:/docs:/content"},
		{"escaped segment", driveAddress{Path: "a b/c"}, "", "/me/drive/root:/a%20b/c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.address.resource(tc.suffix))
		})
	}
}

func TestDecodeUploadContent(t *testing.T) {
	t.Parallel()

	content, err := decodeUploadContent(base64.StdEncoding.EncodeToString([]byte("hello")), 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), content)

	_, err = decodeUploadContent(base64.StdEncoding.EncodeToString(make([]byte, 65)), 64)
	require.Error(t, err)
	var gwe *gwerr.Error
	require.ErrorAs(t, err, &gwe)
	assert.Equal(t, "Payload too large", gwe.Message)
	assert.Equal(t, http.StatusRequestEntityTooLarge, gwe.Status)

	_, err = decodeUploadContent("not base64!!", 64)
	require.Error(t, err)
}

func TestAuthGetStatus(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, emptyList(t))
	f.seedSession(t, "sid-1")

	payload := structured(t, f.call(t, "auth_get_status", map[string]any{"graph_session_id": "sid-1"}))
	assert.Equal(t, true, payload["authenticated"])
	assert.NotEmpty(t, payload["granted_scopes"])
}

func TestAuthLogoutDropsSession(t *testing.T) {
	t.Parallel()

	f := newToolsFixture(t, emptyList(t))
	f.seedSession(t, "sid-1")

	payload := structured(t, f.call(t, "auth_logout", map[string]any{"graph_session_id": "sid-1"}))
	assert.Equal(t, "logged_out", payload["status"])

	_, ok, err := f.store.GetSession(context.Background(), "sid-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
