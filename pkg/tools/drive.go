// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	gwerr "github.com/graphgate/graphgate/pkg/errors"
	"github.com/graphgate/graphgate/pkg/graph"
)

// driveAddress selects a drive item. Precedence: drive_id plus item_id,
// drive_id plus path, item_id, path, then the default drive root.
type driveAddress struct {
	DriveID string `json:"drive_id"`
	ItemID  string `json:"item_id"`
	Path    string `json:"path"`
}

// resource returns the Graph path for the addressed item with an optional
// suffix such as "/children" or "/content". Path-addressed items use the
// colon syntax, so the suffix is attached after a closing colon.
func (a driveAddress) resource(suffix string) string {
	path := strings.Trim(a.Path, "/")
	switch {
	case a.DriveID != "" && a.ItemID != "":
		return "/drives/" + url.PathEscape(a.DriveID) + "/items/" + url.PathEscape(a.ItemID) + suffix
	case a.DriveID != "" && path != "":
		return "/drives/" + url.PathEscape(a.DriveID) + "/root:/" + escapeDrivePath(path) + colonSuffix(suffix)
	case a.ItemID != "":
		return "/me/drive/items/" + url.PathEscape(a.ItemID) + suffix
	case path != "":
		return "/me/drive/root:/" + escapeDrivePath(path) + colonSuffix(suffix)
	default:
		return "/me/drive/root" + suffix
	}
}

func colonSuffix(suffix string) string {
	if suffix == "" {
		return ""
	}
	return ":" + suffix
}

func escapeDrivePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func driveAddressProps() map[string]any {
	return map[string]any{
		"drive_id": stringProp("Drive ID. Defaults to the user's default drive."),
		"item_id":  stringProp("Item ID. Takes precedence over path."),
		"path":     stringProp("Path relative to the drive root."),
	}
}

func driveTools(d *Deps) []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        "drive_get_default",
				Description: "Fetch the user's default drive.",
				InputSchema: objectSchema(sessionProps(nil)),
			},
			Handler: handle("drive_get_default", d.driveGetDefault),
		},
		{
			Tool: mcp.Tool{
				Name:        "drive_list_children",
				Description: "List children of a folder. Defaults to the drive root.",
				InputSchema: objectSchema(sessionProps(mergeProps(pageProps(), driveAddressProps()))),
			},
			Handler: handle("drive_list_children", d.driveListChildren),
		},
		{
			Tool: mcp.Tool{
				Name:        "drive_get_item",
				Description: "Fetch metadata for a drive item.",
				InputSchema: objectSchema(sessionProps(driveAddressProps())),
			},
			Handler: handle("drive_get_item", d.driveGetItem),
		},
		{
			Tool: mcp.Tool{
				Name:        "drive_search",
				Description: "Search the default drive by file name or content.",
				InputSchema: objectSchema(sessionProps(mergeProps(pageProps(), map[string]any{
					"query":    stringProp("Search text."),
					"drive_id": stringProp("Drive ID. Defaults to the user's default drive."),
				})), "query"),
			},
			Handler: handle("drive_search", d.driveSearch),
		},
		{
			Tool: mcp.Tool{
				Name:        "drive_download_file",
				Description: "Download a file as a short-lived URL or inline base64 content.",
				InputSchema: objectSchema(sessionProps(mergeProps(driveAddressProps(), map[string]any{
					"mode":      stringProp("download_url (default) or content."),
					"max_bytes": intProp("Cap for inline content downloads."),
				}))),
			},
			Handler: handle("drive_download_file", d.driveDownloadFile),
		},
		{
			Tool: mcp.Tool{
				Name:        "drive_upload_small_file",
				Description: "Upload a small file in a single request.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"parent_path":       stringProp("Destination folder path. Empty means the root."),
					"file_name":         stringProp("File name."),
					"content_base64":    stringProp("File content, base64 encoded."),
					"conflict_behavior": stringProp("rename (default), replace, or fail."),
					"idempotency_key":   stringProp("Replay protection key."),
				}), "parent_path", "file_name", "content_base64", "idempotency_key"),
			},
			Handler: handle("drive_upload_small_file", d.driveUploadSmallFile),
		},
		{
			Tool: mcp.Tool{
				Name:        "drive_create_upload_session",
				Description: "Start a resumable upload session for a large file.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"parent_path":       stringProp("Destination folder path. Empty means the root."),
					"file_name":         stringProp("File name."),
					"conflict_behavior": stringProp("rename (default), replace, or fail."),
					"idempotency_key":   stringProp("Replay protection key."),
				}), "parent_path", "file_name", "idempotency_key"),
			},
			Handler: handle("drive_create_upload_session", d.driveCreateUploadSession),
		},
		{
			Tool: mcp.Tool{
				Name:        "drive_upload_chunk",
				Description: "Upload one chunk of a resumable upload session.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"upload_url":     stringProp("Upload session URL."),
					"content_base64": stringProp("Chunk content, base64 encoded."),
					"range_start":    intProp("Byte offset of this chunk."),
					"total_size":     intProp("Total file size in bytes."),
				}), "upload_url", "content_base64", "total_size"),
			},
			Handler: handle("drive_upload_chunk", d.driveUploadChunk),
		},
		{
			Tool: mcp.Tool{
				Name:        "drive_create_folder",
				Description: "Create a folder.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"parent_path":       stringProp("Parent folder path. Defaults to the root."),
					"folder_name":       stringProp("Folder name."),
					"conflict_behavior": stringProp("rename (default), replace, or fail."),
				}), "folder_name"),
			},
			Handler: handle("drive_create_folder", d.driveCreateFolder),
		},
		{
			Tool: mcp.Tool{
				Name:        "drive_delete_item",
				Description: "Delete a drive item.",
				InputSchema: objectSchema(sessionProps(driveAddressProps())),
			},
			Handler: handle("drive_delete_item", d.driveDeleteItem),
		},
		{
			Tool: mcp.Tool{
				Name:        "drive_share_create_link",
				Description: "Create a sharing link for a drive item.",
				InputSchema: objectSchema(sessionProps(mergeProps(driveAddressProps(), map[string]any{
					"link_type": stringProp("view (default), edit, or embed."),
					"scope":     stringProp("organization (default) or anonymous."),
				}))),
			},
			Handler: handle("drive_share_create_link", d.driveShareCreateLink),
		},
	}
}

func (d *Deps) driveGetDefault(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args sessionArgs
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	sess, err := d.resolveSession(ctx, args)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	payload, err := d.Graph.Do(ctx, token, http.MethodGet, "/me/drive", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"drive": driveSummary(payload)}, nil
}

func (d *Deps) driveListChildren(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		pageArgs
		driveAddress
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	payload, err := d.Graph.Do(ctx, token, http.MethodGet,
		args.driveAddress.resource("/children"), args.options().Query(), nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":       items(payload, driveItemSummary),
		"next_cursor": graph.NextCursor(payload),
	}, nil
}

func (d *Deps) driveGetItem(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		driveAddress
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	payload, err := d.Graph.Do(ctx, token, http.MethodGet, args.driveAddress.resource(""), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"item": driveItemSummary(payload)}, nil
}

func (d *Deps) driveSearch(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		pageArgs
		Query   string `json:"query"`
		DriveID string `json:"drive_id"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, gwerr.NewValidationError("Query is required", nil)
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	base := "/me/drive/root"
	if args.DriveID != "" {
		base = "/drives/" + url.PathEscape(args.DriveID) + "/root"
	}
	escaped := strings.ReplaceAll(args.Query, "'", "''")
	path := base + "/search(q='" + url.PathEscape(escaped) + "')"
	payload, err := d.Graph.Do(ctx, token, http.MethodGet, path, args.options().Query(), nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":       items(payload, driveItemSummary),
		"next_cursor": graph.NextCursor(payload),
	}, nil
}

func (d *Deps) driveDownloadFile(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		driveAddress
		Mode     string `json:"mode"`
		MaxBytes int64  `json:"max_bytes"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	mode := args.Mode
	if mode == "" {
		mode = "download_url"
	}
	if mode != "download_url" && mode != "content" {
		return nil, gwerr.NewValidationError("mode must be download_url or content", nil)
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	item, err := d.Graph.Do(ctx, token, http.MethodGet, args.driveAddress.resource(""), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	downloadURL := str(item, "@microsoft.graph.downloadUrl")
	sizeBytes := int64(number(item, "size"))
	if downloadURL == "" {
		return nil, gwerr.NewNotFoundError("Item has no downloadable content", nil)
	}
	if mode == "download_url" {
		return map[string]any{
			"download_url": downloadURL,
			"size_bytes":   sizeBytes,
		}, nil
	}

	maxBytes := d.Config.MaxBase64Bytes
	if args.MaxBytes > 0 && args.MaxBytes < maxBytes {
		maxBytes = args.MaxBytes
	}
	content, err := d.Graph.DoRaw(ctx, token, downloadURL, maxBytes)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content_base64": base64.StdEncoding.EncodeToString(content),
		"size_bytes":     int64(len(content)),
	}, nil
}

func (d *Deps) driveUploadSmallFile(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		ParentPath       string `json:"parent_path"`
		FileName         string `json:"file_name"`
		ContentBase64    string `json:"content_base64"`
		ConflictBehavior string `json:"conflict_behavior"`
		IdempotencyKey   string `json:"idempotency_key"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	if args.FileName == "" {
		return nil, gwerr.NewValidationError("file_name is required", nil)
	}
	content, err := decodeUploadContent(args.ContentBase64, d.Config.MaxBase64Bytes)
	if err != nil {
		return nil, err
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	address := driveAddress{Path: uploadPath(args.ParentPath, args.FileName)}
	uploadURL := address.resource("/content") +
		"?@microsoft.graph.conflictBehavior=" + url.QueryEscape(conflictBehavior(args.ConflictBehavior))
	return d.Idempotency.Execute(ctx, sess, "drive_upload_small_file", args.IdempotencyKey, func() (map[string]any, error) {
		payload, err := d.Graph.DoUpload(ctx, token, http.MethodPut, uploadURL, content, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"item_id": str(payload, "id"),
			"item":    driveItemSummary(payload),
		}, nil
	})
}

func (d *Deps) driveCreateUploadSession(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		ParentPath       string `json:"parent_path"`
		FileName         string `json:"file_name"`
		ConflictBehavior string `json:"conflict_behavior"`
		IdempotencyKey   string `json:"idempotency_key"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	if args.FileName == "" {
		return nil, gwerr.NewValidationError("file_name is required", nil)
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	address := driveAddress{Path: uploadPath(args.ParentPath, args.FileName)}
	body := map[string]any{
		"item": map[string]any{
			"@microsoft.graph.conflictBehavior": conflictBehavior(args.ConflictBehavior),
		},
	}
	return d.Idempotency.Execute(ctx, sess, "drive_create_upload_session", args.IdempotencyKey, func() (map[string]any, error) {
		payload, err := d.Graph.Do(ctx, token, http.MethodPost, address.resource("/createUploadSession"), nil, body, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"upload_session": map[string]any{
				"upload_url":           str(payload, "uploadUrl"),
				"expiration_datetime":  str(payload, "expirationDateTime"),
				"next_expected_ranges": list(payload, "nextExpectedRanges"),
			},
		}, nil
	})
}

func (d *Deps) driveUploadChunk(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		UploadURL     string `json:"upload_url"`
		ContentBase64 string `json:"content_base64"`
		RangeStart    int64  `json:"range_start"`
		TotalSize     int64  `json:"total_size"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	if args.UploadURL == "" {
		return nil, gwerr.NewValidationError("upload_url is required", nil)
	}
	content, err := decodeUploadContent(args.ContentBase64, d.Config.MaxBase64Bytes)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, gwerr.NewValidationError("content_base64 must not be empty", nil)
	}
	if args.TotalSize <= 0 {
		return nil, gwerr.NewValidationError("total_size must be positive", nil)
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	rangeEnd := args.RangeStart + int64(len(content)) - 1
	headers := http.Header{}
	headers.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", args.RangeStart, rangeEnd, args.TotalSize))

	payload, err := d.Graph.DoUpload(ctx, token, http.MethodPut, args.UploadURL, content, headers)
	if err != nil {
		return nil, err
	}
	if ranges := list(payload, "nextExpectedRanges"); len(ranges) > 0 {
		return map[string]any{
			"status":               "in_progress",
			"next_expected_ranges": ranges,
		}, nil
	}
	return map[string]any{
		"status": "completed",
		"item":   driveItemSummary(payload),
	}, nil
}

func (d *Deps) driveCreateFolder(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		ParentPath       string `json:"parent_path"`
		FolderName       string `json:"folder_name"`
		ConflictBehavior string `json:"conflict_behavior"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	if args.FolderName == "" {
		return nil, gwerr.NewValidationError("folder_name is required", nil)
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	address := driveAddress{Path: strings.Trim(args.ParentPath, "/")}
	body := map[string]any{
		"name":                              args.FolderName,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": conflictBehavior(args.ConflictBehavior),
	}
	payload, err := d.Graph.Do(ctx, token, http.MethodPost, address.resource("/children"), nil, body, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"item_id": str(payload, "id"),
		"item":    driveItemSummary(payload),
	}, nil
}

func (d *Deps) driveDeleteItem(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		driveAddress
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	if args.ItemID == "" && strings.Trim(args.Path, "/") == "" {
		return nil, gwerr.NewValidationError("item_id or path is required", nil)
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	_, err = d.Graph.Do(ctx, token, http.MethodDelete, args.driveAddress.resource(""), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "deleted"}, nil
}

func (d *Deps) driveShareCreateLink(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		driveAddress
		LinkType string `json:"link_type"`
		Scope    string `json:"scope"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	linkType := args.LinkType
	if linkType == "" {
		linkType = "view"
	}
	scope := args.Scope
	if scope == "" {
		scope = "organization"
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	payload, err := d.Graph.Do(ctx, token, http.MethodPost, args.driveAddress.resource("/createLink"), nil,
		map[string]any{"type": linkType, "scope": scope}, nil)
	if err != nil {
		return nil, err
	}
	link := object(payload, "link")
	return map[string]any{
		"link_url":  str(link, "webUrl"),
		"link_type": str(link, "type"),
		"scope":     str(link, "scope"),
	}, nil
}

// decodeUploadContent decodes a base64 payload and enforces the configured
// size cap on the decoded bytes.
func decodeUploadContent(encoded string, maxBytes int64) ([]byte, error) {
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > maxBytes {
		return nil, gwerr.NewPayloadTooLargeError("Payload too large", nil)
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, gwerr.NewValidationError("content_base64 is not valid base64", err)
	}
	if int64(len(content)) > maxBytes {
		return nil, gwerr.NewPayloadTooLargeError("Payload too large", nil)
	}
	return content, nil
}

func uploadPath(parent, name string) string {
	parent = strings.Trim(parent, "/")
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func conflictBehavior(value string) string {
	switch value {
	case "replace", "fail":
		return value
	default:
		return "rename"
	}
}
