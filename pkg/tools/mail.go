// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	gwerr "github.com/graphgate/graphgate/pkg/errors"
	"github.com/graphgate/graphgate/pkg/graph"
)

// messageSelectFields is the summary projection used by list and search.
var messageSelectFields = []string{
	"id", "subject", "from", "receivedDateTime", "isRead", "hasAttachments", "bodyPreview",
}

func mailTools(d *Deps) []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        "mail_list_folders",
				Description: "List mail folders. Hidden folders are excluded unless requested.",
				InputSchema: objectSchema(sessionProps(mergeProps(pageProps(), map[string]any{
					"include_hidden": boolProp("Include hidden folders."),
				}))),
			},
			Handler: handle("mail_list_folders", d.mailListFolders),
		},
		{
			Tool: mcp.Tool{
				Name:        "mail_list_messages",
				Description: "List messages in the mailbox or a specific folder, with date and unread filters.",
				InputSchema: objectSchema(sessionProps(mergeProps(pageProps(), map[string]any{
					"folder_id":   stringProp("Restrict to one folder."),
					"unread_only": boolProp("Only unread messages."),
					"from":        stringProp("Lower bound on receivedDateTime (ISO 8601)."),
					"to":          stringProp("Upper bound on receivedDateTime (ISO 8601)."),
					"order_by":    stringProp("OData $orderby expression."),
				}))),
			},
			Handler: handle("mail_list_messages", d.mailListMessages),
		},
		{
			Tool: mcp.Tool{
				Name:        "mail_get_message",
				Description: "Fetch a single message, optionally with body and attachment metadata.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"message_id":          stringProp("Message ID."),
					"include_body":        boolProp("Include the message body. Defaults to true."),
					"include_attachments": boolProp("Include attachment metadata."),
				}), "message_id"),
			},
			Handler: handle("mail_get_message", d.mailGetMessage),
		},
		{
			Tool: mcp.Tool{
				Name:        "mail_search_messages",
				Description: "Full-text search over messages.",
				InputSchema: objectSchema(sessionProps(mergeProps(pageProps(), map[string]any{
					"query": stringProp("Search expression."),
				})), "query"),
			},
			Handler: handle("mail_search_messages", d.mailSearchMessages),
		},
		{
			Tool: mcp.Tool{
				Name:        "mail_create_draft",
				Description: "Create a draft message.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"subject":           stringProp("Message subject."),
					"body_content":      stringProp("Message body."),
					"body_content_type": stringProp("Body content type, text or html. Defaults to text."),
					"to":                stringArrayProp("Recipient email addresses."),
					"cc":                stringArrayProp("CC email addresses."),
					"bcc":               stringArrayProp("BCC email addresses."),
					"idempotency_key":   stringProp("Replay protection key for this draft."),
				}), "subject", "body_content", "to", "idempotency_key"),
			},
			Handler: handle("mail_create_draft", d.mailCreateDraft),
		},
		{
			Tool: mcp.Tool{
				Name:        "mail_send_draft",
				Description: "Send a previously created draft.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"draft_id":        stringProp("Draft message ID."),
					"idempotency_key": stringProp("Replay protection key."),
				}), "draft_id"),
			},
			Handler: handle("mail_send_draft", d.mailSendDraft),
		},
		{
			Tool: mcp.Tool{
				Name:        "mail_reply",
				Description: "Reply to a message, optionally to all recipients.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"message_id":      stringProp("Message to reply to."),
					"comment":         stringProp("Reply text."),
					"reply_all":       boolProp("Reply to all recipients."),
					"idempotency_key": stringProp("Replay protection key."),
				}), "message_id", "comment"),
			},
			Handler: handle("mail_reply", d.mailReply),
		},
		{
			Tool: mcp.Tool{
				Name:        "mail_mark_read",
				Description: "Mark a message read or unread.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"message_id": stringProp("Message ID."),
					"is_read":    boolProp("Read state to set."),
				}), "message_id"),
			},
			Handler: handle("mail_mark_read", d.mailMarkRead),
		},
		{
			Tool: mcp.Tool{
				Name:        "mail_move_message",
				Description: "Move a message to another folder.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"message_id":            stringProp("Message ID."),
					"destination_folder_id": stringProp("Target folder ID."),
				}), "message_id", "destination_folder_id"),
			},
			Handler: handle("mail_move_message", d.mailMoveMessage),
		},
		{
			Tool: mcp.Tool{
				Name:        "mail_get_attachment",
				Description: "Fetch attachment metadata, optionally with base64 content.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"message_id":             stringProp("Message ID."),
					"attachment_id":          stringProp("Attachment ID."),
					"include_content_base64": boolProp("Include the content as base64."),
				}), "message_id", "attachment_id"),
			},
			Handler: handle("mail_get_attachment", d.mailGetAttachment),
		},
	}
}

func mergeProps(base, extra map[string]any) map[string]any {
	for name, prop := range extra {
		base[name] = prop
	}
	return base
}

func (d *Deps) mailListFolders(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		pageArgs
		IncludeHidden bool `json:"include_hidden"`
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

	query := args.options().Query()
	if !args.IncludeHidden {
		query.Set("$filter", "isHidden eq false")
	}

	payload, err := d.Graph.Do(ctx, token, http.MethodGet, "/me/mailFolders", query, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":       items(payload, folderSummary),
		"next_cursor": graph.NextCursor(payload),
	}, nil
}

func (d *Deps) mailListMessages(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		pageArgs
		FolderID   string `json:"folder_id"`
		UnreadOnly bool   `json:"unread_only"`
		From       string `json:"from"`
		To         string `json:"to"`
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

	path := "/me/messages"
	if args.FolderID != "" {
		path = "/me/mailFolders/" + url.PathEscape(args.FolderID) + "/messages"
	}

	query := args.options().Query()
	query.Set("$select", strings.Join(messageSelectFields, ","))
	var filters []string
	if args.From != "" {
		filters = append(filters, "receivedDateTime ge "+args.From)
	}
	if args.To != "" {
		filters = append(filters, "receivedDateTime le "+args.To)
	}
	if args.UnreadOnly {
		filters = append(filters, "isRead eq false")
	}
	if len(filters) > 0 {
		query.Set("$filter", strings.Join(filters, " and "))
	}

	payload, err := d.Graph.Do(ctx, token, http.MethodGet, path, query, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":       items(payload, messageSummary),
		"next_cursor": graph.NextCursor(payload),
	}, nil
}

func (d *Deps) mailGetMessage(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	args := struct {
		sessionArgs
		MessageID          string `json:"message_id"`
		IncludeBody        *bool  `json:"include_body"`
		IncludeAttachments bool   `json:"include_attachments"`
	}{}
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

	includeBody := args.IncludeBody == nil || *args.IncludeBody
	selected := []string{
		"id", "subject", "from", "toRecipients", "ccRecipients", "bccRecipients",
		"receivedDateTime", "isRead", "hasAttachments",
	}
	if includeBody {
		selected = append(selected, "body")
	}
	query := url.Values{"$select": {strings.Join(selected, ",")}}
	if args.IncludeAttachments {
		query.Set("$expand", "attachments")
	}

	payload, err := d.Graph.Do(ctx, token, http.MethodGet,
		"/me/messages/"+url.PathEscape(args.MessageID), query, nil, nil)
	if err != nil {
		return nil, err
	}

	message := map[string]any{
		"message_id":      str(payload, "id"),
		"subject":         str(payload, "subject"),
		"from":            recipient(object(payload, "from")),
		"to":              recipients(list(payload, "toRecipients")),
		"cc":              recipients(list(payload, "ccRecipients")),
		"bcc":             recipients(list(payload, "bccRecipients")),
		"received_at":     str(payload, "receivedDateTime"),
		"is_read":         boolean(payload, "isRead"),
		"has_attachments": boolean(payload, "hasAttachments"),
	}
	if includeBody {
		message["body"] = bodyIn(object(payload, "body"))
	}
	if args.IncludeAttachments {
		attachments := make([]map[string]any, 0)
		for _, entry := range list(payload, "attachments") {
			if a, ok := entry.(map[string]any); ok {
				attachments = append(attachments, attachmentSummary(a))
			}
		}
		message["attachments"] = attachments
	}
	return map[string]any{"message": message}, nil
}

func (d *Deps) mailSearchMessages(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		pageArgs
		Query string `json:"query"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
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

	query := args.options().Query()
	query.Set("$search", fmt.Sprintf("%q", args.Query))
	query.Set("$count", "true")
	extra := http.Header{}
	extra.Set("ConsistencyLevel", "eventual")

	payload, err := d.Graph.Do(ctx, token, http.MethodGet, "/me/messages", query, nil, extra)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":       items(payload, messageSummary),
		"next_cursor": graph.NextCursor(payload),
	}, nil
}

func (d *Deps) mailCreateDraft(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		Subject         string   `json:"subject"`
		BodyContent     string   `json:"body_content"`
		BodyContentType string   `json:"body_content_type"`
		To              []string `json:"to"`
		CC              []string `json:"cc"`
		BCC             []string `json:"bcc"`
		IdempotencyKey  string   `json:"idempotency_key"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	if len(args.To) == 0 {
		return nil, gwerr.NewValidationError("At least one recipient is required", nil)
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	return d.Idempotency.Execute(ctx, sess, "mail_create_draft", args.IdempotencyKey, func() (map[string]any, error) {
		body := map[string]any{
			"subject":       args.Subject,
			"body":          bodyOut(args.BodyContent, args.BodyContentType),
			"toRecipients":  addressList(args.To),
			"ccRecipients":  addressList(args.CC),
			"bccRecipients": addressList(args.BCC),
		}
		payload, err := d.Graph.Do(ctx, token, http.MethodPost, "/me/messages", nil, body, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"draft_id": str(payload, "id"),
			"message":  messageSummary(payload),
		}, nil
	})
}

func (d *Deps) mailSendDraft(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		DraftID        string `json:"draft_id"`
		IdempotencyKey string `json:"idempotency_key"`
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

	return d.Idempotency.Execute(ctx, sess, "mail_send_draft", args.IdempotencyKey, func() (map[string]any, error) {
		_, err := d.Graph.Do(ctx, token, http.MethodPost,
			"/me/messages/"+url.PathEscape(args.DraftID)+"/send", nil, nil, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "sent", "sent_message_id": args.DraftID}, nil
	})
}

func (d *Deps) mailReply(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		MessageID      string `json:"message_id"`
		Comment        string `json:"comment"`
		ReplyAll       bool   `json:"reply_all"`
		IdempotencyKey string `json:"idempotency_key"`
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

	endpoint := "reply"
	if args.ReplyAll {
		endpoint = "replyAll"
	}
	return d.Idempotency.Execute(ctx, sess, "mail_reply", args.IdempotencyKey, func() (map[string]any, error) {
		_, err := d.Graph.Do(ctx, token, http.MethodPost,
			"/me/messages/"+url.PathEscape(args.MessageID)+"/"+endpoint, nil,
			map[string]any{"comment": args.Comment}, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "sent", "replied_to_message_id": args.MessageID}, nil
	})
}

func (d *Deps) mailMarkRead(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		MessageID string `json:"message_id"`
		IsRead    bool   `json:"is_read"`
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

	_, err = d.Graph.Do(ctx, token, http.MethodPatch,
		"/me/messages/"+url.PathEscape(args.MessageID), nil,
		map[string]any{"isRead": args.IsRead}, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "message_id": args.MessageID, "is_read": args.IsRead}, nil
}

func (d *Deps) mailMoveMessage(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		MessageID           string `json:"message_id"`
		DestinationFolderID string `json:"destination_folder_id"`
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

	payload, err := d.Graph.Do(ctx, token, http.MethodPost,
		"/me/messages/"+url.PathEscape(args.MessageID)+"/move", nil,
		map[string]any{"destinationId": args.DestinationFolderID}, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":                "ok",
		"message_id":            str(payload, "id"),
		"destination_folder_id": args.DestinationFolderID,
	}, nil
}

func (d *Deps) mailGetAttachment(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		MessageID            string `json:"message_id"`
		AttachmentID         string `json:"attachment_id"`
		IncludeContentBase64 bool   `json:"include_content_base64"`
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
		"/me/messages/"+url.PathEscape(args.MessageID)+"/attachments/"+url.PathEscape(args.AttachmentID),
		nil, nil, nil)
	if err != nil {
		return nil, err
	}

	attachment := attachmentSummary(payload)
	if args.IncludeContentBase64 {
		attachment["content_base64"] = str(payload, "contentBytes")
	}
	return map[string]any{"attachment": attachment}, nil
}

// addressList maps bare email addresses to Graph recipient objects.
func addressList(emails []string) []map[string]any {
	mapped := make([]map[string]any, 0, len(emails))
	for _, email := range emails {
		mapped = append(mapped, recipientOut(email, ""))
	}
	return mapped
}
