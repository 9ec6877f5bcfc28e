// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import "strings"

// Mapping helpers between Graph resource shapes and the flattened tool
// result shapes. Lookups tolerate missing fields: Graph omits what a
// $select did not ask for.

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func boolean(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func number(m map[string]any, key string) float64 {
	v, _ := m[key].(float64)
	return v
}

func object(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func list(m map[string]any, key string) []any {
	v, _ := m[key].([]any)
	return v
}

// items maps every element of a Graph "value" collection.
func items(payload map[string]any, mapFn func(map[string]any) map[string]any) []map[string]any {
	value := list(payload, "value")
	mapped := make([]map[string]any, 0, len(value))
	for _, entry := range value {
		if m, ok := entry.(map[string]any); ok {
			mapped = append(mapped, mapFn(m))
		}
	}
	return mapped
}

// recipient maps Graph emailAddress{address, name} to {email, name}.
func recipient(entry map[string]any) map[string]any {
	if entry == nil {
		return nil
	}
	email := object(entry, "emailAddress")
	return map[string]any{
		"email": str(email, "address"),
		"name":  str(email, "name"),
	}
}

func recipients(entries []any) []map[string]any {
	mapped := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		if m, ok := entry.(map[string]any); ok {
			mapped = append(mapped, recipient(m))
		}
	}
	return mapped
}

// recipientOut maps {email, name} back to the Graph shape.
func recipientOut(email, name string) map[string]any {
	return map[string]any{
		"emailAddress": map[string]any{"address": email, "name": name},
	}
}

// bodyOut builds a Graph item body. Content type defaults to text.
func bodyOut(content, contentType string) map[string]any {
	if contentType == "" {
		contentType = "text"
	}
	return map[string]any{
		"contentType": strings.ToUpper(contentType),
		"content":     content,
	}
}

func bodyIn(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}
	contentType := str(body, "contentType")
	if contentType == "" {
		contentType = "html"
	}
	return map[string]any{
		"content_type": strings.ToLower(contentType),
		"content":      str(body, "content"),
	}
}

// messageSummary flattens a Graph message for list results.
func messageSummary(m map[string]any) map[string]any {
	return map[string]any{
		"message_id":      str(m, "id"),
		"subject":         str(m, "subject"),
		"from":            recipient(object(m, "from")),
		"received_at":     str(m, "receivedDateTime"),
		"is_read":         boolean(m, "isRead"),
		"has_attachments": boolean(m, "hasAttachments"),
		"preview":         str(m, "bodyPreview"),
	}
}

func attachmentSummary(a map[string]any) map[string]any {
	return map[string]any{
		"attachment_id": str(a, "id"),
		"name":          str(a, "name"),
		"content_type":  str(a, "contentType"),
		"size_bytes":    number(a, "size"),
	}
}

func folderSummary(f map[string]any) map[string]any {
	return map[string]any{
		"folder_id":         str(f, "id"),
		"display_name":      str(f, "displayName"),
		"parent_folder_id":  str(f, "parentFolderId"),
		"total_item_count":  number(f, "totalItemCount"),
		"unread_item_count": number(f, "unreadItemCount"),
	}
}

// eventSummary flattens a Graph event.
func eventSummary(e map[string]any) map[string]any {
	start := object(e, "start")
	return map[string]any{
		"event_id":           str(e, "id"),
		"subject":            str(e, "subject"),
		"start":              str(start, "dateTime"),
		"end":                str(object(e, "end"), "dateTime"),
		"timezone":           str(start, "timeZone"),
		"location":           str(object(e, "location"), "displayName"),
		"organizer":          recipient(object(e, "organizer")),
		"attendees":          recipients(list(e, "attendees")),
		"is_online_meeting":  boolean(e, "isOnlineMeeting"),
		"online_meeting_url": str(object(e, "onlineMeeting"), "joinUrl"),
		"body_preview":       str(e, "bodyPreview"),
	}
}

func calendarSummary(c map[string]any) map[string]any {
	return map[string]any{
		"calendar_id": str(c, "id"),
		"name":        str(c, "name"),
		"owner":       recipient(object(c, "owner")),
	}
}

// driveItemSummary flattens a Graph drive item.
func driveItemSummary(item map[string]any) map[string]any {
	_, isFolder := item["folder"]
	return map[string]any{
		"id":         str(item, "id"),
		"name":       str(item, "name"),
		"path":       str(object(item, "parentReference"), "path"),
		"size_bytes": number(item, "size"),
		"is_folder":  isFolder,
		"mime_type":  str(object(item, "file"), "mimeType"),
		"web_url":    str(item, "webUrl"),
	}
}

func driveSummary(d map[string]any) map[string]any {
	return map[string]any{
		"drive_id":   str(d, "id"),
		"drive_type": str(d, "driveType"),
		"owner":      str(object(object(d, "owner"), "user"), "displayName"),
		"web_url":    str(d, "webUrl"),
	}
}
