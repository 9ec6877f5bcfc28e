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

// inviteResponses maps caller responses to Graph event actions.
var inviteResponses = map[string]string{
	"accept":    "accept",
	"tentative": "tentativelyAccept",
	"decline":   "decline",
}

func calendarTools(d *Deps) []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        "calendar_list_calendars",
				Description: "List the user's calendars.",
				InputSchema: objectSchema(sessionProps(pageProps())),
			},
			Handler: handle("calendar_list_calendars", d.calendarListCalendars),
		},
		{
			Tool: mcp.Tool{
				Name:        "calendar_list_events",
				Description: "List events in a time window. Cancelled events are excluded.",
				InputSchema: objectSchema(sessionProps(mergeProps(pageProps(), map[string]any{
					"calendar_id":       stringProp("Restrict to one calendar."),
					"start":             stringProp("Window start (ISO 8601)."),
					"end":               stringProp("Window end (ISO 8601)."),
					"include_cancelled": boolProp("Include cancelled events."),
				}))),
			},
			Handler: handle("calendar_list_events", d.calendarListEvents),
		},
		{
			Tool: mcp.Tool{
				Name:        "calendar_get_event",
				Description: "Fetch a single event.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"event_id": stringProp("Event ID."),
				}), "event_id"),
			},
			Handler: handle("calendar_get_event", d.calendarGetEvent),
		},
		{
			Tool: mcp.Tool{
				Name:        "calendar_create_event",
				Description: "Create an event, optionally as a Teams online meeting.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"subject":           stringProp("Event subject."),
					"start":             stringProp("Start time (ISO 8601)."),
					"end":               stringProp("End time (ISO 8601)."),
					"timezone":          stringProp("IANA or Windows time zone. Defaults to UTC."),
					"body_content":      stringProp("Event body."),
					"location":          stringProp("Location display name."),
					"attendees":         stringArrayProp("Attendee email addresses."),
					"is_online_meeting": boolProp("Create a Teams meeting."),
					"transaction_id":    stringProp("Replay protection key for this event."),
				}), "subject", "start", "end", "transaction_id"),
			},
			Handler: handle("calendar_create_event", d.calendarCreateEvent),
		},
		{
			Tool: mcp.Tool{
				Name:        "calendar_update_event",
				Description: "Patch fields of an existing event.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"event_id":        stringProp("Event ID."),
					"patch":           objectProp("Graph event fields to update."),
					"idempotency_key": stringProp("Replay protection key."),
				}), "event_id", "patch"),
			},
			Handler: handle("calendar_update_event", d.calendarUpdateEvent),
		},
		{
			Tool: mcp.Tool{
				Name:        "calendar_delete_event",
				Description: "Delete an event.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"event_id": stringProp("Event ID."),
				}), "event_id"),
			},
			Handler: handle("calendar_delete_event", d.calendarDeleteEvent),
		},
		{
			Tool: mcp.Tool{
				Name:        "calendar_respond_to_invite",
				Description: "Accept, tentatively accept, or decline a meeting invitation.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"event_id":        stringProp("Event ID."),
					"response":        stringProp("One of accept, tentative, decline."),
					"comment":         stringProp("Optional response comment."),
					"send_response":   boolProp("Notify the organizer. Defaults to true."),
					"idempotency_key": stringProp("Replay protection key."),
				}), "event_id", "response", "idempotency_key"),
			},
			Handler: handle("calendar_respond_to_invite", d.calendarRespondToInvite),
		},
		{
			Tool: mcp.Tool{
				Name:        "calendar_find_availability",
				Description: "Query free/busy information for a set of attendees.",
				InputSchema: objectSchema(sessionProps(map[string]any{
					"attendees":        stringArrayProp("Attendee email addresses."),
					"start":            stringProp("Window start (ISO 8601)."),
					"end":              stringProp("Window end (ISO 8601)."),
					"interval_minutes": intProp("Availability granularity in minutes. Defaults to 30."),
				}), "attendees", "start", "end"),
			},
			Handler: handle("calendar_find_availability", d.calendarFindAvailability),
		},
	}
}

func (d *Deps) calendarListCalendars(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		pageArgs
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

	payload, err := d.Graph.Do(ctx, token, http.MethodGet, "/me/calendars", args.options().Query(), nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":       items(payload, calendarSummary),
		"next_cursor": graph.NextCursor(payload),
	}, nil
}

func (d *Deps) calendarListEvents(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		pageArgs
		CalendarID       string `json:"calendar_id"`
		Start            string `json:"start"`
		End              string `json:"end"`
		IncludeCancelled bool   `json:"include_cancelled"`
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

	path := "/me/events"
	if args.CalendarID != "" {
		path = "/me/calendars/" + url.PathEscape(args.CalendarID) + "/events"
	}

	var filters []string
	if args.Start != "" {
		filters = append(filters, fmt.Sprintf("start/dateTime ge '%s'", args.Start))
	}
	if args.End != "" {
		filters = append(filters, fmt.Sprintf("end/dateTime le '%s'", args.End))
	}
	if !args.IncludeCancelled {
		filters = append(filters, "isCancelled eq false")
	}
	query := args.options().Query()
	query.Set("$filter", strings.Join(filters, " and "))

	payload, err := d.Graph.Do(ctx, token, http.MethodGet, path, query, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"items":       items(payload, eventSummary),
		"next_cursor": graph.NextCursor(payload),
	}, nil
}

func (d *Deps) calendarGetEvent(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		EventID string `json:"event_id"`
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
		"/me/events/"+url.PathEscape(args.EventID), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"event": eventSummary(payload)}, nil
}

func (d *Deps) calendarCreateEvent(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		Subject         string   `json:"subject"`
		Start           string   `json:"start"`
		End             string   `json:"end"`
		Timezone        string   `json:"timezone"`
		BodyContent     string   `json:"body_content"`
		Location        string   `json:"location"`
		Attendees       []string `json:"attendees"`
		IsOnlineMeeting bool     `json:"is_online_meeting"`
		TransactionID   string   `json:"transaction_id"`
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

	timezone := args.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	attendees := make([]map[string]any, 0, len(args.Attendees))
	for _, email := range args.Attendees {
		attendees = append(attendees, map[string]any{
			"emailAddress": map[string]any{"address": email},
			"type":         "required",
		})
	}
	body := map[string]any{
		"subject":   args.Subject,
		"body":      bodyOut(args.BodyContent, "text"),
		"start":     map[string]any{"dateTime": args.Start, "timeZone": timezone},
		"end":       map[string]any{"dateTime": args.End, "timeZone": timezone},
		"location":  map[string]any{"displayName": args.Location},
		"attendees": attendees,
	}
	if args.IsOnlineMeeting {
		body["isOnlineMeeting"] = true
		body["onlineMeetingProvider"] = "teamsForBusiness"
	}

	return d.Idempotency.Execute(ctx, sess, "calendar_create_event", args.TransactionID, func() (map[string]any, error) {
		payload, err := d.Graph.Do(ctx, token, http.MethodPost, "/me/events", nil, body, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"event_id": str(payload, "id"),
			"event":    eventSummary(payload),
		}, nil
	})
}

func (d *Deps) calendarUpdateEvent(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		EventID        string         `json:"event_id"`
		Patch          map[string]any `json:"patch"`
		IdempotencyKey string         `json:"idempotency_key"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	if len(args.Patch) == 0 {
		return nil, gwerr.NewValidationError("patch must not be empty", nil)
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	return d.Idempotency.Execute(ctx, sess, "calendar_update_event", args.IdempotencyKey, func() (map[string]any, error) {
		_, err := d.Graph.Do(ctx, token, http.MethodPatch,
			"/me/events/"+url.PathEscape(args.EventID), nil, args.Patch, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "event_id": args.EventID}, nil
	})
}

func (d *Deps) calendarDeleteEvent(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		EventID string `json:"event_id"`
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

	_, err = d.Graph.Do(ctx, token, http.MethodDelete,
		"/me/events/"+url.PathEscape(args.EventID), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "deleted", "event_id": args.EventID}, nil
}

func (d *Deps) calendarRespondToInvite(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		EventID        string `json:"event_id"`
		Response       string `json:"response"`
		Comment        string `json:"comment"`
		SendResponse   *bool  `json:"send_response"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	action, ok := inviteResponses[args.Response]
	if !ok {
		return nil, gwerr.NewValidationError("response must be accept, tentative, or decline", nil)
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	sendResponse := args.SendResponse == nil || *args.SendResponse
	return d.Idempotency.Execute(ctx, sess, "calendar_respond_to_invite", args.IdempotencyKey, func() (map[string]any, error) {
		_, err := d.Graph.Do(ctx, token, http.MethodPost,
			"/me/events/"+url.PathEscape(args.EventID)+"/"+action, nil,
			map[string]any{"comment": args.Comment, "sendResponse": sendResponse}, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "ok", "event_id": args.EventID, "response": args.Response}, nil
	})
}

func (d *Deps) calendarFindAvailability(ctx context.Context, request mcp.CallToolRequest) (map[string]any, error) {
	var args struct {
		sessionArgs
		Attendees       []string `json:"attendees"`
		Start           string   `json:"start"`
		End             string   `json:"end"`
		IntervalMinutes int      `json:"interval_minutes"`
	}
	if err := bindArguments(request, &args); err != nil {
		return nil, err
	}
	if len(args.Attendees) == 0 {
		return nil, gwerr.NewValidationError("At least one attendee is required", nil)
	}
	sess, err := d.resolveSession(ctx, args.sessionArgs)
	if err != nil {
		return nil, err
	}
	token, err := d.accessToken(ctx, sess)
	if err != nil {
		return nil, err
	}

	interval := args.IntervalMinutes
	if interval <= 0 {
		interval = 30
	}
	body := map[string]any{
		"schedules":                args.Attendees,
		"startTime":                map[string]any{"dateTime": args.Start, "timeZone": "UTC"},
		"endTime":                  map[string]any{"dateTime": args.End, "timeZone": "UTC"},
		"availabilityViewInterval": interval,
	}

	payload, err := d.Graph.Do(ctx, token, http.MethodPost, "/me/calendar/getSchedule", nil, body, nil)
	if err != nil {
		return nil, err
	}

	slots := make([]map[string]any, 0)
	for _, entry := range list(payload, "value") {
		schedule, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		for _, rawItem := range list(schedule, "scheduleItems") {
			item, ok := rawItem.(map[string]any)
			if !ok {
				continue
			}
			slots = append(slots, map[string]any{
				"start":        str(object(item, "start"), "dateTime"),
				"end":          str(object(item, "end"), "dateTime"),
				"is_available": str(item, "status") == "free",
			})
		}
	}
	return map[string]any{"slots": slots}, nil
}
