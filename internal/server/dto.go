package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"freshline/internal/domain"
	"freshline/internal/engine"
)

// Request payloads

type CreateEventRequest struct {
	MessageID string `json:"message_id"`
	SearchKey string `json:"search_key,omitempty"`
	// Kind is an event kind name or its numeric code.
	Kind      any    `json:"kind" jsonschema:"oneof_type=string;integer"`
	Released  *bool  `json:"released,omitempty"`
	ComposeID *int64 `json:"compose_id,omitempty"`
}

type CreateBuildRequest struct {
	EventID int64  `json:"event_id"`
	Name    string `json:"name"`
	// Type and State accept names or numeric codes.
	Type        any     `json:"type" jsonschema:"oneof_type=string;integer"`
	State       any     `json:"state,omitempty" jsonschema:"oneof_type=string;integer"`
	OriginalNVR *string `json:"original_nvr,omitempty"`
	DepOnID     *int64  `json:"dep_on_id,omitempty"`
	BuildID     *int64  `json:"build_id,omitempty"`
	BuildArgs   *string `json:"build_args,omitempty"`
}

type TransitionStateRequest struct {
	State  any    `json:"state" jsonschema:"oneof_type=string;integer"`
	Reason string `json:"reason,omitempty"`
}

type UpdateBuildRequest struct {
	BuildID    *int64  `json:"build_id,omitempty"`
	RebuiltNVR *string `json:"rebuilt_nvr,omitempty"`
}

// Response payloads

type EventResponse struct {
	ID          int64          `json:"id"`
	MessageID   string         `json:"message_id"`
	SearchKey   string         `json:"search_key,omitempty"`
	Kind        int            `json:"event_type"`
	KindName    string         `json:"event_type_name"`
	Released    bool           `json:"released"`
	ComposeID   *int64         `json:"compose_id,omitempty"`
	TimeCreated string         `json:"time_created" format:"date-time"`
	URL         string         `json:"url,omitempty"`
	Created     *bool          `json:"created,omitempty"`
	Builds      []BuildSummary `json:"builds,omitempty"`
}

type BuildSummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      int    `json:"type"`
	TypeName  string `json:"type_name"`
	State     int    `json:"state"`
	StateName string `json:"state_name"`
}

type BuildResponse struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	OriginalNVR   *string `json:"original_nvr,omitempty"`
	RebuiltNVR    *string `json:"rebuilt_nvr,omitempty"`
	Type          int     `json:"type"`
	TypeName      string  `json:"type_name"`
	State         int     `json:"state"`
	StateName     string  `json:"state_name"`
	StateReason   string  `json:"state_reason,omitempty"`
	TimeSubmitted string  `json:"time_submitted" format:"date-time"`
	TimeCompleted *string `json:"time_completed,omitempty" format:"date-time"`
	EventID       int64   `json:"event_id"`
	DepOnID       *int64  `json:"dep_on_id,omitempty"`
	DepOn         *string `json:"dep_on,omitempty"`
	BuildID       *int64  `json:"build_id,omitempty"`
	BuildArgs     *string `json:"build_args,omitempty"`
	URL           string  `json:"url,omitempty"`
}

type AuditResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	EventID *int64         `json:"event_id,omitempty"`
	BuildID *int64         `json:"build_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor int64           `json:"next_cursor,omitempty"`
}

type paginatedBuilds struct {
	Items      []BuildResponse `json:"items"`
	NextCursor int64           `json:"next_cursor,omitempty"`
}

// urlBuilder constructs resource URLs for responses. URL construction is
// a presentation concern; nothing below the API layer knows about it.
type urlBuilder struct {
	base    string
	apiPath string
}

func (u urlBuilder) event(id int64) string {
	return u.resource("events", id)
}

func (u urlBuilder) build(id int64) string {
	return u.resource("builds", id)
}

func (u urlBuilder) resource(kind string, id int64) string {
	if u.base == "" {
		return fmt.Sprintf("%s/%s/%d", u.apiPath, kind, id)
	}
	return fmt.Sprintf("%s%s/%s/%d", strings.TrimRight(u.base, "/"), u.apiPath, kind, id)
}

func eventResponse(ev domain.Event, urls urlBuilder) EventResponse {
	return EventResponse{
		ID:          ev.ID,
		MessageID:   ev.MessageID,
		SearchKey:   ev.SearchKey,
		Kind:        ev.Kind.Code(),
		KindName:    string(ev.Kind),
		Released:    ev.Released,
		ComposeID:   ev.ComposeID,
		TimeCreated: ev.TimeCreated,
		URL:         urls.event(ev.ID),
	}
}

func eventResponses(events []domain.Event, urls urlBuilder) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse(ev, urls))
	}
	return out
}

func buildSummaries(builds []domain.ArtifactBuild) []BuildSummary {
	out := make([]BuildSummary, 0, len(builds))
	for _, b := range builds {
		out = append(out, BuildSummary{
			ID:        b.ID,
			Name:      b.Name,
			Type:      int(b.Type),
			TypeName:  b.Type.String(),
			State:     int(b.State),
			StateName: b.State.String(),
		})
	}
	return out
}

func buildResponse(ctx context.Context, e engine.Engine, b domain.ArtifactBuild, urls urlBuilder) BuildResponse {
	resp := BuildResponse{
		ID:            b.ID,
		Name:          b.Name,
		OriginalNVR:   b.OriginalNVR,
		RebuiltNVR:    b.RebuiltNVR,
		Type:          int(b.Type),
		TypeName:      b.Type.String(),
		State:         int(b.State),
		StateName:     b.State.String(),
		StateReason:   b.StateReason,
		TimeSubmitted: b.TimeSubmitted,
		TimeCompleted: b.TimeCompleted,
		EventID:       b.EventID,
		DepOnID:       b.DepOnID,
		BuildID:       b.BuildID,
		BuildArgs:     b.BuildArgs,
		URL:           urls.build(b.ID),
	}
	if b.DepOnID != nil {
		if parent, err := e.Repo.GetBuild(ctx, *b.DepOnID); err == nil {
			resp.DepOn = &parent.Name
		}
	}
	return resp
}

func buildResponses(ctx context.Context, e engine.Engine, builds []domain.ArtifactBuild, urls urlBuilder) []BuildResponse {
	out := make([]BuildResponse, 0, len(builds))
	for _, b := range builds {
		out = append(out, buildResponse(ctx, e, b, urls))
	}
	return out
}

func auditResponses(entries []domain.AuditEntry) []AuditResponse {
	out := make([]AuditResponse, 0, len(entries))
	for _, entry := range entries {
		payload := map[string]any{}
		_ = json.Unmarshal([]byte(entry.Payload), &payload)
		out = append(out, AuditResponse{
			ID:      entry.ID,
			TS:      entry.TS,
			Type:    entry.Type,
			EventID: entry.EventID,
			BuildID: entry.BuildID,
			Payload: payload,
		})
	}
	return out
}
