// Package freshlinesdk is a minimal Freshline HTTP API client.
package freshlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Freshline API server.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Event represents the API event model.
type Event struct {
	ID          int64  `json:"id"`
	MessageID   string `json:"message_id"`
	SearchKey   string `json:"search_key"`
	Kind        int    `json:"event_type"`
	KindName    string `json:"event_type_name"`
	Released    bool   `json:"released"`
	TimeCreated string `json:"time_created"`
	URL         string `json:"url"`
	Created     *bool  `json:"created,omitempty"`
}

// Build represents the API artifact build model.
type Build struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	OriginalNVR   *string `json:"original_nvr,omitempty"`
	RebuiltNVR    *string `json:"rebuilt_nvr,omitempty"`
	Type          int     `json:"type"`
	TypeName      string  `json:"type_name"`
	State         int     `json:"state"`
	StateName     string  `json:"state_name"`
	StateReason   string  `json:"state_reason,omitempty"`
	TimeSubmitted string  `json:"time_submitted"`
	TimeCompleted *string `json:"time_completed,omitempty"`
	EventID       int64   `json:"event_id"`
	DepOnID       *int64  `json:"dep_on_id,omitempty"`
	DepOn         *string `json:"dep_on,omitempty"`
	BuildID       *int64  `json:"build_id,omitempty"`
	URL           string  `json:"url"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// PaginatedBuilds wraps build listings with a cursor.
type PaginatedBuilds struct {
	Items      []Build `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// CreateEvent gets or creates an event by message id. Kind accepts a kind
// name or numeric code.
func (c *Client) CreateEvent(ctx context.Context, messageID, searchKey string, kind any) (Event, error) {
	body := map[string]any{
		"message_id": messageID,
		"search_key": searchKey,
		"kind":       kind,
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, "events", body, &resp)
	return resp, err
}

// GetEvent fetches an event by id.
func (c *Client) GetEvent(ctx context.Context, id int64) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("events/%d", id), nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor int64) (PaginatedEvents, error) {
	endpoint := "events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if cursor > 0 {
		params.Set("cursor", fmt.Sprint(cursor))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateBuild creates an artifact build under an event. Type accepts a
// type name or numeric code; depOnID of 0 means no dependency.
func (c *Client) CreateBuild(ctx context.Context, eventID int64, name string, artifactType any, depOnID int64) (Build, error) {
	body := map[string]any{
		"event_id": eventID,
		"name":     name,
		"type":     artifactType,
	}
	if depOnID > 0 {
		body["dep_on_id"] = depOnID
	}
	var resp Build
	err := c.do(ctx, http.MethodPost, "builds", body, &resp)
	return resp, err
}

// GetBuild fetches a build by id.
func (c *Client) GetBuild(ctx context.Context, id int64) (Build, error) {
	var resp Build
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("builds/%d", id), nil, &resp)
	return resp, err
}

// TransitionBuild moves a build to a new state. Failures and
// cancellations cascade to the build's dependents server-side.
func (c *Client) TransitionBuild(ctx context.Context, id int64, state any, reason string) (Build, error) {
	body := map[string]any{
		"state":  state,
		"reason": reason,
	}
	var resp Build
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("builds/%d/state", id), body, &resp)
	return resp, err
}

// SetBuildID records the external build-system id.
func (c *Client) SetBuildID(ctx context.Context, id, externalID int64) (Build, error) {
	body := map[string]any{"build_id": externalID}
	var resp Build
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("builds/%d", id), body, &resp)
	return resp, err
}

// SetRebuiltNVR records the NVR produced by the rebuild.
func (c *Client) SetRebuiltNVR(ctx context.Context, id int64, nvr string) (Build, error) {
	body := map[string]any{"rebuilt_nvr": nvr}
	var resp Build
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("builds/%d", id), body, &resp)
	return resp, err
}

// Dependents returns the builds depending on the given build.
func (c *Client) Dependents(ctx context.Context, id int64) ([]Build, error) {
	var resp []Build
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("builds/%d/dependents", id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
