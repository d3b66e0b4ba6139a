package domain

type Event struct {
	ID          int64     `json:"id"`
	MessageID   string    `json:"message_id"`
	SearchKey   string    `json:"search_key"`
	Kind        EventKind `json:"event_type"`
	Released    bool      `json:"released"`
	ComposeID   *int64    `json:"compose_id,omitempty"`
	TimeCreated string    `json:"time_created" format:"date-time"`
}

type EventDependency struct {
	ID          int64 `json:"id"`
	EventID     int64 `json:"event_id"`
	DependsOnID int64 `json:"depends_on_id"`
}

type ArtifactBuild struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	OriginalNVR   *string      `json:"original_nvr,omitempty"`
	RebuiltNVR    *string      `json:"rebuilt_nvr,omitempty"`
	Type          ArtifactType `json:"type"`
	State         BuildState   `json:"state"`
	StateReason   string       `json:"state_reason,omitempty"`
	TimeSubmitted string       `json:"time_submitted" format:"date-time"`
	TimeCompleted *string      `json:"time_completed,omitempty" format:"date-time"`
	EventID       int64        `json:"event_id"`
	DepOnID       *int64       `json:"dep_on_id,omitempty"`
	BuildID       *int64       `json:"build_id,omitempty"`
	BuildArgs     *string      `json:"build_args,omitempty"`
}

type AuditEntry struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	EventID *int64 `json:"event_id,omitempty"`
	BuildID *int64 `json:"build_id,omitempty"`
	Payload string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
