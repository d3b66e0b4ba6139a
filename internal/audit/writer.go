// Package audit records lifecycle changes to the audit_log table. Entries
// are written inside the caller's transaction so a state change and its
// trail commit together.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"freshline/internal/db"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type Payload map[string]any

// Append inserts one audit entry. eventID and buildID may be nil when the
// entry concerns only one side.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entryType string, eventID, buildID *int64, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO audit_log(ts,type,event_id,build_id,payload_json) VALUES (?,?,?,?,?)`),
		ts, entryType, nullableID(eventID), nullableID(buildID), string(data))
	return err
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
