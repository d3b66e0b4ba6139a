package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"freshline/internal/db"
	"freshline/internal/domain"
)

const eventColumns = `id,message_id,search_key,event_type_id,released,compose_id,time_created`

func scanEvent(scan func(dest ...any) error) (domain.Event, error) {
	var e domain.Event
	var typeCode int
	var composeID sql.NullInt64
	err := scan(&e.ID, &e.MessageID, &e.SearchKey, &typeCode, &e.Released, &composeID, &e.TimeCreated)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	kind, err := domain.KindOf(typeCode)
	if err != nil {
		return e, err
	}
	e.Kind = kind
	if composeID.Valid {
		e.ComposeID = &composeID.Int64
	}
	return e, nil
}

// InsertEvent creates an event row. A duplicate message_id surfaces as
// ErrConflict so callers can re-fetch (get-or-create).
func (r Repo) InsertEvent(ctx context.Context, tx *sql.Tx, e *domain.Event) error {
	code, err := domain.CodeOf(e.Kind)
	if err != nil {
		return err
	}
	if r.Dialect == db.DialectPostgres {
		err = tx.QueryRowContext(ctx, r.q(`INSERT INTO events(message_id,search_key,event_type_id,released,compose_id,time_created)
VALUES (?,?,?,?,?,?) RETURNING id`),
			e.MessageID, e.SearchKey, code, e.Released, nullableInt64Ptr(e.ComposeID), e.TimeCreated).Scan(&e.ID)
		if isUniqueViolation(err) {
			return fmt.Errorf("event message_id %q: %w", e.MessageID, ErrConflict)
		}
		return err
	}
	res, err := tx.ExecContext(ctx, r.q(`INSERT INTO events(message_id,search_key,event_type_id,released,compose_id,time_created)
VALUES (?,?,?,?,?,?)`),
		e.MessageID, e.SearchKey, code, e.Released, nullableInt64Ptr(e.ComposeID), e.TimeCreated)
	if isUniqueViolation(err) {
		return fmt.Errorf("event message_id %q: %w", e.MessageID, ErrConflict)
	}
	if err != nil {
		return err
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	row := r.DB.QueryRowContext(ctx, r.q(`SELECT `+eventColumns+` FROM events WHERE id=?`), id)
	return scanEvent(row.Scan)
}

func (r Repo) GetEventByMessageID(ctx context.Context, messageID string) (domain.Event, error) {
	row := r.DB.QueryRowContext(ctx, r.q(`SELECT `+eventColumns+` FROM events WHERE message_id=?`), messageID)
	return scanEvent(row.Scan)
}

// EventFilters narrow ListEvents. CursorID pages by descending id.
type EventFilters struct {
	Kind      domain.EventKind
	SearchKey string
	Released  *bool
	Limit     int
	CursorID  int64
}

func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if f.Kind != "" {
		code, err := domain.CodeOf(f.Kind)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, "event_type_id=?")
		args = append(args, code)
	}
	if f.SearchKey != "" {
		clauses = append(clauses, "search_key=?")
		args = append(args, f.SearchKey)
	}
	if f.Released != nil {
		clauses = append(clauses, "released=?")
		args = append(args, *f.Released)
	}
	if f.CursorID > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + eventColumns + ` FROM events ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListUnreleasedEvents returns every event with released=false.
func (r Repo) ListUnreleasedEvents(ctx context.Context) ([]domain.Event, error) {
	released := false
	return r.ListEvents(ctx, EventFilters{Released: &released})
}

// SetEventReleased flips the released flag.
func (r Repo) SetEventReleased(ctx context.Context, tx *sql.Tx, id int64, released bool) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE events SET released=? WHERE id=?`), released, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertEventDependency records that eventID depends on dependsOnID.
// Duplicate edges are ignored via the pair's uniqueness constraint.
func (r Repo) InsertEventDependency(ctx context.Context, eventID, dependsOnID int64) error {
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO event_dependencies(event_id,event_dependency_id) VALUES (?,?)
ON CONFLICT (event_id, event_dependency_id) DO NOTHING`), eventID, dependsOnID)
	return err
}

// ListEventDependencies returns the events eventID depends on.
func (r Repo) ListEventDependencies(ctx context.Context, eventID int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT e.id,e.message_id,e.search_key,e.event_type_id,e.released,e.compose_id,e.time_created
FROM events e JOIN event_dependencies d ON d.event_dependency_id=e.id
WHERE d.event_id=? ORDER BY e.id`), eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AuditAfter returns audit entries with id greater than cursor, ascending.
func (r Repo) AuditAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,ts,type,event_id,build_id,payload_json FROM audit_log
WHERE id>? ORDER BY id ASC LIMIT ?`), cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var a domain.AuditEntry
		var eventID, buildID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.TS, &a.Type, &eventID, &buildID, &a.Payload); err != nil {
			return nil, err
		}
		if eventID.Valid {
			a.EventID = &eventID.Int64
		}
		if buildID.Valid {
			a.BuildID = &buildID.Int64
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// LatestAuditID returns the most recent audit entry id.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_log`).Scan(&id)
	return id, err
}
