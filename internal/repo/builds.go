package repo

import (
	"context"
	"database/sql"
	"strings"

	"freshline/internal/db"
	"freshline/internal/domain"
)

const buildColumns = `id,name,original_nvr,rebuilt_nvr,type,state,state_reason,time_submitted,time_completed,event_id,dep_on_id,build_id,build_args`

func scanBuild(scan func(dest ...any) error) (domain.ArtifactBuild, error) {
	var b domain.ArtifactBuild
	var originalNVR, rebuiltNVR, stateReason, timeCompleted, buildArgs sql.NullString
	var depOnID, buildID sql.NullInt64
	err := scan(&b.ID, &b.Name, &originalNVR, &rebuiltNVR, &b.Type, &b.State, &stateReason,
		&b.TimeSubmitted, &timeCompleted, &b.EventID, &depOnID, &buildID, &buildArgs)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if originalNVR.Valid {
		b.OriginalNVR = &originalNVR.String
	}
	if rebuiltNVR.Valid {
		b.RebuiltNVR = &rebuiltNVR.String
	}
	if stateReason.Valid {
		b.StateReason = stateReason.String
	}
	if timeCompleted.Valid {
		b.TimeCompleted = &timeCompleted.String
	}
	if depOnID.Valid {
		b.DepOnID = &depOnID.Int64
	}
	if buildID.Valid {
		b.BuildID = &buildID.Int64
	}
	if buildArgs.Valid {
		b.BuildArgs = &buildArgs.String
	}
	return b, nil
}

func (r Repo) InsertBuild(ctx context.Context, tx *sql.Tx, b *domain.ArtifactBuild) error {
	args := []any{
		b.Name, nullableStringPtr(b.OriginalNVR), nullableStringPtr(b.RebuiltNVR),
		int(b.Type), int(b.State), nullable(b.StateReason), b.TimeSubmitted,
		nullableStringPtr(b.TimeCompleted), b.EventID, nullableInt64Ptr(b.DepOnID),
		nullableInt64Ptr(b.BuildID), nullableStringPtr(b.BuildArgs),
	}
	const insert = `INSERT INTO artifact_builds(name,original_nvr,rebuilt_nvr,type,state,state_reason,time_submitted,time_completed,event_id,dep_on_id,build_id,build_args)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`
	if r.Dialect == db.DialectPostgres {
		return tx.QueryRowContext(ctx, r.q(insert+` RETURNING id`), args...).Scan(&b.ID)
	}
	res, err := tx.ExecContext(ctx, r.q(insert), args...)
	if err != nil {
		return err
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (r Repo) GetBuild(ctx context.Context, id int64) (domain.ArtifactBuild, error) {
	row := r.DB.QueryRowContext(ctx, r.q(`SELECT `+buildColumns+` FROM artifact_builds WHERE id=?`), id)
	return scanBuild(row.Scan)
}

// BuildFilters narrow ListBuilds. CursorID pages by descending id.
type BuildFilters struct {
	EventID  int64
	State    *domain.BuildState
	Type     *domain.ArtifactType
	Name     string
	Limit    int
	CursorID int64
}

func (r Repo) ListBuilds(ctx context.Context, f BuildFilters) ([]domain.ArtifactBuild, error) {
	var clauses []string
	var args []any
	if f.EventID > 0 {
		clauses = append(clauses, "event_id=?")
		args = append(args, f.EventID)
	}
	if f.State != nil {
		clauses = append(clauses, "state=?")
		args = append(args, int(*f.State))
	}
	if f.Type != nil {
		clauses = append(clauses, "type=?")
		args = append(args, int(*f.Type))
	}
	if f.Name != "" {
		clauses = append(clauses, "name=?")
		args = append(args, f.Name)
	}
	if f.CursorID > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + buildColumns + ` FROM artifact_builds ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryBuilds(ctx, query, args...)
}

// ListEventBuilds returns every build owned by the event, oldest first.
func (r Repo) ListEventBuilds(ctx context.Context, eventID int64) ([]domain.ArtifactBuild, error) {
	return r.queryBuilds(ctx, `SELECT `+buildColumns+` FROM artifact_builds WHERE event_id=? ORDER BY id`, eventID)
}

// ListDependents returns every build whose dep_on points at buildID.
func (r Repo) ListDependents(ctx context.Context, buildID int64) ([]domain.ArtifactBuild, error) {
	return r.queryBuilds(ctx, `SELECT `+buildColumns+` FROM artifact_builds WHERE dep_on_id=? ORDER BY id`, buildID)
}

// ListRootBuilds returns the event's builds with no dep_on parent.
func (r Repo) ListRootBuilds(ctx context.Context, eventID int64) ([]domain.ArtifactBuild, error) {
	return r.queryBuilds(ctx, `SELECT `+buildColumns+` FROM artifact_builds WHERE event_id=? AND dep_on_id IS NULL ORDER BY id`, eventID)
}

// FindBuildByExternalID resolves a build-system notification to a build
// row via (type, external build id).
func (r Repo) FindBuildByExternalID(ctx context.Context, typ domain.ArtifactType, externalID int64) (domain.ArtifactBuild, error) {
	row := r.DB.QueryRowContext(ctx, r.q(`SELECT `+buildColumns+` FROM artifact_builds WHERE type=? AND build_id=? ORDER BY id DESC LIMIT 1`),
		int(typ), externalID)
	return scanBuild(row.Scan)
}

// CountBuildsInState counts the event's builds currently holding state.
func (r Repo) CountBuildsInState(ctx context.Context, eventID int64, state domain.BuildState) (int, int, error) {
	var matching, total int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(CASE WHEN state=? THEN 1 END), COUNT(*) FROM artifact_builds WHERE event_id=?`),
		int(state), eventID).Scan(&matching, &total)
	return matching, total, err
}

// UpdateBuildState applies a guarded state update: the write lands only if
// the row still holds fromState. Returns the number of rows changed so the
// caller can detect a lost race. time_completed is set only when not
// already present.
func (r Repo) UpdateBuildState(ctx context.Context, tx *sql.Tx, id int64, fromState, toState domain.BuildState, reason string, completedAt *string) (int64, error) {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE artifact_builds
SET state=?, state_reason=?, time_completed=COALESCE(time_completed, ?)
WHERE id=? AND state=?`),
		int(toState), reason, nullableStringPtr(completedAt), id, int(fromState))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetBuildExternalID records the external build-system id after submission.
func (r Repo) SetBuildExternalID(ctx context.Context, tx *sql.Tx, id, externalID int64) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE artifact_builds SET build_id=? WHERE id=?`), externalID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBuildRebuiltNVR records the post-rebuild NVR.
func (r Repo) SetBuildRebuiltNVR(ctx context.Context, tx *sql.Tx, id int64, nvr string) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE artifact_builds SET rebuilt_nvr=? WHERE id=?`), nvr, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) queryBuilds(ctx context.Context, query string, args ...any) ([]domain.ArtifactBuild, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ArtifactBuild
	for rows.Next() {
		b, err := scanBuild(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
