package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"freshline/internal/db"
	"freshline/internal/domain"
	"freshline/internal/migrate"
	"freshline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn, Dialect: dialect}
}

func inTx(t *testing.T, r repo.Repo, fn func(*sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func insertEvent(t *testing.T, r repo.Repo, messageID, searchKey string, kind domain.EventKind, released bool) domain.Event {
	t.Helper()
	ev := domain.Event{
		MessageID:   messageID,
		SearchKey:   searchKey,
		Kind:        kind,
		Released:    released,
		TimeCreated: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertEvent(context.Background(), tx, &ev) })
	return ev
}

func insertBuild(t *testing.T, r repo.Repo, eventID int64, name string, typ domain.ArtifactType, state domain.BuildState) domain.ArtifactBuild {
	t.Helper()
	b := domain.ArtifactBuild{
		Name:          name,
		Type:          typ,
		State:         state,
		EventID:       eventID,
		TimeSubmitted: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertBuild(context.Background(), tx, &b) })
	return b
}

func TestInsertEventConflictOnMessageID(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	insertEvent(t, r, "msg-1", "key", domain.KindTesting, false)

	dup := domain.Event{
		MessageID:   "msg-1",
		SearchKey:   "other",
		Kind:        domain.KindTesting,
		TimeCreated: time.Now().UTC().Format(time.RFC3339),
	}
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.InsertEvent(ctx, tx, &dup); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("duplicate message_id: got %v, want ErrConflict", err)
	}
}

func TestListEventsFiltersAndPagination(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		kind := domain.KindTesting
		if i%2 == 1 {
			kind = domain.KindSignEvent
		}
		insertEvent(t, r, fmt.Sprintf("msg-%d", i), "RHSA-2026:1", kind, i == 4)
	}

	events, err := r.ListEvents(ctx, repo.EventFilters{Kind: domain.KindSignEvent})
	if err != nil {
		t.Fatalf("list by kind: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("kind filter returned %d events, want 2", len(events))
	}

	released := false
	events, err = r.ListEvents(ctx, repo.EventFilters{Released: &released})
	if err != nil {
		t.Fatalf("list by released: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("released filter returned %d events, want 4", len(events))
	}

	// Descending id pages: first page of 2, then cursor below its last id.
	page, err := r.ListEvents(ctx, repo.EventFilters{Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page) != 2 || page[0].ID < page[1].ID {
		t.Fatalf("first page not id-descending: %+v", page)
	}
	next, err := r.ListEvents(ctx, repo.EventFilters{Limit: 2, CursorID: page[1].ID})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(next) != 2 || next[0].ID >= page[1].ID {
		t.Fatalf("second page did not advance past cursor: %+v", next)
	}

	if _, err := r.ListEvents(ctx, repo.EventFilters{Kind: "no-such-kind"}); err == nil {
		t.Fatal("unknown kind filter should fail")
	}
}

func TestEventDependencyInsertIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	a := insertEvent(t, r, "dep-a", "k", domain.KindTesting, false)
	b := insertEvent(t, r, "dep-b", "k", domain.KindTesting, false)

	for i := 0; i < 2; i++ {
		if err := r.InsertEventDependency(ctx, a.ID, b.ID); err != nil {
			t.Fatalf("insert dependency (attempt %d): %v", i+1, err)
		}
	}
	deps, err := r.ListEventDependencies(ctx, a.ID)
	if err != nil {
		t.Fatalf("list dependencies: %v", err)
	}
	if len(deps) != 1 || deps[0].ID != b.ID {
		t.Fatalf("dependencies = %+v, want exactly one edge to %d", deps, b.ID)
	}
}

func TestListBuildsFilters(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	ev := insertEvent(t, r, "builds", "k", domain.KindTesting, false)
	other := insertEvent(t, r, "other", "k", domain.KindTesting, false)

	insertBuild(t, r, ev.ID, "glibc", domain.TypeRPM, domain.StateBuild)
	insertBuild(t, r, ev.ID, "httpd", domain.TypeRPM, domain.StateDone)
	insertBuild(t, r, ev.ID, "httpd-container", domain.TypeImage, domain.StateBuild)
	insertBuild(t, r, other.ID, "glibc", domain.TypeRPM, domain.StateBuild)

	builds, err := r.ListBuilds(ctx, repo.BuildFilters{EventID: ev.ID})
	if err != nil {
		t.Fatalf("list by event: %v", err)
	}
	if len(builds) != 3 {
		t.Fatalf("event filter returned %d builds, want 3", len(builds))
	}

	st := domain.StateBuild
	ty := domain.TypeRPM
	builds, err = r.ListBuilds(ctx, repo.BuildFilters{EventID: ev.ID, State: &st, Type: &ty})
	if err != nil {
		t.Fatalf("list by state+type: %v", err)
	}
	if len(builds) != 1 || builds[0].Name != "glibc" {
		t.Fatalf("state+type filter = %+v, want only glibc", builds)
	}

	builds, err = r.ListBuilds(ctx, repo.BuildFilters{Name: "glibc"})
	if err != nil {
		t.Fatalf("list by name: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("name filter returned %d builds, want 2 (both events)", len(builds))
	}
}

func TestUpdateBuildStateGuard(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	ev := insertEvent(t, r, "guard", "k", domain.KindTesting, false)
	b := insertBuild(t, r, ev.ID, "glibc", domain.TypeRPM, domain.StateBuild)

	completed := time.Now().UTC().Format(time.RFC3339)
	inTx(t, r, func(tx *sql.Tx) error {
		n, err := r.UpdateBuildState(ctx, tx, b.ID, domain.StateBuild, domain.StateDone, "built", &completed)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("matching guard affected %d rows, want 1", n)
		}
		return nil
	})

	// Stale from-state must not match.
	inTx(t, r, func(tx *sql.Tx) error {
		n, err := r.UpdateBuildState(ctx, tx, b.ID, domain.StateBuild, domain.StateFailed, "late", nil)
		if err != nil {
			return err
		}
		if n != 0 {
			return fmt.Errorf("stale guard affected %d rows, want 0", n)
		}
		return nil
	})

	got, err := r.GetBuild(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.StateDone || got.StateReason != "built" {
		t.Fatalf("build = %+v, want DONE/built", got)
	}
	if got.TimeCompleted == nil || *got.TimeCompleted != completed {
		t.Fatalf("time_completed = %v, want %s", got.TimeCompleted, completed)
	}
}

func TestCountBuildsInState(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	ev := insertEvent(t, r, "count", "k", domain.KindTesting, false)
	insertBuild(t, r, ev.ID, "a", domain.TypeRPM, domain.StateDone)
	insertBuild(t, r, ev.ID, "b", domain.TypeRPM, domain.StateDone)
	insertBuild(t, r, ev.ID, "c", domain.TypeRPM, domain.StateBuild)

	matching, total, err := r.CountBuildsInState(ctx, ev.ID, domain.StateDone)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if matching != 2 || total != 3 {
		t.Fatalf("count = %d/%d, want 2/3", matching, total)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	hash := repo.HashAPIKey("flk_secret")
	key := domain.APIKey{ID: "key-1", Name: "ci", KeyHash: hash}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatalf("insert key: %v", err)
	}

	got, err := r.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.ID != "key-1" || got.Name != "ci" {
		t.Fatalf("key = %+v", got)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown hash: got %v, want ErrNotFound", err)
	}

	keys, err := r.ListAPIKeys(ctx)
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys = %v, %v", keys, err)
	}

	if err := r.DeleteAPIKey(ctx, "key-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "key-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestAuditCursor(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	latest, err := r.LatestAuditID(ctx)
	if err != nil {
		t.Fatalf("latest on empty trail: %v", err)
	}
	if latest != 0 {
		t.Fatalf("latest = %d, want 0", latest)
	}
	entries, err := r.AuditAfter(ctx, 10, 0)
	if err != nil {
		t.Fatalf("audit after: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("empty trail returned %d entries", len(entries))
	}
}
