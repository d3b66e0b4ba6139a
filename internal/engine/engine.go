// Package engine holds the event aggregate operations and the build state
// transition engine. Transitions are the only writers of state,
// state_reason and time_completed; a FAILED or CANCELED transition
// cascades to every transitive dependent of the build.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"freshline/internal/audit"
	"freshline/internal/config"
	"freshline/internal/db"
	"freshline/internal/domain"
	"freshline/internal/observability"
	"freshline/internal/repo"
)

// DepFailureReason is the state_reason written to every build reached by
// a failure/cancellation cascade.
const DepFailureReason = "Cannot build artifact, because its dependency cannot be built."

// transitionAttempts bounds the optimistic per-row retry on a lost race.
const transitionAttempts = 3

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Audit   audit.Writer
	Config  *config.Config
	Log     *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time

	policy allowPolicy
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Dialect: dialect},
		Audit:  audit.Writer{Dialect: dialect},
		Config: cfg,
		Log:    logger,
		Now:    time.Now,
		policy: compilePolicy(cfg.Allowlist),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// auditWriter stamps the configured writer with the engine clock so audit
// timestamps agree with build and event timestamps.
func (e Engine) auditWriter() audit.Writer {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// EventOptions are parameters for GetOrCreateEvent.
type EventOptions struct {
	MessageID string
	SearchKey string
	Kind      domain.EventKind
	Released  *bool // nil means true
	ComposeID *int64
}

// GetOrCreateEvent returns the event for MessageID, creating it when
// absent. Creation is idempotent: a concurrent creator losing the
// message_id uniqueness race re-fetches the winner's row. The other
// options are ignored when the event already exists. The bool reports
// whether a row was created by this call.
func (e Engine) GetOrCreateEvent(ctx context.Context, opts EventOptions) (domain.Event, bool, error) {
	if opts.MessageID == "" {
		return domain.Event{}, false, errors.New("message_id is required")
	}
	if !opts.Kind.Known() {
		return domain.Event{}, false, &domain.UnknownKindError{Kind: string(opts.Kind)}
	}
	existing, err := e.Repo.GetEventByMessageID(ctx, opts.MessageID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Event{}, false, err
	}

	released := true
	if opts.Released != nil {
		released = *opts.Released
	}
	ev := domain.Event{
		MessageID:   opts.MessageID,
		SearchKey:   opts.SearchKey,
		Kind:        opts.Kind,
		Released:    released,
		ComposeID:   opts.ComposeID,
		TimeCreated: e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, false, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEvent(ctx, tx, &ev); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Another creator won the uniqueness race.
			winner, ferr := e.Repo.GetEventByMessageID(ctx, opts.MessageID)
			if ferr != nil {
				return domain.Event{}, false, ferr
			}
			return winner, false, nil
		}
		return domain.Event{}, false, err
	}
	if err := e.auditWriter().Append(ctx, tx, "event.created", &ev.ID, nil, audit.Payload{
		"message_id": ev.MessageID,
		"kind":       string(ev.Kind),
		"search_key": ev.SearchKey,
	}); err != nil {
		return domain.Event{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, false, err
	}
	e.Metrics.RecordEventCreated(ctx, string(ev.Kind))
	e.Log.Info("event created",
		slog.Int64("event_id", ev.ID),
		slog.String("message_id", ev.MessageID),
		slog.String("kind", string(ev.Kind)))
	return ev, true, nil
}

// ListUnreleasedEvents returns every event still awaiting rebuild
// consideration (released=false).
func (e Engine) ListUnreleasedEvents(ctx context.Context) ([]domain.Event, error) {
	return e.Repo.ListUnreleasedEvents(ctx)
}

// SetEventReleased flips the released flag and records the change.
func (e Engine) SetEventReleased(ctx context.Context, eventID int64, released bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetEventReleased(ctx, tx, eventID, released); err != nil {
		return err
	}
	if err := e.auditWriter().Append(ctx, tx, "event.released", &eventID, nil, audit.Payload{"released": released}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddEventDependency records that the event was caused by dependsOn.
// Duplicate edges are a no-op. Edges are provenance only; no cycle check
// is made here.
func (e Engine) AddEventDependency(ctx context.Context, eventID, dependsOnID int64) error {
	if _, err := e.Repo.GetEvent(ctx, eventID); err != nil {
		return fmt.Errorf("event %d: %w", eventID, err)
	}
	if _, err := e.Repo.GetEvent(ctx, dependsOnID); err != nil {
		return fmt.Errorf("event %d: %w", dependsOnID, err)
	}
	return e.Repo.InsertEventDependency(ctx, eventID, dependsOnID)
}

// EventDependencies returns the events eventID depends on.
func (e Engine) EventDependencies(ctx context.Context, eventID int64) ([]domain.Event, error) {
	if _, err := e.Repo.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return e.Repo.ListEventDependencies(ctx, eventID)
}

// AllBuildsInState reports whether every build of the event holds exactly
// state. An event with no builds is vacuously true.
func (e Engine) AllBuildsInState(ctx context.Context, eventID int64, state domain.BuildState) (bool, error) {
	if !state.Known() {
		return false, &domain.ValueError{Field: "state", Value: state, Valid: domain.BuildStateNames()}
	}
	matching, total, err := e.Repo.CountBuildsInState(ctx, eventID, state)
	if err != nil {
		return false, err
	}
	return matching == total, nil
}

// TransitionEventBuilds applies Transition to every build of the event.
// Each build commits independently; the first error stops the sweep and
// leaves earlier transitions in place, which is safe because Transition
// is idempotent and retryable.
func (e Engine) TransitionEventBuilds(ctx context.Context, eventID int64, state domain.BuildState, reason string) error {
	builds, err := e.Repo.ListEventBuilds(ctx, eventID)
	if err != nil {
		return err
	}
	for _, b := range builds {
		if _, err := e.Transition(ctx, b.ID, state, reason); err != nil {
			return fmt.Errorf("transition build %d: %w", b.ID, err)
		}
	}
	return nil
}

// BuildCreateOptions are parameters for CreateBuild.
type BuildCreateOptions struct {
	EventID     int64
	Name        string
	Type        domain.ArtifactType
	State       *domain.BuildState // nil means BUILD
	OriginalNVR *string
	DepOnID     *int64
	BuildID     *int64
	BuildArgs   *string
}

// CreateBuild creates one rebuild task under an existing event. dep_on
// must reference an existing build, which makes the stored forest acyclic
// by construction: a build can only point at rows that already exist.
func (e Engine) CreateBuild(ctx context.Context, opts BuildCreateOptions) (domain.ArtifactBuild, error) {
	if opts.Name == "" {
		return domain.ArtifactBuild{}, errors.New("name is required")
	}
	if !opts.Type.Known() {
		return domain.ArtifactBuild{}, &domain.ValueError{Field: "type", Value: opts.Type, Valid: domain.ArtifactTypeNames()}
	}
	state := domain.StateBuild
	if opts.State != nil {
		if !opts.State.Known() {
			return domain.ArtifactBuild{}, &domain.ValueError{Field: "state", Value: *opts.State, Valid: domain.BuildStateNames()}
		}
		state = *opts.State
	}
	ev, err := e.Repo.GetEvent(ctx, opts.EventID)
	if err != nil {
		return domain.ArtifactBuild{}, fmt.Errorf("event %d: %w", opts.EventID, err)
	}
	if opts.DepOnID != nil {
		if _, err := e.Repo.GetBuild(ctx, *opts.DepOnID); err != nil {
			return domain.ArtifactBuild{}, fmt.Errorf("dep_on build %d: %w", *opts.DepOnID, err)
		}
	}
	if err := e.policy.check(ev.Kind, opts.Type, opts.Name); err != nil {
		return domain.ArtifactBuild{}, err
	}

	b := domain.ArtifactBuild{
		Name:          opts.Name,
		OriginalNVR:   opts.OriginalNVR,
		Type:          opts.Type,
		State:         state,
		TimeSubmitted: e.timestamp(),
		EventID:       opts.EventID,
		DepOnID:       opts.DepOnID,
		BuildID:       opts.BuildID,
		BuildArgs:     opts.BuildArgs,
	}
	if state.Terminal() {
		ts := e.timestamp()
		b.TimeCompleted = &ts
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ArtifactBuild{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBuild(ctx, tx, &b); err != nil {
		return domain.ArtifactBuild{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "build.created", &b.EventID, &b.ID, audit.Payload{
		"name":  b.Name,
		"type":  b.Type.String(),
		"state": b.State.String(),
	}); err != nil {
		return domain.ArtifactBuild{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ArtifactBuild{}, err
	}
	return b, nil
}

// MarkBuildSubmitted records the external build-system id once the build
// has been handed to the external builder.
func (e Engine) MarkBuildSubmitted(ctx context.Context, buildID, externalID int64) (domain.ArtifactBuild, error) {
	b, err := e.Repo.GetBuild(ctx, buildID)
	if err != nil {
		return b, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetBuildExternalID(ctx, tx, buildID, externalID); err != nil {
		return b, err
	}
	if err := e.auditWriter().Append(ctx, tx, "build.submitted", &b.EventID, &b.ID, audit.Payload{"build_id": externalID}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	b.BuildID = &externalID
	return b, nil
}

// SetRebuiltNVR records the NVR of the rebuilt artifact.
func (e Engine) SetRebuiltNVR(ctx context.Context, buildID int64, nvr string) (domain.ArtifactBuild, error) {
	b, err := e.Repo.GetBuild(ctx, buildID)
	if err != nil {
		return b, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetBuildRebuiltNVR(ctx, tx, buildID, nvr); err != nil {
		return b, err
	}
	if err := e.auditWriter().Append(ctx, tx, "build.rebuilt_nvr", &b.EventID, &b.ID, audit.Payload{"rebuilt_nvr": nvr}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	b.RebuiltNVR = &nvr
	return b, nil
}

// FindBuildByExternalID resolves a build-system notification to a build.
func (e Engine) FindBuildByExternalID(ctx context.Context, typ domain.ArtifactType, externalID int64) (domain.ArtifactBuild, error) {
	if !typ.Known() {
		return domain.ArtifactBuild{}, &domain.ValueError{Field: "type", Value: typ, Valid: domain.ArtifactTypeNames()}
	}
	return e.Repo.FindBuildByExternalID(ctx, typ, externalID)
}

// Transition moves the build to newState and, for FAILED or CANCELED,
// cascades the state to every transitive dependent breadth-first. A build
// already in newState is left untouched (no reason/timestamp update, no
// log, no cascade below it). Each reached build commits independently, so
// a crash mid-cascade leaves a partially-cascaded but individually
// consistent graph that a retry completes. A revisited build id means the
// stored forest is cyclic and surfaces as CycleError.
func (e Engine) Transition(ctx context.Context, buildID int64, newState domain.BuildState, reason string) (domain.ArtifactBuild, error) {
	if !newState.Known() {
		return domain.ArtifactBuild{}, &domain.ValueError{Field: "state", Value: newState, Valid: domain.BuildStateNames()}
	}
	first, changed, err := e.transitionOne(ctx, buildID, newState, reason)
	if err != nil {
		return first, err
	}
	if !changed || (newState != domain.StateFailed && newState != domain.StateCanceled) {
		return first, nil
	}

	visited := map[int64]struct{}{buildID: {}}
	queue := []int64{buildID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		children, err := e.Repo.ListDependents(ctx, id)
		if err != nil {
			return first, err
		}
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				return first, &domain.CycleError{BuildID: child.ID}
			}
			visited[child.ID] = struct{}{}
			_, childChanged, err := e.transitionOne(ctx, child.ID, newState, DepFailureReason)
			if err != nil {
				return first, err
			}
			// A child already in the target state keeps its subtree:
			// the earlier cascade that put it there covered the rest.
			if childChanged {
				e.Metrics.RecordCascade(ctx, newState.String())
				queue = append(queue, child.ID)
			}
		}
	}
	return first, nil
}

// transitionOne applies the single-build transition with an optimistic
// per-row guard. The bool reports whether the row actually changed.
func (e Engine) transitionOne(ctx context.Context, buildID int64, newState domain.BuildState, reason string) (domain.ArtifactBuild, bool, error) {
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		b, err := e.Repo.GetBuild(ctx, buildID)
		if err != nil {
			return b, false, err
		}
		if b.State == newState {
			return b, false, nil
		}
		var completedAt *string
		if newState.Terminal() && b.TimeCompleted == nil {
			ts := e.timestamp()
			completedAt = &ts
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return b, false, err
		}
		n, err := e.Repo.UpdateBuildState(ctx, tx, buildID, b.State, newState, reason, completedAt)
		if err != nil {
			tx.Rollback()
			return b, false, err
		}
		if n == 0 {
			// Lost the race against a concurrent transition; re-read.
			tx.Rollback()
			continue
		}
		if err := e.auditWriter().Append(ctx, tx, "build.state.changed", &b.EventID, &b.ID, audit.Payload{
			"name":   b.Name,
			"from":   b.State.String(),
			"to":     newState.String(),
			"reason": reason,
		}); err != nil {
			tx.Rollback()
			return b, false, err
		}
		if err := tx.Commit(); err != nil {
			return b, false, err
		}

		b.State = newState
		b.StateReason = reason
		if completedAt != nil {
			b.TimeCompleted = completedAt
		}
		attrs := []any{
			slog.Int64("build_id", b.ID),
			slog.String("name", b.Name),
			slog.String("state", newState.String()),
			slog.String("reason", reason),
		}
		if newState == domain.StateFailed {
			e.Log.Error("build state changed", attrs...)
		} else {
			e.Log.Info("build state changed", attrs...)
		}
		e.Metrics.RecordTransition(ctx, newState.String())
		return b, true, nil
	}
	return domain.ArtifactBuild{}, false, fmt.Errorf("transition build %d: too many concurrent updates: %w", buildID, repo.ErrConflict)
}

// Dependents returns every build whose dep_on is buildID.
func (e Engine) Dependents(ctx context.Context, buildID int64) ([]domain.ArtifactBuild, error) {
	if _, err := e.Repo.GetBuild(ctx, buildID); err != nil {
		return nil, err
	}
	return e.Repo.ListDependents(ctx, buildID)
}

// RootDependency walks dep_on links to the top of the build's chain. It
// returns nil when the build itself has no parent. A revisited id
// surfaces as CycleError instead of walking forever.
func (e Engine) RootDependency(ctx context.Context, buildID int64) (*domain.ArtifactBuild, error) {
	b, err := e.Repo.GetBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if b.DepOnID == nil {
		return nil, nil
	}
	visited := map[int64]struct{}{b.ID: {}}
	cur := b
	for cur.DepOnID != nil {
		parentID := *cur.DepOnID
		if _, seen := visited[parentID]; seen {
			return nil, &domain.CycleError{BuildID: parentID}
		}
		visited[parentID] = struct{}{}
		parent, err := e.Repo.GetBuild(ctx, parentID)
		if err != nil {
			return nil, err
		}
		cur = parent
	}
	return &cur, nil
}

// RootBuilds returns the event's builds with no dep_on parent, the first
// batch handed to the external builder.
func (e Engine) RootBuilds(ctx context.Context, eventID int64) ([]domain.ArtifactBuild, error) {
	if _, err := e.Repo.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return e.Repo.ListRootBuilds(ctx, eventID)
}
