// Package consumer turns external notifications into engine calls. A
// Source delivers notifications; the consumer loop dispatches each one,
// logs and drops the malformed ones, and keeps going.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"freshline/internal/domain"
	"freshline/internal/engine"
	"freshline/internal/repo"
)

// Notification is one message from the outside world: either a trigger
// that may create an event, or a progress update for a build already
// handed to the external build system.
type Notification struct {
	Trigger     *Trigger     `json:"trigger,omitempty"`
	BuildUpdate *BuildUpdate `json:"build_update,omitempty"`
}

// Trigger announces an external change worth considering for rebuilds.
type Trigger struct {
	MessageID string           `json:"message_id"`
	Kind      domain.EventKind `json:"kind"`
	SearchKey string           `json:"search_key"`
	Released  *bool            `json:"released,omitempty"`
	ComposeID *int64           `json:"compose_id,omitempty"`
}

// BuildUpdate reports the state of an external build, addressed by the
// build system's own id.
type BuildUpdate struct {
	Type       domain.ArtifactType `json:"type"`
	ExternalID int64               `json:"build_id"`
	State      domain.BuildState   `json:"state"`
	Reason     string              `json:"reason"`
}

// Source hands out notifications until the context ends. Receive blocks;
// it returns the context error on shutdown.
type Source interface {
	Receive(ctx context.Context) (Notification, error)
}

// ChannelSource adapts a Go channel to Source, mostly for embedding the
// consumer in-process and for tests.
type ChannelSource struct {
	C chan Notification
}

func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{C: make(chan Notification, buffer)}
}

func (s *ChannelSource) Receive(ctx context.Context) (Notification, error) {
	select {
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	case n, ok := <-s.C:
		if !ok {
			return Notification{}, context.Canceled
		}
		return n, nil
	}
}

type Consumer struct {
	Engine engine.Engine
	Source Source
	Log    *slog.Logger
}

func New(eng engine.Engine, src Source, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{Engine: eng, Source: src, Log: logger}
}

// Run consumes until the context is canceled. A notification that fails
// to dispatch is logged and dropped; only source and context errors stop
// the loop.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		n, err := c.Source.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := c.Dispatch(ctx, n); err != nil {
			c.Log.Error("notification dropped", slog.String("error", err.Error()))
		}
	}
}

// Dispatch handles one notification synchronously.
func (c *Consumer) Dispatch(ctx context.Context, n Notification) error {
	switch {
	case n.Trigger != nil:
		return c.handleTrigger(ctx, *n.Trigger)
	case n.BuildUpdate != nil:
		return c.handleBuildUpdate(ctx, *n.BuildUpdate)
	default:
		return errors.New("notification carries neither trigger nor build_update")
	}
}

func (c *Consumer) handleTrigger(ctx context.Context, tr Trigger) error {
	ev, created, err := c.Engine.GetOrCreateEvent(ctx, engine.EventOptions{
		MessageID: tr.MessageID,
		SearchKey: tr.SearchKey,
		Kind:      tr.Kind,
		Released:  tr.Released,
		ComposeID: tr.ComposeID,
	})
	if err != nil {
		return fmt.Errorf("trigger %q: %w", tr.MessageID, err)
	}
	if !created {
		c.Log.Debug("trigger already known",
			slog.String("message_id", tr.MessageID),
			slog.Int64("event_id", ev.ID))
	}
	return nil
}

func (c *Consumer) handleBuildUpdate(ctx context.Context, up BuildUpdate) error {
	build, err := c.Engine.FindBuildByExternalID(ctx, up.Type, up.ExternalID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Not one of ours; the build system emits updates for
			// everything it runs.
			c.Log.Debug("build update for unknown build",
				slog.Int64("external_id", up.ExternalID),
				slog.String("type", up.Type.String()))
			return nil
		}
		return fmt.Errorf("build update %d: %w", up.ExternalID, err)
	}
	if _, err := c.Engine.Transition(ctx, build.ID, up.State, up.Reason); err != nil {
		return fmt.Errorf("build update %d: %w", up.ExternalID, err)
	}
	return c.maybeCompleteEvent(ctx, build.EventID)
}

// maybeCompleteEvent marks the event released once no build is still
// running. Re-marking a released event is a cheap no-op write.
func (c *Consumer) maybeCompleteEvent(ctx context.Context, eventID int64) error {
	matching, total, err := c.Engine.Repo.CountBuildsInState(ctx, eventID, domain.StateBuild)
	if err != nil {
		return err
	}
	if matching != 0 || total == 0 {
		return nil
	}
	ev, err := c.Engine.Repo.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.Released {
		return nil
	}
	c.Log.Info("event complete", slog.Int64("event_id", eventID))
	return c.Engine.SetEventReleased(ctx, eventID, true)
}
