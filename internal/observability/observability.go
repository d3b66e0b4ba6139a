// Package observability builds the process logger and the OpenTelemetry
// instruments the engine reports through. Metrics use the global meter
// provider; install one (or a manual reader in tests) before calling
// NewMetrics.
package observability

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// NewLogger returns a slog.Logger writing to stderr at the given level.
// Format is "json" or "text"; anything else falls back to text.
func NewLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Metrics holds the engine's counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	transitions metric.Int64Counter
	cascades    metric.Int64Counter
	events      metric.Int64Counter
}

// NewMetrics registers the freshline instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("freshline")

	transitions, err := meter.Int64Counter("freshline.build.transitions",
		metric.WithDescription("Number of effective build state transitions"),
	)
	if err != nil {
		return nil, err
	}
	cascades, err := meter.Int64Counter("freshline.build.cascades",
		metric.WithDescription("Number of builds transitioned by dependency cascade"),
	)
	if err != nil {
		return nil, err
	}
	events, err := meter.Int64Counter("freshline.events.created",
		metric.WithDescription("Number of rebuild events created"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{transitions: transitions, cascades: cascades, events: events}, nil
}

// RecordTransition counts one effective state change.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordCascade counts one build reached through the dependency cascade.
func (m *Metrics) RecordCascade(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.cascades.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordEventCreated counts one new event row.
func (m *Metrics) RecordEventCreated(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
