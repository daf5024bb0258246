package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/openkcm/pkce-session-manager/internal/session"

type meters struct {
	callbacks metric.Int64Counter
	refreshes metric.Int64Counter
}

func newMeters() (*meters, error) {
	meter := otel.Meter(instrumentationName, metric.WithInstrumentationVersion(otel.Version()))

	callbacks, err := meter.Int64Counter(
		"session.callback.outcomes",
		metric.WithDescription("Authorization callbacks by outcome"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating callback counter: %w", err)
	}

	refreshes, err := meter.Int64Counter(
		"session.refresh.outcomes",
		metric.WithDescription("Token refreshes by outcome"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating refresh counter: %w", err)
	}

	return &meters{callbacks: callbacks, refreshes: refreshes}, nil
}

func (m *meters) callback(ctx context.Context, scope Scope, o CallbackOutcome) {
	if m == nil {
		return
	}

	m.callbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", scope.Tenant),
		attribute.String("outcome", o.String()),
	))
}

func (m *meters) refresh(ctx context.Context, scope Scope, o RefreshOutcome) {
	if m == nil {
		return
	}

	m.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", scope.Tenant),
		attribute.String("outcome", o.String()),
	))
}
