package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the agent's registration instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registrationAttempts metric.Int64Counter
	tagMutationsSent     metric.Int64Counter
	namedUserUpdates     metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	registrationAttempts, err := meter.Int64Counter(
		"registration.attempts",
		metric.WithDescription("Channel create and update attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	tagMutationsSent, err := meter.Int64Counter(
		"tag_groups.mutations_sent",
		metric.WithDescription("Tag group mutations sent to the backend by outcome"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, err
	}

	namedUserUpdates, err := meter.Int64Counter(
		"named_user.updates",
		metric.WithDescription("Named user associate and disassociate calls by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		registrationAttempts: registrationAttempts,
		tagMutationsSent:     tagMutationsSent,
		namedUserUpdates:     namedUserUpdates,
	}, nil
}

// RecordRegistration records a channel create or update outcome.
func (m *Metrics) RecordRegistration(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	m.registrationAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordTagMutation records a tag group update outcome for an audience type.
func (m *Metrics) RecordTagMutation(ctx context.Context, audience, outcome string) {
	if m == nil {
		return
	}
	m.tagMutationsSent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("audience", audience),
		attribute.String("outcome", outcome),
	))
}

// RecordNamedUserUpdate records an associate or disassociate outcome.
func (m *Metrics) RecordNamedUserUpdate(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	m.namedUserUpdates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
