package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SupervisorMetrics holds metrics for supervised instances.
type SupervisorMetrics struct {
	stateTransitions metric.Int64Counter
}

// NewSupervisorMetrics creates metrics for the instance supervisor.
func NewSupervisorMetrics(meter metric.Meter) (*SupervisorMetrics, error) {
	stateTransitions, err := meter.Int64Counter(
		"kiln_instances_state_transitions_total",
		metric.WithDescription("Total number of instance state transitions"),
	)
	if err != nil {
		return nil, err
	}

	return &SupervisorMetrics{
		stateTransitions: stateTransitions,
	}, nil
}

// RecordTransition records one state machine transition.
func (m *SupervisorMetrics) RecordTransition(ctx context.Context, instanceID, from, to string) {
	m.stateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instance", instanceID),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
