package license

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the licensing instruments. A nil *Metrics records nothing.
type Metrics struct {
	validations metric.Int64Counter
	apiCalls    metric.Int64Counter
}

// NewMetrics registers the licensing instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	validations, err := meter.Int64Counter("license.validations",
		metric.WithDescription("Entitlement record verifications by outcome"),
	)
	if err != nil {
		return nil, err
	}
	apiCalls, err := meter.Int64Counter("license.api.calls",
		metric.WithDescription("Licensing API calls by endpoint and status"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{validations: validations, apiCalls: apiCalls}, nil
}

func (m *Metrics) countValidation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) countAPICall(ctx context.Context, endpoint, status string) {
	if m == nil {
		return
	}
	m.apiCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	))
}
