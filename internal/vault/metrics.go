package vault

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the vault's OpenTelemetry instruments. A nil *Metrics is
// valid and records nothing, so wiring metrics stays optional.
type Metrics struct {
	unlockAttempts metric.Int64Counter
	recoveries     metric.Int64Counter
	exports        metric.Int64Counter
}

// NewMetrics registers the vault instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	unlockAttempts, err := meter.Int64Counter("vault.unlock.attempts",
		metric.WithDescription("Vault unlock attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}
	recoveries, err := meter.Int64Counter("vault.corruption.recoveries",
		metric.WithDescription("Corruption recovery attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}
	exports, err := meter.Int64Counter("vault.exports",
		metric.WithDescription("Vault exports by format"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		unlockAttempts: unlockAttempts,
		recoveries:     recoveries,
		exports:        exports,
	}, nil
}

func (m *Metrics) countUnlock(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.unlockAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) countRecovery(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.recoveries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) countExport(ctx context.Context, format string) {
	if m == nil {
		return
	}
	m.exports.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))
}
