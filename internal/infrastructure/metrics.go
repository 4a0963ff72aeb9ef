package infrastructure

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// ServiceName identifies the daemon in exported telemetry.
	ServiceName = "lpvault"

	// MeterName scopes the daemon's instruments.
	MeterName = "lpvault"
)

// Telemetry holds the metrics pipeline: an otel meter backed by the
// Prometheus exporter, and the scrape handler to mount on the router.
type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter
	Handler       http.Handler
}

// NewTelemetry initializes the OpenTelemetry metrics pipeline with a
// Prometheus exporter. Tracing is deliberately absent: the daemon is a
// single local process with nothing to propagate to.
func NewTelemetry(version, environment string) (*Telemetry, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(version),
		semconv.DeploymentEnvironment(environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return &Telemetry{
		MeterProvider: provider,
		Meter:         provider.Meter(MeterName),
		Handler:       promhttp.Handler(),
	}, nil
}

// Shutdown flushes and stops the metrics pipeline.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.MeterProvider == nil {
		return nil
	}
	return t.MeterProvider.Shutdown(ctx)
}
