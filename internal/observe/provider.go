package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TelemetryConfig configures [Setup].
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Default: "patternlab".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// Global registers the tracer and meter providers with the otel package.
	// The server binary sets it; tests leave it off so they stay isolated.
	Global bool
}

// Telemetry bundles the SDK providers of one process with the patternlab
// instruments and the /metrics handler that serves them.
type Telemetry struct {
	// Metrics are created on MeterProvider.
	Metrics *Metrics

	// Handler serves Registry in the Prometheus text format.
	Handler http.Handler

	// Registry holds the OTel bridge plus the Go runtime and process
	// collectors. It is private to this Telemetry.
	Registry *prometheus.Registry

	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
}

// Setup builds a Prometheus-backed meter provider and a tracer provider on a
// fresh registry and creates the [Metrics] on it. Call [Telemetry.Shutdown]
// when done.
func Setup(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "patternlab"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if err := errors.Join(
		reg.Register(collectors.NewGoCollector()),
		reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
	); err != nil {
		return nil, err
	}

	promExp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	t := &Telemetry{
		Registry: reg,
		Handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		MeterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
		),
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithResource(res)),
	}

	if t.Metrics, err = NewMetrics(t.MeterProvider); err != nil {
		return nil, errors.Join(err, t.Shutdown(ctx))
	}

	if cfg.Global {
		otel.SetMeterProvider(t.MeterProvider)
		otel.SetTracerProvider(t.TracerProvider)
	}
	return t, nil
}

// Shutdown flushes and closes both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.MeterProvider.Shutdown(ctx),
		t.TracerProvider.Shutdown(ctx),
	)
}
