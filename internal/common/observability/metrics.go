package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"

	"subsidy-esign/internal/common/logger"
)

// Pipeline stages recorded by Stage.
const (
	StageFill     = "fill"
	StageCreate   = "create"
	StageURL      = "signing_url"
	StageDownload = "download"
	StageStore    = "store"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	stageCounter  otelmetric.Int64Counter
	stageDuration otelmetric.Float64Histogram
}

// New registers an OpenTelemetry meter provider exporting through the
// Prometheus default registry. On exporter failure a no-op instance is
// returned so callers never need a nil check.
func New(serviceName string, log logger.Logger) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Warn("Failed to create Prometheus exporter", map[string]interface{}{"error": err.Error()})
		return &Observability{}
	}

	o := newWithReader(serviceName, exporter)
	otel.SetMeterProvider(o.meterProvider)
	return o
}

func newWithReader(serviceName string, reader metric.Reader) *Observability {
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter(serviceName)

	stageCounter, _ := meter.Int64Counter(
		"esign.stage.processed",
		otelmetric.WithDescription("Number of pipeline stages processed"),
	)

	stageDuration, _ := meter.Float64Histogram(
		"esign.stage.duration",
		otelmetric.WithDescription("Pipeline stage duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		stageCounter:  stageCounter,
		stageDuration: stageDuration,
	}
}

// NewNoOp records nothing.
func NewNoOp() *Observability {
	return &Observability{}
}

// Stage starts timing a pipeline stage. The returned func records the
// outcome; a nil *error counts as success.
func (o *Observability) Stage(ctx context.Context, stage, provider string) func(err *error) {
	start := time.Now()
	return func(err *error) {
		status := "success"
		if err != nil && *err != nil {
			status = "error"
		}
		o.RecordStage(ctx, stage, provider, status, time.Since(start))
	}
}

func (o *Observability) RecordStage(ctx context.Context, stage, provider, status string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	if o.stageCounter != nil {
		o.stageCounter.Add(ctx, 1, attrs)
	}
	if o.stageDuration != nil {
		o.stageDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown() {
	if o != nil && o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
