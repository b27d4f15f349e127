// Package metrics exposes billing-engine counters over OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	invoicesGenerated  metric.Int64Counter
	generationFailures metric.Int64Counter
	numberFallbacks    metric.Int64Counter
	paymentsReconciled metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the billing instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "fleetbill"
	}
	meter := provider.Meter(name)

	invoicesGenerated, err := meter.Int64Counter("fleetbill_invoices_generated_total")
	if err != nil {
		return nil, err
	}
	generationFailures, err := meter.Int64Counter("fleetbill_invoice_generation_failures_total")
	if err != nil {
		return nil, err
	}
	numberFallbacks, err := meter.Int64Counter("fleetbill_invoice_number_fallbacks_total")
	if err != nil {
		return nil, err
	}
	paymentsReconciled, err := meter.Int64Counter("fleetbill_payments_reconciled_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesGenerated:  invoicesGenerated,
		generationFailures: generationFailures,
		numberFallbacks:    numberFallbacks,
		paymentsReconciled: paymentsReconciled,
	}, nil
}

func (m *Metrics) IncInvoicesGenerated(ctx context.Context) {
	if m == nil || m.invoicesGenerated == nil {
		return
	}
	m.invoicesGenerated.Add(ctx, 1)
}

func (m *Metrics) IncGenerationFailure(ctx context.Context) {
	if m == nil || m.generationFailures == nil {
		return
	}
	m.generationFailures.Add(ctx, 1)
}

func (m *Metrics) IncNumberFallback(ctx context.Context) {
	if m == nil || m.numberFallbacks == nil {
		return
	}
	m.numberFallbacks.Add(ctx, 1)
}

func (m *Metrics) IncPaymentsReconciled(ctx context.Context) {
	if m == nil || m.paymentsReconciled == nil {
		return
	}
	m.paymentsReconciled.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter protocol %q", protocol)
	}
}
