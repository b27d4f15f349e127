package observability

import (
	"github.com/cooprin/fleetbill/internal/config"
	"github.com/cooprin/fleetbill/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
	),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.MetricsEnabled,
		ExporterEndpoint: cfg.MetricsEndpoint,
		ExporterProtocol: cfg.MetricsExporter,
		ServiceName:      cfg.AppName,
	}
}
