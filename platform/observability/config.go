package observability

import "time"

// Config настройки OpenTelemetry, читаются caarlos0/env в internal/config
type Config struct {
	Enabled bool `env:"OTEL_ENABLED" envDefault:"false"`
	// OTLPEndpoint OTLP gRPC collector для трасс и метрик, например "otel-collector:4317"
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"127.0.0.1:4317"`
	// SamplingRatio доля семплируемых трасс, 0..1
	SamplingRatio  float64       `env:"OTEL_SAMPLING_RATIO" envDefault:"1.0"`
	MetricInterval time.Duration `env:"OTEL_METRIC_INTERVAL" envDefault:"10s"`

	ServiceName           string `env:"-"`
	DeploymentEnvironment string `env:"-"`
	ServiceVersion        string `env:"SERVICE_VERSION"`
}
