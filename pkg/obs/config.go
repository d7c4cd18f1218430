package obs

import (
	"strings"
	"time"
)

type Config struct {
	ServiceName        string            `koanf:"service_name"`
	ServiceVersion     string            `koanf:"service_version"`
	Environment        string            `koanf:"environment"`
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPTimeout        time.Duration     `koanf:"otlp_timeout"`
	TracingSampleRatio float64           `koanf:"tracing_sample_ratio"`
	MetricsEnabled     bool              `koanf:"metrics_enabled"`
	LogLevel           string            `koanf:"log_level"`
	LogPretty          bool              `koanf:"log_pretty"`
	LogRedactText      bool              `koanf:"log_redact_text"`
	LogHashPII         bool              `koanf:"log_hash_pii"`
	ResourceAttributes map[string]string `koanf:"resource_attributes"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:        "ordersaga",
		ServiceVersion:     "dev",
		Environment:        "development",
		OTLPTimeout:        30 * time.Second,
		TracingSampleRatio: 1.0,
		MetricsEnabled:     true,
		LogLevel:           "info",
		LogRedactText:      true,
		LogHashPII:         true,
		ResourceAttributes: make(map[string]string),
	}
}

func (c Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidServiceName
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return ErrInvalidSampleRatio
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	return nil
}
