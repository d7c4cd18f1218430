package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/quiby-ai/ordersaga/pkg/events"
	"github.com/quiby-ai/ordersaga/pkg/obs"
	"github.com/quiby-ai/ordersaga/pkg/retry"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

const (
	// EnvPrefix is the prefix of environment overrides. A double underscore
	// separates nesting levels: ORDERSAGA_OBS__LOG_LEVEL sets obs.log_level.
	EnvPrefix = "ORDERSAGA_"
	Delimiter = "."
)

type Loader struct {
	k *koanf.Koanf
}

func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load applies defaults, then the file at path when path is not empty, then
// the environment, and returns the validated result.
func (l *Loader) Load(path string) (*Config, error) {
	if err := l.k.Load(confmap.Provider(defaults(), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := l.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := l.k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := l.k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Print returns the merged configuration, for debugging.
func (l *Loader) Print() string {
	return l.k.Sprint()
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", Delimiter)
}

func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

func defaults() map[string]any {
	o := obs.DefaultConfig()
	r := retry.DefaultConfig()
	sw := saga.DefaultSweeperConfig()
	topo := saga.DefaultTopologyConfig()

	steps := make([]any, len(topo.Steps))
	for i, s := range topo.Steps {
		steps[i] = map[string]any{
			"source":             string(s.Source),
			"input_topic":        s.InputTopic,
			"output_topic":       s.OutputTopic,
			"compensation_topic": s.CompensationTopic,
		}
	}

	return map[string]any{
		"obs.service_name":         o.ServiceName,
		"obs.service_version":      o.ServiceVersion,
		"obs.environment":          o.Environment,
		"obs.otlp_timeout":         o.OTLPTimeout,
		"obs.tracing_sample_ratio": o.TracingSampleRatio,
		"obs.metrics_enabled":      o.MetricsEnabled,
		"obs.log_level":            o.LogLevel,
		"obs.log_redact_text":      o.LogRedactText,
		"obs.log_hash_pii":         o.LogHashPII,

		"kafka.brokers":         []string{"localhost:9092"},
		"kafka.group_id_prefix": "ordersaga",

		"topics.steps":             steps,
		"topics.start_topic":       topo.StartTopic,
		"topics.notify_topic":      topo.NotifyTopic,
		"topics.dead_letter_topic": events.TopicDeadLetter,

		"retry.max_retries":     r.MaxRetries,
		"retry.backoff_initial": r.BackoffInitial,
		"retry.backoff_max":     r.BackoffMax,
		"retry.jitter":          r.Jitter,

		"orchestrator.step_timeout":   sw.StepTimeout,
		"orchestrator.sweep_interval": sw.Interval,
		"orchestrator.max_redrives":   sw.MaxRedrives,
		"orchestrator.sweep_batch":    sw.BatchSize,
		"orchestrator.tracker":        "memory",

		"storage.backend": "memory",

		"postgres.max_open_conns": 10,

		"redis.key_prefix": "ordersaga",

		"badger.in_memory": true,

		"admin.addr":      ":8080",
		"admin.issuer":    "ordersaga",
		"admin.token_ttl": "1h",
	}
}
