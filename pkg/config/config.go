// Package config loads the sagad configuration from defaults, an optional
// YAML or JSON file and ORDERSAGA_ environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/quiby-ai/ordersaga/pkg/obs"
	"github.com/quiby-ai/ordersaga/pkg/retry"
	"github.com/quiby-ai/ordersaga/pkg/saga"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Obs          obs.Config          `koanf:"obs"`
	Kafka        KafkaConfig         `koanf:"kafka"`
	Topics       saga.TopologyConfig `koanf:"topics"`
	Retry        retry.Config        `koanf:"retry"`
	Orchestrator OrchestratorConfig  `koanf:"orchestrator"`
	Storage      StorageConfig       `koanf:"storage"`
	Postgres     PostgresConfig      `koanf:"postgres"`
	Redis        RedisConfig         `koanf:"redis"`
	Badger       BadgerConfig        `koanf:"badger"`
	Admin        AdminConfig         `koanf:"admin"`
}

type KafkaConfig struct {
	Brokers       []string `koanf:"brokers" validate:"required,min=1,dive,required"`
	GroupIDPrefix string   `koanf:"group_id_prefix" validate:"required"`
}

// GroupID is the consumer group of a process role.
func (k KafkaConfig) GroupID(role string) string {
	return k.GroupIDPrefix + "." + role
}

type OrchestratorConfig struct {
	saga.SweeperConfig `koanf:",squash"`
	// Tracker selects where step deadlines are kept.
	Tracker string `koanf:"tracker" validate:"oneof=none memory redis"`
}

type StorageConfig struct {
	Backend string `koanf:"backend" validate:"oneof=memory postgres"`
	// Stock seeds the catalog and inventory at startup, product code to
	// available quantity. Products that already exist keep their stock.
	Stock map[string]int `koanf:"stock" validate:"dive,gte=0"`
}

type PostgresConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gte=0"`
}

type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db" validate:"gte=0"`
	KeyPrefix string `koanf:"key_prefix"`
}

type BadgerConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

type AdminConfig struct {
	Addr      string        `koanf:"addr" validate:"required"`
	JWTSecret string        `koanf:"jwt_secret"`
	Issuer    string        `koanf:"issuer" validate:"required"`
	TokenTTL  time.Duration `koanf:"token_ttl" validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that the topics form a valid topology.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Obs.Validate(); err != nil {
		return fmt.Errorf("%w: obs: %w", ErrInvalidConfig, err)
	}
	if _, err := saga.NewTopology(c.Topics); err != nil {
		return fmt.Errorf("%w: topics: %w", ErrInvalidConfig, err)
	}
	if c.Storage.Backend == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("%w: postgres.dsn is required for the postgres backend", ErrInvalidConfig)
	}
	if c.Orchestrator.Tracker == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required for the redis tracker", ErrInvalidConfig)
	}
	return nil
}
