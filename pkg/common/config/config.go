// Package config loads the engine configuration from file and environment.
// Engines receive the values they need at construction; nothing reads
// configuration at runtime.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agent-mesh/agent-mesh/pkg/common/cache"
	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/observability"
	"github.com/agent-mesh/agent-mesh/pkg/sinks"
)

// NegotiationConfig tunes the negotiation engine
type NegotiationConfig struct {
	MaxRounds                   int                       `mapstructure:"max_rounds"`
	Timeout                     time.Duration             `mapstructure:"timeout"`
	DefaultStrategy             models.ResolutionStrategy `mapstructure:"default_strategy"`
	FallbackStrategy            models.ResolutionStrategy `mapstructure:"fallback_strategy"`
	ResourceOptimizationEnabled bool                      `mapstructure:"resource_optimization_enabled"`
	ResourceMaxQuantity         float64                   `mapstructure:"resource_max_quantity"`
	SweepInterval               time.Duration             `mapstructure:"sweep_interval"`
}

// ContextConfig tunes the shared context engine
type ContextConfig struct {
	SyncInterval             time.Duration `mapstructure:"sync_interval"`
	MaxSizeBytes             int64         `mapstructure:"max_size_bytes"`
	CompressionThreshold     int           `mapstructure:"compression_threshold"`
	ArchiveEveryNVersions    int           `mapstructure:"archive_every_n_versions"`
	MemoryIntegrationEnabled bool          `mapstructure:"memory_integration_enabled"`
}

// TeamFormationConfig tunes the team formation engine
type TeamFormationConfig struct {
	CapabilityMatchThreshold float64 `mapstructure:"capability_match_threshold"`
}

// NotificationsConfig tunes the subscriber notification dispatcher
type NotificationsConfig struct {
	QueueSize          int     `mapstructure:"queue_size"`
	PerSubscriberRate  float64 `mapstructure:"per_subscriber_rate"`
	PerSubscriberBurst int     `mapstructure:"per_subscriber_burst"`
}

// CacheConfig selects and tunes the context read cache
type CacheConfig struct {
	Type       string            `mapstructure:"type"`
	TTL        time.Duration     `mapstructure:"ttl"`
	MaxEntries int               `mapstructure:"max_entries"`
	Redis      cache.RedisConfig `mapstructure:"redis"`
}

// EventsConfig selects the domain event publisher
type EventsConfig struct {
	Type          string `mapstructure:"type"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// ArchiveConfig selects and tunes the archival sink
type ArchiveConfig struct {
	Type string         `mapstructure:"type"`
	S3   sinks.S3Config `mapstructure:"s3"`
}

// Config holds the complete application configuration
type Config struct {
	Environment   string               `mapstructure:"environment"`
	Negotiation   NegotiationConfig    `mapstructure:"negotiation"`
	Context       ContextConfig        `mapstructure:"context"`
	TeamFormation TeamFormationConfig  `mapstructure:"team_formation"`
	Notifications NotificationsConfig  `mapstructure:"notifications"`
	Database      DatabaseConfig       `mapstructure:"database"`
	Cache         CacheConfig          `mapstructure:"cache"`
	Events        EventsConfig         `mapstructure:"events"`
	Archive       ArchiveConfig        `mapstructure:"archive"`
	Observability observability.Config `mapstructure:"observability"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	configFile := os.Getenv("AGENTMESH_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}

	v.SetConfigFile(configFile)

	v.SetEnvPrefix("AGENTMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Common Docker environment aliases
	_ = v.BindEnv("cache.redis.address", "REDIS_ADDR")
	_ = v.BindEnv("cache.redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("database.host", "DATABASE_HOST")

	v.AllowEmptyEnv(true)

	if err := v.ReadInConfig(); err != nil {
		// Config file is not required if environment variables are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	// Negotiation defaults
	v.SetDefault("negotiation.max_rounds", 10)
	v.SetDefault("negotiation.timeout", 15*time.Second)
	v.SetDefault("negotiation.default_strategy", string(models.ResolutionPriorityBased))
	v.SetDefault("negotiation.fallback_strategy", string(models.ResolutionCompromise))
	v.SetDefault("negotiation.resource_optimization_enabled", true)
	v.SetDefault("negotiation.resource_max_quantity", 100.0)
	v.SetDefault("negotiation.sweep_interval", time.Second)

	// Context defaults
	v.SetDefault("context.sync_interval", 500*time.Millisecond)
	v.SetDefault("context.max_size_bytes", int64(200*1024*1024))
	v.SetDefault("context.compression_threshold", 5000)
	v.SetDefault("context.archive_every_n_versions", 5)
	v.SetDefault("context.memory_integration_enabled", true)

	// Team formation defaults
	v.SetDefault("team_formation.capability_match_threshold", 0.75)

	// Notification dispatcher defaults
	v.SetDefault("notifications.queue_size", 1000)
	v.SetDefault("notifications.per_subscriber_rate", 100.0)
	v.SetDefault("notifications.per_subscriber_burst", 200)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "agentmesh")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", time.Minute)
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.max_retries", 3)
	v.SetDefault("cache.redis.dial_timeout", 5)
	v.SetDefault("cache.redis.read_timeout", 3)
	v.SetDefault("cache.redis.write_timeout", 3)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.min_idle_conns", 2)

	// Event publisher defaults
	v.SetDefault("events.type", "memory")
	v.SetDefault("events.channel_prefix", "agentmesh.events")

	// Archive defaults
	v.SetDefault("archive.type", "noop")
	v.SetDefault("archive.s3.region", "us-west-2")
	v.SetDefault("archive.s3.path_prefix", "contexts")
	v.SetDefault("archive.s3.upload_part_size", int64(5*1024*1024))
	v.SetDefault("archive.s3.request_timeout", 30*time.Second)

	// Observability defaults
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "agent-mesh")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.logging.level", "info")
}

// Validate checks ranges on the loaded values
func (c *Config) Validate() error {
	if c.Negotiation.MaxRounds < 1 {
		return fmt.Errorf("negotiation.max_rounds must be at least 1: %d", c.Negotiation.MaxRounds)
	}
	if c.Negotiation.Timeout <= 0 {
		return fmt.Errorf("negotiation.timeout must be positive: %s", c.Negotiation.Timeout)
	}
	if !c.Negotiation.DefaultStrategy.IsValid() {
		return fmt.Errorf("invalid negotiation.default_strategy: %s", c.Negotiation.DefaultStrategy)
	}
	if !c.Negotiation.FallbackStrategy.IsValid() {
		return fmt.Errorf("invalid negotiation.fallback_strategy: %s", c.Negotiation.FallbackStrategy)
	}
	if c.Negotiation.ResourceMaxQuantity <= 0 {
		return fmt.Errorf("negotiation.resource_max_quantity must be positive: %f", c.Negotiation.ResourceMaxQuantity)
	}
	if c.Context.CompressionThreshold < 0 {
		return fmt.Errorf("context.compression_threshold must be non-negative: %d", c.Context.CompressionThreshold)
	}
	if c.Context.ArchiveEveryNVersions < 1 {
		return fmt.Errorf("context.archive_every_n_versions must be at least 1: %d", c.Context.ArchiveEveryNVersions)
	}
	if c.TeamFormation.CapabilityMatchThreshold < 0 || c.TeamFormation.CapabilityMatchThreshold > 1 {
		return fmt.Errorf("team_formation.capability_match_threshold must be in [0, 1]: %f", c.TeamFormation.CapabilityMatchThreshold)
	}
	if c.Notifications.QueueSize < 1 {
		return fmt.Errorf("notifications.queue_size must be at least 1: %d", c.Notifications.QueueSize)
	}
	return nil
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "dev" || c.Environment == "development"
}
