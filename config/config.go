package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Cache     CacheConfig
	Vision    VisionConfig
	Discovery DiscoveryConfig
	Resolver  ResolverConfig
	Analysis  AnalysisConfig
	Progress  ProgressConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StoreConfig holds the relational product store configuration.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// CacheConfig holds document cache configuration.
type CacheConfig struct {
	Type          string `mapstructure:"type"` // "memory" or "redis"
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// VisionConfig holds vision model service configuration.
type VisionConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// DiscoveryConfig holds web discovery search configuration.
type DiscoveryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ResolverConfig tunes the multi-tier orchestrator.
type ResolverConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// AnalysisConfig tunes the dimension analyzer.
type AnalysisConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProgressConfig tunes the progress session manager.
type ProgressConfig struct {
	CoalesceInterval time.Duration `mapstructure:"coalesce_interval"`
	IdleTTL          time.Duration `mapstructure:"idle_ttl"`
	MaxSessionAge    time.Duration `mapstructure:"max_session_age"`
	MaxSessions      int           `mapstructure:"max_sessions"`
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/shelfscan/")

	v.SetEnvPrefix("SHELFSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; env vars and defaults cover the rest.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("store.dsn", "shelfscan.db")

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("vision.base_url", "http://localhost:9090")
	v.SetDefault("vision.request_timeout", "30s")
	v.SetDefault("vision.requests_per_second", 2.0)

	v.SetDefault("discovery.base_url", "http://localhost:9091")
	v.SetDefault("discovery.request_timeout", "15s")

	v.SetDefault("resolver.confidence_threshold", 0.5)

	v.SetDefault("analysis.timeout", "10s")

	v.SetDefault("progress.coalesce_interval", "100ms")
	v.SetDefault("progress.idle_ttl", "5s")
	v.SetDefault("progress.max_session_age", "60s")
	v.SetDefault("progress.max_sessions", 256)
}

// validate validates the configuration.
func validate(config *Config) error {
	if config.Cache.Type != "memory" && config.Cache.Type != "redis" {
		return fmt.Errorf("cache type must be 'memory' or 'redis', got: %s", config.Cache.Type)
	}
	if config.Cache.Type == "redis" && config.Cache.RedisAddr == "" {
		return fmt.Errorf("redis address is required when cache type is 'redis'")
	}
	if config.Resolver.ConfidenceThreshold < 0 || config.Resolver.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got: %f", config.Resolver.ConfidenceThreshold)
	}
	if config.Vision.BaseURL == "" {
		return fmt.Errorf("vision base URL is required (set SHELFSCAN_VISION_BASE_URL)")
	}
	return nil
}
