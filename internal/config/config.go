package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the bridge configuration
type Config struct {
	// MQTT broker configuration
	MQTTBrokerURL string `mapstructure:"mqtt_broker_url"`
	MQTTUsername  string `mapstructure:"mqtt_username"`
	MQTTPassword  string `mapstructure:"mqtt_password"`
	MQTTClientID  string `mapstructure:"mqtt_client_id"`

	// Message queue configuration
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Buffer and batching configuration
	BufferMax       int `mapstructure:"buffer_max"`
	FlushIntervalMS int `mapstructure:"flush_interval_ms"`
	BatchMaxMsgs    int `mapstructure:"batch_max_msgs"`
	BatchMaxBytes   int `mapstructure:"batch_max_bytes"`
	BatchMaxLatency int `mapstructure:"batch_max_latency_ms"`
	PublishWorkers  int `mapstructure:"publish_workers"`

	// Circuit breaker configuration
	BreakerTimeoutMS      int     `mapstructure:"breaker_timeout_ms"`
	BreakerErrorThreshold float64 `mapstructure:"breaker_error_threshold"`
	BreakerResetAfterSec  int     `mapstructure:"breaker_reset_after_sec"`

	// Ops HTTP server configuration
	HealthPort int `mapstructure:"health_port"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		MQTTBrokerURL:         "mqtt://localhost:1883",
		MQTTClientID:          "aquabridge",
		RedisAddr:             "localhost:6379",
		RedisDB:               0,
		BufferMax:             100,
		FlushIntervalMS:       5000,
		BatchMaxMsgs:          100,
		BatchMaxBytes:         1 << 20,
		BatchMaxLatency:       100,
		PublishWorkers:        2,
		BreakerTimeoutMS:      3000,
		BreakerErrorThreshold: 0.5,
		BreakerResetAfterSec:  30,
		HealthPort:            8080,
		LogLevel:              "info",
		LogFile:               "",
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up viper
	v := viper.New()

	// Set default values
	setDefaults(v, cfg)

	// Configure file locations
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// Look for config in current directory and common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/aquabridge")

		// Add user config directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".aquabridge"))
		}
	}

	// Environment variable configuration
	v.SetEnvPrefix("AQUABRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("mqtt_broker_url", cfg.MQTTBrokerURL)
	v.SetDefault("mqtt_client_id", cfg.MQTTClientID)
	v.SetDefault("redis_addr", cfg.RedisAddr)
	v.SetDefault("redis_db", cfg.RedisDB)
	v.SetDefault("buffer_max", cfg.BufferMax)
	v.SetDefault("flush_interval_ms", cfg.FlushIntervalMS)
	v.SetDefault("batch_max_msgs", cfg.BatchMaxMsgs)
	v.SetDefault("batch_max_bytes", cfg.BatchMaxBytes)
	v.SetDefault("batch_max_latency_ms", cfg.BatchMaxLatency)
	v.SetDefault("publish_workers", cfg.PublishWorkers)
	v.SetDefault("breaker_timeout_ms", cfg.BreakerTimeoutMS)
	v.SetDefault("breaker_error_threshold", cfg.BreakerErrorThreshold)
	v.SetDefault("breaker_reset_after_sec", cfg.BreakerResetAfterSec)
	v.SetDefault("health_port", cfg.HealthPort)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MQTTBrokerURL == "" {
		return fmt.Errorf("mqtt_broker_url is required")
	}

	if c.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required")
	}

	if c.BufferMax <= 0 {
		return fmt.Errorf("buffer_max must be positive")
	}

	if c.BatchMaxMsgs <= 0 {
		return fmt.Errorf("batch_max_msgs must be positive")
	}

	if c.BatchMaxBytes <= 0 {
		return fmt.Errorf("batch_max_bytes must be positive")
	}

	if c.FlushIntervalMS <= 0 {
		return fmt.Errorf("flush_interval_ms must be positive")
	}

	if c.PublishWorkers <= 0 {
		return fmt.Errorf("publish_workers must be positive")
	}

	if c.BreakerErrorThreshold <= 0 || c.BreakerErrorThreshold > 1 {
		return fmt.Errorf("breaker_error_threshold must be in (0, 1]")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// FlushInterval returns the periodic flush interval as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// BatchLatency returns the max batch assembly latency as a duration.
func (c *Config) BatchLatency() time.Duration {
	return time.Duration(c.BatchMaxLatency) * time.Millisecond
}
