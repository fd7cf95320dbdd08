package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the cloud processor configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Auth      AuthConfig      `yaml:"auth"`
	Processor ProcessorConfig `yaml:"processor"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxLifetime  int    `yaml:"max_lifetime"`
}

// ConnectionString builds a lib/pq connection string
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Database, d.Username, d.Password, d.SSLMode)
}

// RedisConfig holds Redis configuration for the queue and time-series store
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
	PoolSize int    `yaml:"pool_size"`
}

// RedisAddr returns the host:port address
func (r RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SMTPConfig holds outbound email configuration
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Addr returns the host:port address of the SMTP server
func (s SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig holds admin authentication configuration
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiration time.Duration `yaml:"jwt_expiration"`
}

// ProcessorConfig holds stream processor tunables
type ProcessorConfig struct {
	Workers               int     `yaml:"workers"`
	MessageDeadlineSec    int     `yaml:"message_deadline_sec"`
	ShutdownGraceSec      int     `yaml:"shutdown_grace_sec"`
	HistoryInterval       int     `yaml:"history_interval"`
	StatusThrottleSec     int     `yaml:"status_throttle_sec"`
	AlertCooldownSec      int     `yaml:"alert_cooldown_sec"`
	DedupCacheCapacity    int     `yaml:"dedup_cache_capacity"`
	OfflineSweepSec       int     `yaml:"offline_sweep_sec"`
	OfflineThresholdSec   int     `yaml:"offline_threshold_sec"`
	BreakerTimeoutMS      int     `yaml:"breaker_timeout_ms"`
	BreakerErrorThreshold float64 `yaml:"breaker_error_threshold"`
	BreakerResetAfterSec  int     `yaml:"breaker_reset_after_sec"`
}

// AdminConfig holds the admin mutation HTTP surface configuration
type AdminConfig struct {
	Port         int `yaml:"port"`
	ReadTimeout  int `yaml:"read_timeout"`
	WriteTimeout int `yaml:"write_timeout"`
	IdleTimeout  int `yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds the cloud configuration from environment variables with
// sensible defaults, matching the deployment convention of passing
// credentials through the environment or a mounted secret.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:         envString("AQUABRIDGE_DB_HOST", "localhost"),
			Port:         envInt("AQUABRIDGE_DB_PORT", 5432),
			Database:     envString("AQUABRIDGE_DB_NAME", "aquabridge"),
			Username:     envString("AQUABRIDGE_DB_USER", "aquabridge"),
			Password:     envString("AQUABRIDGE_DB_PASSWORD", ""),
			SSLMode:      envString("AQUABRIDGE_DB_SSLMODE", "disable"),
			MaxOpenConns: envInt("AQUABRIDGE_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("AQUABRIDGE_DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  envInt("AQUABRIDGE_DB_MAX_LIFETIME", 300),
		},
		Redis: RedisConfig{
			Host:     envString("AQUABRIDGE_REDIS_HOST", "localhost"),
			Port:     envInt("AQUABRIDGE_REDIS_PORT", 6379),
			Password: envString("AQUABRIDGE_REDIS_PASSWORD", ""),
			Database: envInt("AQUABRIDGE_REDIS_DB", 0),
			PoolSize: envInt("AQUABRIDGE_REDIS_POOL_SIZE", 10),
		},
		SMTP: SMTPConfig{
			Host:     envString("AQUABRIDGE_SMTP_HOST", "localhost"),
			Port:     envInt("AQUABRIDGE_SMTP_PORT", 587),
			Username: envString("AQUABRIDGE_SMTP_USER", ""),
			Password: envString("AQUABRIDGE_SMTP_PASSWORD", ""),
			From:     envString("AQUABRIDGE_SMTP_FROM", "alerts@aquabridge.local"),
		},
		Auth: AuthConfig{
			JWTSecret:     envString("AQUABRIDGE_JWT_SECRET", ""),
			JWTExpiration: time.Duration(envInt("AQUABRIDGE_JWT_EXPIRATION_SEC", 3600)) * time.Second,
		},
		Processor: ProcessorConfig{
			Workers:               envInt("AQUABRIDGE_WORKERS", 4),
			MessageDeadlineSec:    envInt("AQUABRIDGE_MESSAGE_DEADLINE_SEC", 30),
			ShutdownGraceSec:      envInt("AQUABRIDGE_SHUTDOWN_GRACE_SEC", 10),
			HistoryInterval:       envInt("AQUABRIDGE_HISTORY_INTERVAL", 5),
			StatusThrottleSec:     envInt("AQUABRIDGE_STATUS_THROTTLE_SEC", 300),
			AlertCooldownSec:      envInt("AQUABRIDGE_ALERT_COOLDOWN_SEC", 300),
			DedupCacheCapacity:    envInt("AQUABRIDGE_DEDUP_CACHE_CAPACITY", 1000),
			OfflineSweepSec:       envInt("AQUABRIDGE_OFFLINE_SWEEP_SEC", 300),
			OfflineThresholdSec:   envInt("AQUABRIDGE_OFFLINE_THRESHOLD_SEC", 600),
			BreakerTimeoutMS:      envInt("AQUABRIDGE_BREAKER_TIMEOUT_MS", 3000),
			BreakerErrorThreshold: envFloat("AQUABRIDGE_BREAKER_ERROR_THRESHOLD", 0.5),
			BreakerResetAfterSec:  envInt("AQUABRIDGE_BREAKER_RESET_AFTER_SEC", 30),
		},
		Admin: AdminConfig{
			Port:         envInt("AQUABRIDGE_ADMIN_PORT", 8090),
			ReadTimeout:  envInt("AQUABRIDGE_ADMIN_READ_TIMEOUT", 15),
			WriteTimeout: envInt("AQUABRIDGE_ADMIN_WRITE_TIMEOUT", 15),
			IdleTimeout:  envInt("AQUABRIDGE_ADMIN_IDLE_TIMEOUT", 60),
		},
		Logging: LoggingConfig{
			Level:  envString("AQUABRIDGE_LOG_LEVEL", "info"),
			Format: envString("AQUABRIDGE_LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required configuration values
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if c.Processor.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Processor.HistoryInterval <= 0 {
		return fmt.Errorf("history_interval must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
