// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig gates the control-plane routes behind a shared API key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig locates the fanout pub/sub broker. An empty Addr disables
// fanout entirely; the event log still records everything.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ScraperConfig governs the per-target scrape loop.
type ScraperConfig struct {
	MaxPages            int `mapstructure:"max_pages"`
	MinDelayMs          int `mapstructure:"min_delay_ms"`
	MaxDelayMs          int `mapstructure:"max_delay_ms"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// BreakerConfig tunes the per-target circuit breaker.
type BreakerConfig struct {
	Threshold int `mapstructure:"threshold"`
}

// PoolConfig bounds worker-task execution.
type PoolConfig struct {
	HardLimitMinutes int `mapstructure:"hard_limit_minutes"`
	SoftLimitMinutes int `mapstructure:"soft_limit_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("db.dsn", "postgres://localhost:5432/bizscraper")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("scraper.max_pages", 25)
	v.SetDefault("scraper.min_delay_ms", 1000)
	v.SetDefault("scraper.max_delay_ms", 2000)
	v.SetDefault("scraper.poll_interval_seconds", 2)
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("pool.hard_limit_minutes", 30)
	v.SetDefault("pool.soft_limit_minutes", 28)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Scraper.MaxPages <= 0 {
		return fmt.Errorf("scraper.max_pages must be > 0")
	}
	if c.Scraper.MinDelayMs <= 0 || c.Scraper.MaxDelayMs < c.Scraper.MinDelayMs {
		return fmt.Errorf("scraper delay bounds must satisfy 0 < min <= max")
	}
	if c.Scraper.PollIntervalSeconds <= 0 {
		return fmt.Errorf("scraper.poll_interval_seconds must be > 0")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be > 0")
	}
	if c.Pool.HardLimitMinutes <= 0 || c.Pool.SoftLimitMinutes > c.Pool.HardLimitMinutes {
		return fmt.Errorf("pool limits must satisfy 0 < soft <= hard")
	}
	return nil
}

// PollInterval returns the scrape-loop status poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Scraper.PollIntervalSeconds) * time.Second
}

// DelayBounds returns the randomized inter-request delay window.
func (c Config) DelayBounds() (time.Duration, time.Duration) {
	return time.Duration(c.Scraper.MinDelayMs) * time.Millisecond,
		time.Duration(c.Scraper.MaxDelayMs) * time.Millisecond
}

// PoolLimits returns the hard and soft execution ceilings.
func (c Config) PoolLimits() (hard, soft time.Duration) {
	return time.Duration(c.Pool.HardLimitMinutes) * time.Minute,
		time.Duration(c.Pool.SoftLimitMinutes) * time.Minute
}
