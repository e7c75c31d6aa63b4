// Package config loads the YAML configuration file and applies
// environment variable overrides on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the paper trading engine.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Trading Trading `yaml:"trading"`
	Logging Logging `yaml:"logging"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Storage holds backend connection strings. Empty values fall back to
// in-memory implementations, which is what tests and local development
// use.
type Storage struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Trading defines the simulated account parameters.
type Trading struct {
	StartingCash         float64 `yaml:"starting_cash"`
	DailyReward          float64 `yaml:"daily_reward"`
	PriceCacheTTLSeconds int     `yaml:"price_cache_ttl_seconds"`
	DemoUserID           string  `yaml:"demo_user_id"`
}

// PriceCacheTTL returns the freshness window for cached quotes.
func (t Trading) PriceCacheTTL() time.Duration {
	return time.Duration(t.PriceCacheTTLSeconds) * time.Second
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML configuration file at the given path, parses it,
// fills defaults, and then applies environment variable overrides. A
// missing file is not an error: defaults plus environment are enough to
// run with in-memory backends.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Alpaca.DataURL == "" {
		cfg.Alpaca.DataURL = "https://data.alpaca.markets"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Alpaca.RateLimitPerMin == 0 {
		cfg.Alpaca.RateLimitPerMin = 200
	}
	if cfg.Trading.StartingCash == 0 {
		cfg.Trading.StartingCash = 10000
	}
	if cfg.Trading.DailyReward == 0 {
		cfg.Trading.DailyReward = 100
	}
	if cfg.Trading.PriceCacheTTLSeconds == 0 {
		cfg.Trading.PriceCacheTTLSeconds = 30
	}
	if cfg.Trading.DemoUserID == "" {
		cfg.Trading.DemoUserID = "demo"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides checks well-known environment variables and
// overrides the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
