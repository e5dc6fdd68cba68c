// Package config loads the engine's server-level settings from a YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quantflow/backtest-engine/pkg/types"
)

// Config is the top-level configuration for the backtest-engine server.
// Maps directly to the YAML file structure.
type Config struct {
	Server  types.ServerConfig `mapstructure:"server"`
	Logging LoggingConfig      `mapstructure:"logging"`
	Engine  EngineConfig       `mapstructure:"engine"`
}

// LoggingConfig selects the zap logger's level and encoder.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// EngineConfig holds engine-wide run defaults. Load and Validate read and
// check them; orchestrator.Strategy does not consume them.
type EngineConfig struct {
	DefaultPlaySpeed float64       `mapstructure:"default_play_speed"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	WorkerPoolSize   int           `mapstructure:"worker_pool_size"`
}

func defaults() Config {
	return Config{
		Server: types.ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			WebSocketPath:  "/ws",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			MaxConnections: 256,
			EnableMetrics:  true,
			MetricsPort:    9090,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Engine: EngineConfig{
			DefaultPlaySpeed: 0, // 0 = run as fast as possible
			StopTimeout:      20 * time.Second,
			WorkerPoolSize:   0, // 0 = workers.DefaultPoolConfig's 2x NumCPU
		},
	}
}

// Load reads config from a YAML file at path, with BACKTEST_* environment
// variables overriding select fields (e.g. BACKTEST_SERVER_PORT). A
// missing file is not an error: Load falls back to defaults().
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaults()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if port := os.Getenv("BACKTEST_SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("BACKTEST_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = p
	}
	if host := os.Getenv("BACKTEST_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if level := os.Getenv("BACKTEST_LOGGING_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return &cfg, nil
}

// Validate checks the required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("server.max_connections must be > 0")
	}
	if c.Engine.StopTimeout <= 0 {
		return fmt.Errorf("engine.stop_timeout must be > 0")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\"")
	}
	return nil
}
