// Package config loads the service configuration from an optional YAML file
// and BETTING_-prefixed environment variables, with sane defaults for a
// single-node deployment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// OrchestratorConfig tunes workflow pacing and validation windows.
type OrchestratorConfig struct {
	AutoAdvanceDelay     time.Duration `mapstructure:"auto_advance_delay"`
	InterStageDelay      time.Duration `mapstructure:"inter_stage_delay"`
	ValidationWindowDays int           `mapstructure:"validation_window_days"`
	BacktestWindowDays   int           `mapstructure:"backtest_window_days"`
	LeadDays             int           `mapstructure:"lead_days"`
	PromotionWindowDays  int           `mapstructure:"promotion_window_days"`
}

// MonitorConfig schedules the production model scan.
type MonitorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// Config is the root configuration document.
type Config struct {
	Environment  string             `mapstructure:"environment"`
	LogLevel     string             `mapstructure:"log_level"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
}

// Load reads configuration from path (optional, "" skips the file) with
// environment variables taking precedence over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BETTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")

	v.SetDefault("orchestrator.auto_advance_delay", 30*time.Second)
	v.SetDefault("orchestrator.inter_stage_delay", 2*time.Second)
	v.SetDefault("orchestrator.validation_window_days", 60)
	v.SetDefault("orchestrator.backtest_window_days", 150)
	v.SetDefault("orchestrator.lead_days", 30)
	v.SetDefault("orchestrator.promotion_window_days", 90)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.schedule", "0 * * * *")
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}
