// Package config loads the kvresp server's runtime configuration.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"kvresp/internal/logging"
)

// Config holds all runtime configuration for the kvresp server.
type Config struct {
	Server  ServerConfig      `mapstructure:"server"`
	RDB     RDBConfig         `mapstructure:"rdb"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	Logging logging.Config    `mapstructure:"logging"`
}

// ServerConfig contains network-level settings for the TCP listener.
type ServerConfig struct {
	Host                string  `mapstructure:"host"`
	Port                int     `mapstructure:"port"`
	MaxConnections      int     `mapstructure:"max_connections"`
	CommandRatePerSec   float64 `mapstructure:"command_rate_per_sec"`
	CommandRateBurst    int     `mapstructure:"command_rate_burst"`
}

// RDBConfig mirrors the two parameters CONFIG GET surfaces.
type RDBConfig struct {
	Dir        string `mapstructure:"dir"`
	DBFilename string `mapstructure:"dbfilename"`
}

// MetricsConfig controls the Prometheus /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads configuration from environment variables and an optional
// .env / config file, falling back to the reference server's defaults
// (host="localhost", port=6379, dir=".", dbfilename="dump.rdb").
func Load() (Config, error) {
	// Best-effort: a missing .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 6379)
	v.SetDefault("server.max_connections", 10000)
	v.SetDefault("server.command_rate_per_sec", 0) // 0 = unlimited
	v.SetDefault("server.command_rate_burst", 0)

	v.SetDefault("rdb.dir", ".")
	v.SetDefault("rdb.dbfilename", "dump.rdb")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9121")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("kvresp")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("KVRESP")
	v.AutomaticEnv()

	// Optional config file; absence is not an error.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	return cfg, nil
}

// Addr returns the host:port the TCP listener should bind.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CommandRateLimit returns the rate and burst of the command limiter the
// server shares across all connections, and whether throttling is enabled.
func (c ServerConfig) CommandRateLimit() (rate float64, burst int, enabled bool) {
	if c.CommandRatePerSec <= 0 {
		return 0, 0, false
	}
	burst = c.CommandRateBurst
	if burst <= 0 {
		burst = 1
	}
	return c.CommandRatePerSec, burst, true
}
