// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Currency CurrencyConfig
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxConns       int32
	MinConns       int32
	MigrationsPath string
}

// NATSConfig holds the notification transport settings. Empty URL disables
// publishing entirely.
type NATSConfig struct {
	URL string
}

// CurrencyConfig holds currency conversion settings.
type CurrencyConfig struct {
	Base string
}

// URL builds a pgx-compatible connection URL.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// Load reads configuration with env var overrides using prefix PROCUREMENT_.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("service.name", "be-procurement")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "procurement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("nats.url", "")

	v.SetDefault("currency.base", "IDR")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/be-procurement")

	v.SetEnvPrefix("PROCUREMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// config file is optional; env and defaults suffice
	_ = v.ReadInConfig()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        v.GetString("service.name"),
			Version:     v.GetString("service.version"),
			Environment: v.GetString("service.environment"),
			LogLevel:    v.GetString("service.log_level"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:           v.GetString("database.host"),
			Port:           v.GetInt("database.port"),
			User:           v.GetString("database.user"),
			Password:       v.GetString("database.password"),
			Database:       v.GetString("database.database"),
			SSLMode:        v.GetString("database.sslmode"),
			MaxConns:       v.GetInt32("database.max_conns"),
			MinConns:       v.GetInt32("database.min_conns"),
			MigrationsPath: v.GetString("database.migrations_path"),
		},
		NATS: NATSConfig{
			URL: v.GetString("nats.url"),
		},
		Currency: CurrencyConfig{
			Base: strings.ToUpper(v.GetString("currency.base")),
		},
	}

	if cfg.Currency.Base == "" || len(cfg.Currency.Base) != 3 {
		return nil, fmt.Errorf("currency.base must be a 3-letter ISO code, got %q", cfg.Currency.Base)
	}

	return cfg, nil
}
