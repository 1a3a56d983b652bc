// Package config provides configuration management for Reverie.
// Settings resolve in three layers: built-in defaults, an optional YAML file
// named by REVERIE_CONFIG_FILE, and environment variables with the REVERIE_
// prefix. Later layers win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Reverie server.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Backup      BackupConfig      `yaml:"backup"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host      string  `yaml:"host"`       // Server host (default: 127.0.0.1)
	Port      int     `yaml:"port"`       // Server port (default: 7351)
	APIToken  string  `yaml:"api_token"`  // Bearer token for /api/ routes
	Mode      string  `yaml:"mode"`       // Security mode: development, production (default: production)
	RateLimit float64 `yaml:"rate_limit"` // Sustained requests per second (default: 10)
	RateBurst int     `yaml:"rate_burst"` // Burst allowance above the rate (default: 20)
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Engine        string `yaml:"engine"`         // Storage engine: sqlite, postgres (default: sqlite)
	Path          string `yaml:"path"`           // SQLite database file (default: ./reverie.db)
	DSN           string `yaml:"dsn"`            // PostgreSQL connection string
	MigrationsDir string `yaml:"migrations_dir"` // Directory of versioned .sql migrations (optional)
}

// MaintenanceConfig controls the background cleanup service.
type MaintenanceConfig struct {
	Enabled  bool   `yaml:"enabled"`  // Run cleanup on a schedule (default: true)
	Interval string `yaml:"interval"` // Cleanup interval duration (default: 24h)
}

// BackupConfig controls SQLite snapshots taken during maintenance.
type BackupConfig struct {
	Dir  string `yaml:"dir"`  // Snapshot directory; empty disables snapshots
	Keep int    `yaml:"keep"` // Snapshots to retain, newest first (default: 5)
}

// Load builds the configuration from defaults, the optional YAML file, and
// environment variables, then validates the result.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("REVERIE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns the built-in defaults. YAML and environment values
// are layered on top by Load.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      7351,
			Mode:      "production",
			RateLimit: 10,
			RateBurst: 20,
		},
		Database: DatabaseConfig{
			Engine: "sqlite",
			Path:   "./reverie.db",
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Interval: "24h",
		},
		Backup: BackupConfig{
			Keep: 5,
		},
	}
}

// applyEnv overrides cfg fields from REVERIE_-prefixed environment variables.
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("REVERIE_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("REVERIE_PORT", cfg.Server.Port)
	cfg.Server.APIToken = getEnv("REVERIE_API_TOKEN", cfg.Server.APIToken)
	cfg.Server.Mode = getEnv("REVERIE_MODE", cfg.Server.Mode)
	cfg.Server.RateLimit = getEnvFloat("REVERIE_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateBurst = getEnvInt("REVERIE_RATE_BURST", cfg.Server.RateBurst)

	cfg.Database.Engine = getEnv("REVERIE_DB_ENGINE", cfg.Database.Engine)
	cfg.Database.Path = getEnv("REVERIE_DB_PATH", cfg.Database.Path)
	cfg.Database.DSN = getEnv("REVERIE_DB_DSN", cfg.Database.DSN)
	cfg.Database.MigrationsDir = getEnv("REVERIE_MIGRATIONS_DIR", cfg.Database.MigrationsDir)

	cfg.Maintenance.Enabled = getEnvBool("REVERIE_CLEANUP_ENABLED", cfg.Maintenance.Enabled)
	cfg.Maintenance.Interval = getEnv("REVERIE_CLEANUP_INTERVAL", cfg.Maintenance.Interval)

	cfg.Backup.Dir = getEnv("REVERIE_BACKUP_DIR", cfg.Backup.Dir)
	cfg.Backup.Keep = getEnvInt("REVERIE_BACKUP_KEEP", cfg.Backup.Keep)
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	switch c.Database.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database engine %q", c.Database.Engine)
	}
	if c.Database.Engine == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("config: sqlite engine requires a database path")
	}
	if c.Database.Engine == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("config: postgres engine requires a DSN")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Server.Mode != "development" && c.Server.Mode != "production" {
		return fmt.Errorf("config: unknown mode %q", c.Server.Mode)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("config: rate limit must be positive, got %g", c.Server.RateLimit)
	}
	d, err := time.ParseDuration(c.Maintenance.Interval)
	if err != nil {
		return fmt.Errorf("config: invalid cleanup interval %q: %w", c.Maintenance.Interval, err)
	}
	if d <= 0 {
		return fmt.Errorf("config: cleanup interval must be positive, got %q", c.Maintenance.Interval)
	}
	if c.Backup.Keep < 1 {
		return fmt.Errorf("config: backup keep count must be at least 1, got %d", c.Backup.Keep)
	}
	return nil
}

// CleanupInterval returns the parsed maintenance interval. Values that fail
// to parse fall back to 24 hours; Validate rejects them up front.
func (c *Config) CleanupInterval() time.Duration {
	d, err := time.ParseDuration(c.Maintenance.Interval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// IsDevelopment reports whether authentication is bypassed.
func (c *Config) IsDevelopment() bool {
	return c.Server.Mode == "development"
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
