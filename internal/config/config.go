// Package config loads loyaltyd configuration from the environment, an
// optional .env file and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverMemory   = "memory"
)

// ConfigFileEnv names the variable pointing at the YAML overlay.
const ConfigFileEnv = "LOYALTY_CONFIG_FILE"

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Redis     RedisConfig     `yaml:"redis"`
	Loyalty   LoyaltyConfig   `yaml:"loyalty"`
	Audit     AuditConfig     `yaml:"audit"`
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0" yaml:"host"`
	Port            int           `env:"SERVER_PORT,default=8080" yaml:"port"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s" yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=15s" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s" yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `env:"DATABASE_DRIVER,default=sqlite3" yaml:"driver"`
	DSN             string        `env:"DATABASE_URL,default=loyalty.db" yaml:"dsn"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=10" yaml:"max_open_conns"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m" yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `env:"DATABASE_AUTO_MIGRATE,default=true" yaml:"auto_migrate"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info" yaml:"level"`
	Format string `env:"LOG_FORMAT,default=json" yaml:"format"`
	Output string `env:"LOG_OUTPUT,default=stdout" yaml:"output"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET" yaml:"jwt_secret"`
	Issuer    string `env:"JWT_ISSUER" yaml:"issuer"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `env:"RATE_LIMIT_RPS,default=50" yaml:"requests_per_second"`
	Burst             int `env:"RATE_LIMIT_BURST,default=100" yaml:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" yaml:"allowed_origins"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" yaml:"addr"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB,default=0" yaml:"db"`
}

type LoyaltyConfig struct {
	StorageTimeout   time.Duration `env:"LOYALTY_STORAGE_TIMEOUT,default=5s" yaml:"storage_timeout"`
	ExpirySchedule   string        `env:"EXPIRY_SCHEDULE,default=@daily" yaml:"expiry_schedule"`
	SettingsCacheTTL time.Duration `env:"SETTINGS_CACHE_TTL,default=30s" yaml:"settings_cache_ttl"`
}

type AuditConfig struct {
	FilePath string `env:"AUDIT_LOG_PATH" yaml:"file_path"`
	Max      int    `env:"AUDIT_LOG_MAX,default=200" yaml:"max"`
}

// Load reads .env (if present), decodes the environment and applies the YAML
// file named by LOYALTY_CONFIG_FILE. The result is validated.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv decodes the process environment without reading any files.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// MergeFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database: dsn is required for driver %s", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database: unsupported driver %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	if c.Loyalty.StorageTimeout <= 0 {
		return fmt.Errorf("loyalty: storage_timeout must be positive")
	}
	if c.Loyalty.SettingsCacheTTL < 0 {
		return fmt.Errorf("loyalty: settings_cache_ttl must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	return nil
}
