package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Loyalty.StorageTimeout)
	assert.Equal(t, 30*time.Second, cfg.Loyalty.SettingsCacheTTL)
	assert.Equal(t, "@daily", cfg.Loyalty.ExpirySchedule)
	assert.True(t, cfg.Database.AutoMigrate)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/loyalty?sslmode=disable")
	t.Setenv("LOYALTY_STORAGE_TIMEOUT", "750ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://pos.example.com;https://admin.example.com")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 750*time.Millisecond, cfg.Loyalty.StorageTimeout)
	assert.Equal(t, []string{"https://pos.example.com", "https://admin.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestMergeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loyalty.yaml")
	doc := []byte(`
server:
  port: 7070
database:
  driver: memory
loyalty:
  expiry_schedule: "0 3 * * *"
`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.MergeFile(path))

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "0 3 * * *", cfg.Loyalty.ExpirySchedule)
	assert.Equal(t, 5*time.Second, cfg.Loyalty.StorageTimeout, "keys absent from the file keep their value")
}

func TestMergeFileMissing(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.MergeFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := FromEnv()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongo" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = " " }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero timeout", func(c *Config) { c.Loyalty.StorageTimeout = 0 }},
		{"negative ttl", func(c *Config) { c.Loyalty.SettingsCacheTTL = -time.Second }},
		{"negative rate", func(c *Config) { c.RateLimit.Burst = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
