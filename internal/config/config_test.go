package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortunecoin/backend/internal/models"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "DATABASE_DRIVER", "PORT", "JWT_SECRET", "WEBHOOK_SECRET", "REDIS_ADDR", "QUOTA_TIMEZONE", "JOBS_ENABLED"} {
		t.Setenv(k, "")
	}
}

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, int64(3), cfg.Actions[models.ActionChat].FreePerDay)
}

func TestLoadYAMLExpandsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_SQLITE_PATH", "/tmp/coins.db")
	p := write(t, "config.yaml", `
http:
  port: "9090"
database:
  driver: sqlite
  path: ${TEST_SQLITE_PATH}
quota:
  timezone: UTC
jobs:
  enabled: false
  sweep_every: 2h
  retention_days: 7
actions:
  coffee:
    free_per_day: 2
    coin_cost: 15
    extra_right_cost: 12
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/coins.db", cfg.Database.Path)
	assert.False(t, cfg.Jobs.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Jobs.SweepEvery.Std())
	assert.Equal(t, 7, cfg.Jobs.RetentionDays)
	assert.Equal(t, int64(15), cfg.Actions[models.ActionCoffee].CoinCost)
	assert.Equal(t, int64(10), cfg.Actions[models.ActionHand].CoinCost, "unlisted actions keep defaults")
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	p := write(t, "config.toml", `
[database]
driver = "postgres"
url = "postgres://localhost/coins"

[auth]
token_ttl = "1h"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL.Std())
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db/coins")
	t.Setenv("PORT", "7000")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver, "DATABASE_URL switches the memory default to postgres")
	assert.Equal(t, "7000", cfg.HTTP.Port)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	t.Setenv("JOBS_ENABLED", "maybe")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown driver":   func(c *Config) { c.Database.Driver = "oracle" },
		"postgres no url":  func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.URL = "" },
		"bad timezone":     func(c *Config) { c.Quota.Timezone = "Mars/Olympus" },
		"unpriced action":  func(c *Config) { delete(c.Actions, models.ActionTarot) },
		"zero retention":   func(c *Config) { c.Jobs.RetentionDays = 0 },
		"no event workers": func(c *Config) { c.Events.Workers = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestUnsupportedExtension(t *testing.T) {
	clearEnv(t)
	_, err := Load(write(t, "config.json", `{}`))
	assert.Error(t, err)
}

func TestValidateAdmins(t *testing.T) {
	cfg := Default()
	cfg.Auth.Admins = []AdminCredential{{ID: "not-a-uuid", Username: "ops", PasswordHash: "$2a$10$x"}}
	assert.Error(t, cfg.Validate())

	cfg.Auth.Admins[0].ID = "7b0c7f5e-4f7e-4c55-9b43-5a5d0b1f4f11"
	assert.NoError(t, cfg.Validate())

	cfg.Auth.Admins = append(cfg.Auth.Admins, cfg.Auth.Admins[0])
	assert.Error(t, cfg.Validate())
}
