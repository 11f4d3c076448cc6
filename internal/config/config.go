// Package config loads the service configuration from a YAML or TOML file
// and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fortunecoin/backend/internal/entitlement"
	"github.com/fortunecoin/backend/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	HTTP     HTTPConfig                                      `yaml:"http" toml:"http"`
	Database DatabaseConfig                                  `yaml:"database" toml:"database"`
	Redis    RedisConfig                                     `yaml:"redis" toml:"redis"`
	Auth     AuthConfig                                      `yaml:"auth" toml:"auth"`
	Quota    QuotaConfig                                     `yaml:"quota" toml:"quota"`
	Actions  map[models.ActionType]entitlement.ActionPolicy `yaml:"actions" toml:"actions"`
	Jobs     JobsConfig                                      `yaml:"jobs" toml:"jobs"`
	Events   EventsConfig                                    `yaml:"events" toml:"events"`
}

type HTTPConfig struct {
	Port           string   `yaml:"port" toml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	URL    string `yaml:"url" toml:"url"`
	Path   string `yaml:"path" toml:"path"`
}

// RedisConfig enables the Redis event publisher when Addr is set.
type RedisConfig struct {
	Addr    string `yaml:"addr" toml:"addr"`
	Channel string `yaml:"channel" toml:"channel"`
}

type AuthConfig struct {
	JWTSecret     string            `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL      Duration          `yaml:"token_ttl" toml:"token_ttl"`
	WebhookSecret string            `yaml:"webhook_secret" toml:"webhook_secret"`
	Admins        []AdminCredential `yaml:"admins" toml:"admins"`
}

// AdminCredential is an operator allowed to log in. PasswordHash is a
// bcrypt hash, as printed by `ledgerctl hash-password`.
type AdminCredential struct {
	ID           string `yaml:"id" toml:"id"`
	Username     string `yaml:"username" toml:"username"`
	PasswordHash string `yaml:"password_hash" toml:"password_hash"`
}

type QuotaConfig struct {
	Timezone string `yaml:"timezone" toml:"timezone"`
}

type JobsConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	SweepEvery     Duration `yaml:"sweep_every" toml:"sweep_every"`
	ReconcileEvery Duration `yaml:"reconcile_every" toml:"reconcile_every"`
	RetentionDays  int      `yaml:"retention_days" toml:"retention_days"`
}

type EventsConfig struct {
	Buffer  int `yaml:"buffer" toml:"buffer"`
	Workers int `yaml:"workers" toml:"workers"`
}

// Duration reads "90s"-style strings from YAML and TOML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Default is a runnable development configuration on the in-memory store.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Port: "8080", AllowedOrigins: []string{"http://localhost:3000"}},
		Database: DatabaseConfig{Driver: DriverMemory, Path: "fortune.db"},
		Redis:    RedisConfig{Channel: "balance"},
		Auth:     AuthConfig{TokenTTL: Duration(24 * time.Hour)},
		Quota:    QuotaConfig{Timezone: "UTC"},
		Actions:  entitlement.DefaultPolicies(),
		Jobs: JobsConfig{
			Enabled:        true,
			SweepEvery:     Duration(6 * time.Hour),
			ReconcileEvery: Duration(time.Hour),
			RetentionDays:  30,
		},
		Events: EventsConfig{Buffer: 1024, Workers: 2},
	}
}

// Load reads path on top of Default, applies environment overrides and
// validates. An empty path loads defaults and the environment only.
// ${VAR} references in the file are expanded before parsing.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if _, err := toml.Decode(expanded, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		default:
			return Config{}, fmt.Errorf("config: %s: unsupported extension (want .yaml, .yml or .toml)", path)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
		if c.Database.Driver == DriverMemory {
			c.Database.Driver = DriverPostgres
		}
	}
	if v := getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := getenv("PORT"); v != "" {
		c.HTTP.Port = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("WEBHOOK_SECRET"); v != "" {
		c.Auth.WebhookSecret = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("QUOTA_TIMEZONE"); v != "" {
		c.Quota.Timezone = v
	}
	if v := getenv("JOBS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: JOBS_ENABLED: %w", err)
		}
		c.Jobs.Enabled = b
	}
	return nil
}

// Validate checks required fields and consistency.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("config: database: url is required for postgres")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("config: database: path is required for sqlite")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: database: unknown driver %q", c.Database.Driver)
	}
	if c.HTTP.Port == "" {
		return fmt.Errorf("config: http: port is required")
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return fmt.Errorf("config: quota: timezone %q: %w", c.Quota.Timezone, err)
	}
	if _, err := entitlement.NewCatalog(c.Actions); err != nil {
		return fmt.Errorf("config: actions: %w", err)
	}
	seen := make(map[string]bool, len(c.Auth.Admins))
	for i, a := range c.Auth.Admins {
		if a.Username == "" || a.PasswordHash == "" {
			return fmt.Errorf("config: auth: admins[%d]: username and password_hash are required", i)
		}
		if _, err := uuid.Parse(a.ID); err != nil {
			return fmt.Errorf("config: auth: admins[%d] (%s): id: %w", i, a.Username, err)
		}
		if seen[a.Username] {
			return fmt.Errorf("config: auth: duplicate admin %q", a.Username)
		}
		seen[a.Username] = true
	}
	if c.Jobs.RetentionDays < 1 {
		return fmt.Errorf("config: jobs: retention_days must be >= 1")
	}
	if c.Events.Buffer < 1 || c.Events.Workers < 1 {
		return fmt.Errorf("config: events: buffer and workers must be >= 1")
	}
	return nil
}

// Catalog builds the price list. Validate has already checked it.
func (c Config) Catalog() (*entitlement.Catalog, error) {
	return entitlement.NewCatalog(c.Actions)
}
