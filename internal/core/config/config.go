// Package config loads application configuration from defaults, an optional
// YAML file, and TRAILMARK_-prefixed environment variables, in that order.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Provider ProviderConfig `koanf:"provider"`
	Funnels  FunnelsConfig  `koanf:"funnels"`
	Site     SiteConfig     `koanf:"site"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeKB int    `koanf:"max_body_size_kb"`
	Mode          string `koanf:"mode"` // debug | release
}

// StorageConfig selects the backends behind the durable and session scopes.
type StorageConfig struct {
	Durable DurableStorageConfig `koanf:"durable"`
	Session SessionStorageConfig `koanf:"session"`
}

type DurableStorageConfig struct {
	Kind         string `koanf:"kind"` // postgres | memory
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type SessionStorageConfig struct {
	Kind     string `koanf:"kind"` // redis | memory
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	TTL      string `koanf:"ttl"` // session inactivity window
}

// ProviderConfig selects and tunes the downstream analytics sink.
type ProviderConfig struct {
	Kind      string `koanf:"kind"` // log | http | clickhouse
	QueueSize int    `koanf:"queue_size"`

	// MaxCustomEventKeys is read as a string so a blank value can fall back
	// to the mode default instead of zero.
	MaxCustomEventKeys string `koanf:"max_custom_event_keys"`

	Endpoint  string `koanf:"endpoint"`
	AuthToken string `koanf:"auth_token"`

	ClickHouse ClickHouseConfig `koanf:"clickhouse"`
}

type ClickHouseConfig struct {
	Addr     string `koanf:"addr"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Table    string `koanf:"table"`
}

type FunnelsConfig struct {
	ConfigDir      string `koanf:"config_dir"`
	RequireFunnels bool   `koanf:"require_funnels"`
}

type SiteConfig struct {
	InternalDomains []string `koanf:"internal_domains"`
}

// EffectiveMaxEventKeys resolves the provider key budget. An unset or
// unparseable value falls back to the mode default: a generous budget in
// debug, the production provider's limit in release.
func (c *Config) EffectiveMaxEventKeys() int {
	if n, err := strconv.Atoi(strings.TrimSpace(c.Provider.MaxCustomEventKeys)); err == nil && n > 0 {
		return n
	}
	if c.Server.Mode == "debug" {
		return 100
	}
	return 25
}

// SessionTTL parses the configured session inactivity window.
func (c SessionStorageConfig) SessionTTL() (time.Duration, error) {
	return time.ParseDuration(c.TTL)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeKB <= 0 {
		return fmt.Errorf("server.max_body_size_kb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Storage.Durable.Kind {
	case "postgres":
		if strings.TrimSpace(c.Storage.Durable.DSN) == "" {
			return fmt.Errorf("storage.durable.dsn is required for postgres")
		}
		if c.Storage.Durable.MaxOpenConns <= 0 {
			return fmt.Errorf("storage.durable.max_open_conns must be > 0")
		}
		if c.Storage.Durable.MaxIdleConns <= 0 {
			return fmt.Errorf("storage.durable.max_idle_conns must be > 0")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage.durable.kind %q (must be postgres or memory)", c.Storage.Durable.Kind)
	}

	switch c.Storage.Session.Kind {
	case "redis":
		if strings.TrimSpace(c.Storage.Session.Addr) == "" {
			return fmt.Errorf("storage.session.addr is required for redis")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage.session.kind %q (must be redis or memory)", c.Storage.Session.Kind)
	}
	ttl, err := c.Storage.Session.SessionTTL()
	if err != nil {
		return fmt.Errorf("invalid storage.session.ttl %q: %w", c.Storage.Session.TTL, err)
	}
	if ttl <= 0 {
		return fmt.Errorf("storage.session.ttl must be > 0")
	}

	switch c.Provider.Kind {
	case "log":
	case "http":
		if strings.TrimSpace(c.Provider.Endpoint) == "" {
			return fmt.Errorf("provider.endpoint is required for the http provider")
		}
	case "clickhouse":
		if strings.TrimSpace(c.Provider.ClickHouse.Addr) == "" {
			return fmt.Errorf("provider.clickhouse.addr is required for the clickhouse provider")
		}
		if strings.TrimSpace(c.Provider.ClickHouse.Database) == "" {
			return fmt.Errorf("provider.clickhouse.database is required for the clickhouse provider")
		}
	default:
		return fmt.Errorf("unsupported provider.kind %q (must be log, http, or clickhouse)", c.Provider.Kind)
	}
	if c.Provider.QueueSize <= 0 {
		return fmt.Errorf("provider.queue_size must be > 0")
	}
	if raw := strings.TrimSpace(c.Provider.MaxCustomEventKeys); raw != "" {
		if n, err := strconv.Atoi(raw); err != nil || n <= 0 {
			return fmt.Errorf("invalid provider.max_custom_event_keys %q (must be a positive integer or empty)", raw)
		}
	}

	if strings.TrimSpace(c.Funnels.ConfigDir) == "" {
		return fmt.Errorf("funnels.config_dir is required")
	}

	return nil
}

// Load parses config from defaults, an optional file, and environment
// variables, then validates it. Env keys map TRAILMARK_SERVER__PORT to
// server.port.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                    8080,
		"server.host":                    "0.0.0.0",
		"server.max_body_size_kb":        64,
		"server.mode":                    "release",
		"storage.durable.kind":           "postgres",
		"storage.durable.dsn":            "",
		"storage.durable.max_open_conns": 25,
		"storage.durable.max_idle_conns": 25,
		"storage.durable.auto_migrate":   true,
		"storage.session.kind":           "memory",
		"storage.session.addr":           "",
		"storage.session.password":       "",
		"storage.session.db":             0,
		"storage.session.ttl":            "30m",
		"provider.kind":                  "log",
		"provider.queue_size":            1024,
		"provider.max_custom_event_keys": "",
		"provider.endpoint":              "",
		"provider.auth_token":            "",
		"provider.clickhouse.addr":       "",
		"provider.clickhouse.database":   "",
		"provider.clickhouse.username":   "default",
		"provider.clickhouse.password":   "",
		"provider.clickhouse.table":      "trailmark_events",
		"funnels.config_dir":             "./config/funnels",
		"funnels.require_funnels":        false,
		"site.internal_domains":          []string{},
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TRAILMARK_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TRAILMARK_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
