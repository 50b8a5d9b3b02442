// Package config loads the beacon CLI configuration from a YAML file,
// per-environment override sections and BEACON_* environment variables.
//
// Precedence, lowest first: built-in defaults, the file's top-level
// values, the section named after the active environment (development or
// production), then environment variables. ${VAR} and ${VAR:-default}
// references in string values are expanded last.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/strongdm/beacon/pkg/beacon"
	"gopkg.in/yaml.v3"
)

// Session store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config is the full CLI configuration.
type Config struct {
	Beacon beacon.Config `yaml:",inline"`

	Session   SessionConfig   `yaml:"session"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Producers ProducersConfig `yaml:"producers"`
	Log       LogConfig       `yaml:"log"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds values that replace the top-level ones when the
// matching environment is active. Empty fields leave the base value,
// except producers.enabled, which a producers section always sets.
type Overrides struct {
	Endpoint      string           `yaml:"endpoint,omitempty"`
	BatchSize     int              `yaml:"batch_size,omitempty"`
	FlushInterval time.Duration    `yaml:"flush_interval,omitempty"`
	Session       *SessionConfig   `yaml:"session,omitempty"`
	Metrics       *MetricsConfig   `yaml:"metrics,omitempty"`
	Log           *LogConfig       `yaml:"log,omitempty"`
	Producers     *ProducersConfig `yaml:"producers,omitempty"`
}

// SessionConfig selects where the session is persisted.
type SessionConfig struct {
	// Store is one of memory, file or redis.
	Store string `yaml:"store"`

	// Dir is the directory of the file store.
	Dir string `yaml:"dir"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis session store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// MetricsConfig configures the Prometheus listener for self-metrics.
type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint; empty disables it.
	Listen string `yaml:"listen"`
}

// ProducersConfig configures the built-in metric producers.
type ProducersConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel parses Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Beacon:    beacon.DefaultConfig(),
		Session:   SessionConfig{Store: StoreMemory, Redis: RedisConfig{Prefix: "beacon:"}},
		Producers: ProducersConfig{Enabled: true, Interval: 15 * time.Second},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the file named by BEACON_CONFIG, or only defaults and
// environment variables when it is unset.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("BEACON_CONFIG"))
}

// LoadFile reads path (if non-empty) and applies overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if env := os.Getenv("BEACON_ENVIRONMENT"); env != "" {
		cfg.Beacon.Environment = beacon.Environment(env)
	}
	cfg.applyEnvironmentOverrides()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Beacon.Environment {
	case beacon.Development:
		overrides = c.Development
	case beacon.Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Endpoint != "" {
		c.Beacon.Endpoint = overrides.Endpoint
	}
	if overrides.BatchSize != 0 {
		c.Beacon.BatchSize = overrides.BatchSize
	}
	if overrides.FlushInterval != 0 {
		c.Beacon.FlushInterval = overrides.FlushInterval
	}
	if overrides.Session != nil {
		if overrides.Session.Store != "" {
			c.Session.Store = overrides.Session.Store
		}
		if overrides.Session.Dir != "" {
			c.Session.Dir = overrides.Session.Dir
		}
		if overrides.Session.Redis.Addr != "" {
			c.Session.Redis = overrides.Session.Redis
		}
	}
	if overrides.Metrics != nil && overrides.Metrics.Listen != "" {
		c.Metrics.Listen = overrides.Metrics.Listen
	}
	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
	if overrides.Producers != nil {
		c.Producers.Enabled = overrides.Producers.Enabled
		if overrides.Producers.Interval != 0 {
			c.Producers.Interval = overrides.Producers.Interval
		}
	}
}

// applyEnvVars applies BEACON_* variables on top of the file values.
func (c *Config) applyEnvVars() error {
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setString("BEACON_ENDPOINT", &c.Beacon.Endpoint)
	setString("BEACON_API_KEY", &c.Beacon.APIKey)
	setString("BEACON_PLATFORM", &c.Beacon.Platform)
	setString("BEACON_SESSION_STORE", &c.Session.Store)
	setString("BEACON_SESSION_DIR", &c.Session.Dir)
	setString("BEACON_REDIS_ADDR", &c.Session.Redis.Addr)
	setString("BEACON_REDIS_PASSWORD", &c.Session.Redis.Password)
	setString("BEACON_METRICS_LISTEN", &c.Metrics.Listen)
	setString("BEACON_LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("BEACON_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BEACON_BATCH_SIZE: %w", err)
		}
		c.Beacon.BatchSize = n
	}
	if v := os.Getenv("BEACON_FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BEACON_FLUSH_INTERVAL: %w", err)
		}
		c.Beacon.FlushInterval = d
	}
	return nil
}

func (c *Config) expandVariables() {
	c.Beacon.Endpoint = expandVars(c.Beacon.Endpoint)
	c.Beacon.APIKey = expandVars(c.Beacon.APIKey)
	c.Session.Dir = expandVars(c.Session.Dir)
	c.Session.Redis.Addr = expandVars(c.Session.Redis.Addr)
	c.Session.Redis.Password = expandVars(c.Session.Redis.Password)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the engine settings and the CLI-specific sections.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Beacon.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Beacon.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}

	switch c.Session.Store {
	case StoreMemory:
	case StoreFile:
	case StoreRedis:
		if c.Session.Redis.Addr == "" {
			errs = append(errs, errors.New("session.redis.addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.store must be one of memory, file, redis; got %q", c.Session.Store))
	}

	if c.Producers.Enabled && c.Producers.Interval <= 0 {
		errs = append(errs, errors.New("producers.interval must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text; got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
