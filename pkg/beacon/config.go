// config.go defines engine configuration, defaults and validation.

package beacon

import (
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"
)

// Version is the SDK version reported in user agents.
const Version = "0.9.0"

// SDKName prefixes the user agent sent with every request.
const SDKName = "beacon-go"

// Defaults for Config.
const (
	DefaultBatchSize          = 50
	DefaultFlushInterval      = 30 * time.Second
	DefaultSweepInterval      = 5 * time.Minute
	DefaultMaxBufferedRecords = 1000
	DefaultDeliveryTimeout    = 10 * time.Second
	DefaultShutdownGrace      = 2 * time.Second
	DefaultCriticalRate       = 10.0
	DefaultCriticalBurst      = 20
)

// Platform tags understood by the engine and the producer registry.
const (
	PlatformServer = "server"
	PlatformWorker = "worker"
	PlatformCLI    = "cli"
	PlatformAgent  = "agent"
)

// ErrInvalidConfig wraps every configuration error returned by Validate.
var ErrInvalidConfig = errors.New("invalid beacon config")

// Config is the engine configuration. Zero durations and sizes take the
// defaults in DefaultConfig.
type Config struct {
	// Endpoint is the collector base URL. Required by the HTTP transport.
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent as the x-api-key credential. Required.
	APIKey string `yaml:"api_key"`

	Environment Environment `yaml:"environment"`

	// Platform is the platform tag of this process. Required and must be
	// one of the Platform* constants.
	Platform string `yaml:"platform"`

	BatchSize          int           `yaml:"batch_size"`
	FlushInterval      time.Duration `yaml:"flush_interval"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	MaxBufferedRecords int           `yaml:"max_buffered_records"`
	DeliveryTimeout    time.Duration `yaml:"delivery_timeout"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`

	// CriticalRate is the sustained critical-path sends per second;
	// CriticalBurst is the bucket size.
	CriticalRate  float64 `yaml:"critical_rate"`
	CriticalBurst int     `yaml:"critical_burst"`
}

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		Environment:        Production,
		Platform:           PlatformServer,
		BatchSize:          DefaultBatchSize,
		FlushInterval:      DefaultFlushInterval,
		SweepInterval:      DefaultSweepInterval,
		MaxBufferedRecords: DefaultMaxBufferedRecords,
		DeliveryTimeout:    DefaultDeliveryTimeout,
		ShutdownGrace:      DefaultShutdownGrace,
		CriticalRate:       DefaultCriticalRate,
		CriticalBurst:      DefaultCriticalBurst,
	}
}

// WithDefaults returns c with zero values filled from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Environment == "" {
		c.Environment = d.Environment
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.MaxBufferedRecords == 0 {
		c.MaxBufferedRecords = max(d.MaxBufferedRecords, c.BatchSize)
	}
	if c.DeliveryTimeout == 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	if c.CriticalRate == 0 {
		c.CriticalRate = d.CriticalRate
	}
	if c.CriticalBurst == 0 {
		c.CriticalBurst = d.CriticalBurst
	}
	return c
}

// Validate reports the first configuration error, wrapped in
// ErrInvalidConfig. An empty Endpoint is accepted here; the HTTP
// transport requires one.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidConfig)
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: endpoint %q must be an absolute http(s) URL", ErrInvalidConfig, c.Endpoint)
		}
	}
	if !SupportedPlatform(c.Platform) {
		return fmt.Errorf("%w: unsupported platform %q", ErrInvalidConfig, c.Platform)
	}
	switch c.Environment {
	case Development, Production:
	default:
		return fmt.Errorf("%w: unknown environment %q", ErrInvalidConfig, c.Environment)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.MaxBufferedRecords < c.BatchSize {
		return fmt.Errorf("%w: max buffered records (%d) below batch size (%d)", ErrInvalidConfig, c.MaxBufferedRecords, c.BatchSize)
	}
	if c.FlushInterval <= 0 || c.SweepInterval <= 0 || c.DeliveryTimeout <= 0 || c.ShutdownGrace <= 0 {
		return fmt.Errorf("%w: intervals and timeouts must be positive", ErrInvalidConfig)
	}
	if c.CriticalRate <= 0 || c.CriticalBurst <= 0 {
		return fmt.Errorf("%w: critical rate and burst must be positive", ErrInvalidConfig)
	}
	return nil
}

// SupportedPlatform reports whether tag is a known platform tag.
func SupportedPlatform(tag string) bool {
	switch tag {
	case PlatformServer, PlatformWorker, PlatformCLI, PlatformAgent:
		return true
	}
	return false
}

// UserAgent returns the user agent for platform, "<sdk>/<version>/<platform>".
func UserAgent(platform string) string {
	return SDKName + "/" + Version + "/" + platform
}

// sessionUserAgent describes the host runtime for the session record.
func sessionUserAgent(platform string) string {
	return fmt.Sprintf("%s (%s; %s/%s)", UserAgent(platform), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
