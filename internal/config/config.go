// Package config loads server and CLI settings from an optional YAML file
// with IRON_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/damacus/iron-objects/internal/services"
)

const (
	DefaultEndpoint     = "s3.amazonaws.com"
	DefaultRegion       = "us-east-1"
	DefaultListenAddr   = ":8080"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultSessionTTL   = 12 * time.Hour
	DefaultMaxSessions  = 1024
	DefaultMaxUpload    = int64(512 << 20)
	DefaultServiceName  = "iron-objects"
	DefaultTraceSampler = 1.0
)

type Config struct {
	S3      S3Config      `yaml:"s3"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

type S3Config struct {
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	// UseSSL defaults from the endpoint when unset.
	UseSSL  *bool `yaml:"use_ssl"`
	Retries int   `yaml:"retries"`
}

type ServerConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	MaxSessions    int           `yaml:"max_sessions"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// StoreConfig names the KV store ironctl keeps its saved connection in.
type StoreConfig struct {
	URL string `yaml:"url"`
}

// DefaultStoreURL is a JSON file under the user config directory, or an
// in-memory store when there is none.
func DefaultStoreURL() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "memory://"
	}
	return "file://" + filepath.Join(dir, "iron-objects", "config.json")
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

func Default() Config {
	return Config{
		S3: S3Config{
			Endpoint: DefaultEndpoint,
			Region:   DefaultRegion,
			Retries:  1,
		},
		Server: ServerConfig{
			ListenAddress:  DefaultListenAddr,
			SessionTTL:     DefaultSessionTTL,
			MaxSessions:    DefaultMaxSessions,
			MaxUploadBytes: DefaultMaxUpload,
		},
		Store: StoreConfig{URL: DefaultStoreURL()},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Tracing: TracingConfig{
			SampleRatio: DefaultTraceSampler,
			ServiceName: DefaultServiceName,
		},
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("IRON_ENDPOINT", &c.S3.Endpoint)
	str("IRON_REGION", &c.S3.Region)
	str("IRON_LISTEN", &c.Server.ListenAddress)
	str("IRON_KV_URL", &c.Store.URL)
	str("IRON_LOG_LEVEL", &c.Log.Level)
	str("IRON_LOG_FORMAT", &c.Log.Format)
	str("IRON_TRACING_ENDPOINT", &c.Tracing.Endpoint)
	str("IRON_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)

	if v, ok := lookup("IRON_USE_SSL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IRON_USE_SSL: %w", err))
		} else {
			c.S3.UseSSL = &b
		}
	}
	if v, ok := lookup("IRON_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IRON_RETRIES: %w", err))
		} else {
			c.S3.Retries = n
		}
	}
	if v, ok := lookup("IRON_SESSION_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IRON_SESSION_TTL: %w", err))
		} else {
			c.Server.SessionTTL = d
		}
	}
	if v, ok := lookup("IRON_TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IRON_TRACING_ENABLED: %w", err))
		} else {
			c.Tracing.Enabled = b
		}
	}
	if v, ok := lookup("IRON_TRACING_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("IRON_TRACING_SAMPLE_RATIO: %w", err))
		} else {
			c.Tracing.SampleRatio = f
		}
	}

	return errors.Join(errs...)
}

// UseSSL resolves the scheme for the configured endpoint.
func (c Config) UseSSL() bool {
	if c.S3.UseSSL != nil {
		return *c.S3.UseSSL
	}
	return services.ShouldUseSSL(c.S3.Endpoint)
}

// BaseCredentials returns the non-secret connection settings.
func (c Config) BaseCredentials() services.Credentials {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(c.S3.Endpoint, "https://"), "http://")
	return services.Credentials{
		Endpoint: endpoint,
		Region:   c.S3.Region,
		UseSSL:   c.UseSSL(),
	}
}

// RetryPolicy returns the client retry policy for S3.Retries attempts.
func (c Config) RetryPolicy() services.RetryPolicy {
	if c.S3.Retries <= 1 {
		return services.NoRetry
	}
	return services.DefaultRetryPolicy(c.S3.Retries)
}

func (c Config) Validate() error {
	var errs []error

	if c.S3.Endpoint == "" {
		errs = append(errs, errors.New("config validation: s3.endpoint is required"))
	}
	if c.S3.Region == "" {
		errs = append(errs, errors.New("config validation: s3.region is required"))
	}
	if c.S3.Retries < 0 || c.S3.Retries > 10 {
		errs = append(errs, fmt.Errorf("config validation: s3.retries must be within [0, 10], got %d", c.S3.Retries))
	}
	if c.Server.ListenAddress == "" {
		errs = append(errs, errors.New("config validation: server.listen_address is required"))
	}
	if c.Server.SessionTTL <= 0 {
		errs = append(errs, errors.New("config validation: server.session_ttl must be > 0"))
	}
	if c.Server.MaxSessions <= 0 {
		errs = append(errs, errors.New("config validation: server.max_sessions must be > 0"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("config validation: server.max_upload_bytes must be > 0"))
	}
	if c.Store.URL == "" {
		errs = append(errs, errors.New("config validation: store.url is required"))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("config validation: log.format must be one of [text json], got %q", c.Log.Format))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config validation: log.level must be one of [debug info warn error], got %q", c.Log.Level))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("config validation: tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio))
	}

	return errors.Join(errs...)
}
