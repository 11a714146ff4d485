// Package config loads settings from flags, REPORTDEDUP_* environment
// variables, an optional YAML file and built-in defaults, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"reportdedup/fetch"
	"reportdedup/matcher"
	"reportdedup/utils"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "REPORTDEDUP"

// Config is the top-level configuration
type Config struct {
	Database string         `mapstructure:"database"`
	LogFile  string         `mapstructure:"log_file"`
	Debug    bool           `mapstructure:"debug"`
	Detector DetectorConfig `mapstructure:"detector"`
	Backbone BackboneConfig `mapstructure:"backbone"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Server   ServerConfig   `mapstructure:"server"`
}

// DetectorConfig controls scoring and batching
type DetectorConfig struct {
	Threshold     float64        `mapstructure:"threshold"`
	BatchSize     int            `mapstructure:"batch_size"`
	MaxConcurrent int            `mapstructure:"max_concurrent"`
	BatchDelay    time.Duration  `mapstructure:"batch_delay"`
	FastPath      FastPathConfig `mapstructure:"fast_path"`
}

// FastPathConfig controls the early-exit sample
type FastPathConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Threshold     float64 `mapstructure:"threshold"`
	MinCandidates int     `mapstructure:"min_candidates"`
	SampleSize    int     `mapstructure:"sample_size"`
}

// BackboneConfig locates the feature network
type BackboneConfig struct {
	Model       string  `mapstructure:"model"`
	Config      string  `mapstructure:"config"`
	Backend     string  `mapstructure:"backend"`
	Target      string  `mapstructure:"target"`
	InputSize   int     `mapstructure:"input_size"`
	OutputLayer string  `mapstructure:"output_layer"`
	Dimension   int     `mapstructure:"dimension"`
	Scale       float64 `mapstructure:"scale"`
	Mean        float64 `mapstructure:"mean"`
	SwapRB      bool    `mapstructure:"swap_rb"`
}

// FetchConfig controls downloads from the image host
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	MaxBytes      int64         `mapstructure:"max_bytes"`
}

// CacheConfig bounds the feature cache; 0 keeps every entry until cleared
type CacheConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
}

// ServerConfig controls the HTTP surface
type ServerConfig struct {
	Listen        string   `mapstructure:"listen"`
	ImageDir      string   `mapstructure:"image_dir"`
	PublicBaseURL string   `mapstructure:"public_base_url"`
	AdminToken    string   `mapstructure:"admin_token"`
	CORSOrigins   []string `mapstructure:"cors_origins"`
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	m := matcher.DefaultConfig()
	f := fetch.DefaultOptions()

	v.SetDefault("database", utils.GetDefaultDatabasePath())
	v.SetDefault("log_file", "")
	v.SetDefault("debug", false)

	v.SetDefault("detector.threshold", m.DefaultThreshold)
	v.SetDefault("detector.batch_size", m.BatchSize)
	v.SetDefault("detector.max_concurrent", m.MaxConcurrent)
	v.SetDefault("detector.batch_delay", m.BatchDelay)
	v.SetDefault("detector.fast_path.enabled", m.FastPath.Enabled)
	v.SetDefault("detector.fast_path.threshold", m.FastPath.Threshold)
	v.SetDefault("detector.fast_path.min_candidates", m.FastPath.MinCandidates)
	v.SetDefault("detector.fast_path.sample_size", m.FastPath.SampleSize)

	v.SetDefault("backbone.model", "")
	v.SetDefault("backbone.config", "")
	v.SetDefault("backbone.backend", "default")
	v.SetDefault("backbone.target", "cpu")
	v.SetDefault("backbone.input_size", 224)
	v.SetDefault("backbone.output_layer", "")
	v.SetDefault("backbone.dimension", 1024)
	v.SetDefault("backbone.scale", 1.0/127.5)
	v.SetDefault("backbone.mean", 127.5)
	v.SetDefault("backbone.swap_rb", true)

	v.SetDefault("fetch.timeout", f.Timeout)
	v.SetDefault("fetch.user_agent", f.UserAgent)
	v.SetDefault("fetch.rate_per_second", f.RatePerSecond)
	v.SetDefault("fetch.burst", f.Burst)
	v.SetDefault("fetch.max_bytes", f.MaxBytes)

	v.SetDefault("cache.max_entries", 0)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.image_dir", "./images")
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.cors_origins", []string{})
}

// SetupEnv maps keys like detector.batch_size to REPORTDEDUP_DETECTOR_BATCH_SIZE
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// LoadFile builds a fresh viper with defaults, env and the optional file at path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return Load(v)
}

// Validate collects every problem rather than stopping at the first
func (c *Config) Validate() []error {
	var errs []error

	if c.Database == "" {
		errs = append(errs, errors.New("config: database must not be empty"))
	}
	if err := c.MatcherConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: detector: %w", err))
	}
	if c.Backbone.InputSize <= 0 {
		errs = append(errs, fmt.Errorf("config: backbone.input_size must be positive, got %d", c.Backbone.InputSize))
	}
	if c.Backbone.Dimension < 0 {
		errs = append(errs, fmt.Errorf("config: backbone.dimension cannot be negative, got %d", c.Backbone.Dimension))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("config: fetch.timeout must be positive, got %v", c.Fetch.Timeout))
	}
	if c.Fetch.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("config: fetch.max_bytes must be positive, got %d", c.Fetch.MaxBytes))
	}
	if c.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("config: cache.max_entries cannot be negative, got %d", c.Cache.MaxEntries))
	}
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("config: server.listen must be host:port, got %q: %w", c.Server.Listen, err))
	}

	return errs
}

// MatcherConfig converts the detector section
func (c *Config) MatcherConfig() matcher.Config {
	return matcher.Config{
		DefaultThreshold: c.Detector.Threshold,
		BatchSize:        c.Detector.BatchSize,
		BatchDelay:       c.Detector.BatchDelay,
		MaxConcurrent:    c.Detector.MaxConcurrent,
		FastPath: matcher.FastPathConfig{
			Enabled:       c.Detector.FastPath.Enabled,
			Threshold:     c.Detector.FastPath.Threshold,
			MinCandidates: c.Detector.FastPath.MinCandidates,
			SampleSize:    c.Detector.FastPath.SampleSize,
		},
	}
}

// FetchOptions converts the fetch section
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:       c.Fetch.Timeout,
		UserAgent:     c.Fetch.UserAgent,
		RatePerSecond: c.Fetch.RatePerSecond,
		Burst:         c.Fetch.Burst,
		MaxBytes:      c.Fetch.MaxBytes,
	}
}
