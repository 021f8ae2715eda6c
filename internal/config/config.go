package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configVersion = "1"

	defaultConfigName = "requiem.yaml"
	defaultDigits     = 3
	defaultPort       = "8080"

	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
)

// ErrUnsupportedVersion is returned for configuration files written by a
// newer tool.
var ErrUnsupportedVersion = errors.New("unsupported config version")

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	// Root is the requirements directory.
	Root string

	// Digits is the zero-padding width for HRIDs.
	Digits int

	// AllowedKinds restricts the requirement kinds that can be created.
	// Empty means all kinds are allowed.
	AllowedKinds []string

	// AllowUnrecognised skips, rather than rejects, markdown files that are
	// not parseable requirements.
	AllowUnrecognised bool

	// DocsConfig is the path of the documentation build configuration, and
	// DocsOverlay an optional second file merged over it.
	DocsConfig  string
	DocsOverlay string

	// Serve-mode settings.
	Port                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
}

// yamlConfig is the on-disk shadow of Config. Durations are strings so the
// file stays human-editable.
type yamlConfig struct {
	Version              string        `yaml:"_version"`
	Digits               int           `yaml:"digits"`
	AllowedKinds         []string      `yaml:"allowed_kinds"`
	AllowUnrecognised    bool          `yaml:"allow_unrecognised"`
	DocsConfig           string        `yaml:"docs_config"`
	DocsOverlay          string        `yaml:"docs_overlay"`
	Port                 string        `yaml:"port"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Root           string
	Digits         *int
	Port           *string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if root := strings.TrimSpace(os.Getenv("REQUIEM_ROOT")); root != "" {
		cfg.Root = root
	}
	if overrides != nil && overrides.Root != "" {
		cfg.Root = overrides.Root
	}

	// Env sits below the config file: it supplies values the file omits and
	// never overrides ones the file sets.
	applyEnvConfig(&cfg)

	path := ""
	if overrides != nil {
		path = overrides.ConfigFile
	}
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.Root, defaultConfigName)
	}

	yamlCfg, err := loadFromFile(path)
	switch {
	case err == nil:
		applyYAMLConfig(&cfg, yamlCfg)
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// No config file in the root is fine; defaults apply.
	default:
		return Config{}, fmt.Errorf("load YAML config: %w", err)
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Root:                 ".",
		Digits:               defaultDigits,
		DocsConfig:           "docs.yaml",
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if yamlCfg.Version != configVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, yamlCfg.Version)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) {
	if yamlCfg.Digits > 0 {
		cfg.Digits = yamlCfg.Digits
	}
	if len(yamlCfg.AllowedKinds) > 0 {
		cfg.AllowedKinds = yamlCfg.AllowedKinds
	}
	cfg.AllowUnrecognised = yamlCfg.AllowUnrecognised

	if yamlCfg.DocsConfig != "" {
		cfg.DocsConfig = yamlCfg.DocsConfig
	}
	if yamlCfg.DocsOverlay != "" {
		cfg.DocsOverlay = yamlCfg.DocsOverlay
	}

	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}

	for _, entry := range []struct {
		raw string
		dst *time.Duration
	}{
		{yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{yamlCfg.IdleTimeout, &cfg.IdleTimeout},
	} {
		if entry.raw == "" {
			continue
		}
		if d, err := time.ParseDuration(entry.raw); err == nil {
			*entry.dst = d
		}
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.RateLimit.RPS != nil && *yamlCfg.RateLimit.RPS >= 0 {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil && *yamlCfg.RateLimit.Burst >= 0 {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("REQUIEM_PORT")); port != "" {
		cfg.Port = port
	}

	if digits := strings.TrimSpace(os.Getenv("REQUIEM_DIGITS")); digits != "" {
		if value, err := strconv.Atoi(digits); err == nil && value > 0 {
			cfg.Digits = value
		}
	}

	if rps := strings.TrimSpace(os.Getenv("REQUIEM_RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("REQUIEM_RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Digits != nil && *overrides.Digits > 0 {
		cfg.Digits = *overrides.Digits
	}
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}
	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}
	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.Root == "" {
		return fmt.Errorf("root directory must not be empty")
	}
	if cfg.Digits < 1 || cfg.Digits > 9 {
		return fmt.Errorf("digits must be between 1 and 9, got %d", cfg.Digits)
	}
	for _, kind := range cfg.AllowedKinds {
		if strings.TrimSpace(kind) == "" {
			return fmt.Errorf("allowed_kinds must not contain empty entries")
		}
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit rps must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit burst must be >= 0")
	}
	return nil
}
