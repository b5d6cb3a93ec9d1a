// Package config builds the snaptag configuration from an optional YAML
// file, optional .env files and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names read from the configuration surface.
const (
	EnvRuleName      = "TAG_COMPLIANCE_RULE_NAME"
	EnvCatchAllValue = "CATCH_ALL_TAG_VALUE"

	// DefaultValueSuffix marks "<TagKey>_DefaultValue" entries.
	DefaultValueSuffix = "_DefaultValue"
)

var (
	// ErrMissingRuleName means no compliance rule name was configured.
	ErrMissingRuleName = errors.New(EnvRuleName + " is required")

	// ErrMissingCatchAllValue means no catch-all placeholder was configured.
	ErrMissingCatchAllValue = errors.New(EnvCatchAllValue + " is required")
)

// Config is the root configuration structure.
type Config struct {
	RuleName      string            `yaml:"rule_name"`
	CatchAllValue string            `yaml:"catch_all_value"`
	Defaults      map[string]string `yaml:"defaults"`

	// CatchAllSet records that a catch-all was configured at all. An empty
	// value is a valid placeholder, same as an empty per-key default.
	CatchAllSet bool `yaml:"-"`

	AWS       AWSConfig       `yaml:"aws"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Storage   StorageConfig   `yaml:"storage"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	OTEL      OTELConfig      `yaml:"otel"`
	Log       LogConfig       `yaml:"log"`
}

// AWSConfig holds AWS client settings.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
	// ComplianceMaxAttempts is the retry budget of the AWS Config client,
	// which throttles aggressively on compliance queries.
	ComplianceMaxAttempts int `yaml:"compliance_max_attempts"`
}

// ReconcileConfig holds reconciliation behavior.
type ReconcileConfig struct {
	Workers               int    `yaml:"workers"`
	DryRun                bool   `yaml:"dry_run"`
	LookupErrorsAsMissing bool   `yaml:"lookup_errors_as_missing"`
	PolicyFile            string `yaml:"policy_file"`

	// ReadErrorsAsEmpty treats a failed snapshot tag read as "no tags"
	// instead of deferring the snapshot. Placeholders may then overwrite
	// values the read failed to return.
	ReadErrorsAsEmpty bool `yaml:"read_errors_as_empty"`

	// ExcludeTypes and ExcludePrefixes skip snapshots before the policy runs.
	ExcludeTypes    []string `yaml:"exclude_types"`
	ExcludePrefixes []string `yaml:"exclude_prefixes"`
}

// StorageConfig holds local persistence paths. Empty disables the store.
type StorageConfig struct {
	HistoryDir string `yaml:"history_dir"`
	AuditDir   string `yaml:"audit_dir"`

	// AuditRetention prunes journal files older than this. Empty keeps all.
	AuditRetentionStr string        `yaml:"audit_retention"`
	AuditRetention    time.Duration `yaml:"-"`
}

// DaemonConfig holds scheduled-run settings.
type DaemonConfig struct {
	IntervalStr string        `yaml:"interval"`
	Interval    time.Duration `yaml:"-"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Prometheus exposes metrics for scraping instead of (or as well as) OTLP push.
	Prometheus bool `yaml:"prometheus"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadEnvFiles loads .env files into the process environment.
// Variables already set are not overridden; missing files are an error.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// Load reads the optional YAML file at path, overlays environ
// ("KEY=value" entries, as from os.Environ) and validates the result.
func Load(path string, environ []string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}

		var presence struct {
			CatchAllValue *string `yaml:"catch_all_value"`
		}
		if err := yaml.Unmarshal(data, &presence); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		cfg.CatchAllSet = presence.CatchAllValue != nil
	}

	applyEnviron(cfg, environ)
	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnviron(cfg *Config, environ []string) {
	if cfg.Defaults == nil {
		cfg.Defaults = make(map[string]string)
	}

	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}

		switch {
		case name == EnvRuleName:
			cfg.RuleName = value
		case name == EnvCatchAllValue:
			cfg.CatchAllValue = value
			cfg.CatchAllSet = true
		case strings.HasSuffix(name, DefaultValueSuffix) && len(name) > len(DefaultValueSuffix):
			cfg.Defaults[strings.TrimSuffix(name, DefaultValueSuffix)] = value
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.ComplianceMaxAttempts == 0 {
		cfg.AWS.ComplianceMaxAttempts = 10
	}
	if cfg.Reconcile.Workers == 0 {
		cfg.Reconcile.Workers = 1
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "24h"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":9090"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "snaptag"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Daemon.IntervalStr)
	if err != nil {
		return fmt.Errorf("parse interval %q: %w", cfg.Daemon.IntervalStr, err)
	}
	cfg.Daemon.Interval = d

	if cfg.Storage.AuditRetentionStr != "" {
		r, err := time.ParseDuration(cfg.Storage.AuditRetentionStr)
		if err != nil {
			return fmt.Errorf("parse audit retention %q: %w", cfg.Storage.AuditRetentionStr, err)
		}
		cfg.Storage.AuditRetention = r
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RuleName) == "" {
		return ErrMissingRuleName
	}
	if c.CatchAllValue == "" && !c.CatchAllSet {
		return ErrMissingCatchAllValue
	}
	if c.AWS.ComplianceMaxAttempts < 1 {
		return fmt.Errorf("aws: compliance_max_attempts must be at least 1 (got %d)", c.AWS.ComplianceMaxAttempts)
	}
	if c.Reconcile.Workers < 1 {
		return fmt.Errorf("reconcile: workers must be at least 1 (got %d)", c.Reconcile.Workers)
	}
	if c.Daemon.Interval <= 0 {
		return fmt.Errorf("daemon: interval must be positive (got %s)", c.Daemon.Interval)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}
