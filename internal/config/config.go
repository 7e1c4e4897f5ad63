// Package config loads the server configuration from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/ruleng/gifts"
	"github.com/liamcoop/ruleng/rules"
)

// Config is the root configuration of the rule server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Rules    RulesConfig    `yaml:"rules"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	// Port to listen on. Default: "8080"
	Port string `yaml:"port"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// RequestTimeout bounds each request, rule evaluation included. Default: 60s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the grant ledger: PostgreSQL when URL is set, a SQLite file
// when SQLitePath is set, memory otherwise.
type DatabaseConfig struct {
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Ledger names the configured ledger backend: "postgres", "sqlite" or "memory".
func (d DatabaseConfig) Ledger() string {
	switch {
	case d.URL != "":
		return "postgres"
	case d.SQLitePath != "":
		return "sqlite"
	default:
		return "memory"
	}
}

// LoggingConfig is passed to logger.Setup.
type LoggingConfig struct {
	Level           string `yaml:"level"`
	ErrorSampleRate int    `yaml:"error_sample_rate"`
	OTELEnabled     bool   `yaml:"otel_enabled"`
	ServiceName     string `yaml:"service_name"`
}

// RulesConfig tunes the distribution rule set.
type RulesConfig struct {
	// Policy is "once" or "repeat". Default: "repeat"
	Policy string `yaml:"policy"`

	BigGiftAge    int   `yaml:"big_gift_age"`
	BigGiftGrades []int `yaml:"big_gift_grades"`

	// BigGiftExpression is a CEL expression over Student. It replaces the age and grade test.
	BigGiftExpression string `yaml:"big_gift_expression"`

	// ActionTimeout bounds each ledger call made by a gift action. Default: 5s
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// IsEnabled reports whether metrics are served. Metrics are on unless disabled explicitly.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Default values.
const (
	DefaultPort            = "8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultRequestTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultLogLevel        = "info"
	DefaultErrorSampleRate = 1
	DefaultServiceName     = "ruleng"

	DefaultRulesPolicy   = "repeat"
	DefaultBigGiftAge    = 11
	DefaultActionTimeout = 5 * time.Second

	DefaultMetricsNamespace = "ruleng"
	DefaultMetricsPath      = "/metrics"
)

// DefaultBigGiftGrades are the grades eligible for the big gift.
var DefaultBigGiftGrades = []int{5, 6}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithEnvOverrides loads path, or the defaults when path is empty, then applies
// RULENG_* environment variables and validates again. DATABASE_URL and PORT are
// honored when their RULENG_ counterparts are unset.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("after environment overrides: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields. It is idempotent.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.ErrorSampleRate == 0 {
		cfg.Logging.ErrorSampleRate = DefaultErrorSampleRate
	}
	if cfg.Logging.ServiceName == "" {
		cfg.Logging.ServiceName = DefaultServiceName
	}

	if cfg.Rules.Policy == "" {
		cfg.Rules.Policy = DefaultRulesPolicy
	}
	if cfg.Rules.BigGiftAge == 0 {
		cfg.Rules.BigGiftAge = DefaultBigGiftAge
	}
	if cfg.Rules.BigGiftGrades == nil {
		cfg.Rules.BigGiftGrades = append([]int(nil), DefaultBigGiftGrades...)
	}
	if cfg.Rules.ActionTimeout == 0 {
		cfg.Rules.ActionTimeout = DefaultActionTimeout
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

func applyEnvOverrides(cfg *Config) {
	if val := firstEnv("RULENG_SERVER_PORT", "PORT"); val != "" {
		cfg.Server.Port = val
	}
	if d, ok := envDuration("RULENG_SERVER_REQUEST_TIMEOUT"); ok {
		cfg.Server.RequestTimeout = d
	}
	if d, ok := envDuration("RULENG_SERVER_SHUTDOWN_TIMEOUT"); ok {
		cfg.Server.ShutdownTimeout = d
	}

	if val := firstEnv("RULENG_DATABASE_URL", "DATABASE_URL"); val != "" {
		cfg.Database.URL = val
	}
	if val := os.Getenv("RULENG_DATABASE_SQLITE_PATH"); val != "" {
		cfg.Database.SQLitePath = val
	}

	if val := firstEnv("RULENG_LOGGING_LEVEL", "LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("RULENG_LOGGING_ERROR_SAMPLE_RATE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Logging.ErrorSampleRate = i
		}
	}
	if val := os.Getenv("RULENG_LOGGING_OTEL_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Logging.OTELEnabled = b
		}
	}

	if val := os.Getenv("RULENG_RULES_POLICY"); val != "" {
		cfg.Rules.Policy = val
	}
	if val := os.Getenv("RULENG_RULES_BIG_GIFT_AGE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Rules.BigGiftAge = i
		}
	}
	if val := os.Getenv("RULENG_RULES_BIG_GIFT_GRADES"); val != "" {
		var grades []int
		for _, part := range strings.Split(val, ",") {
			if i, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				grades = append(grades, i)
			}
		}
		cfg.Rules.BigGiftGrades = grades
	}
	if val := os.Getenv("RULENG_RULES_BIG_GIFT_EXPRESSION"); val != "" {
		cfg.Rules.BigGiftExpression = val
	}

	if val := os.Getenv("RULENG_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = &b
		}
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func envDuration(key string) (time.Duration, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, false
	}
	return d, true
}

// GiftOptions converts the rules section into options for gifts.Register.
func (c *Config) GiftOptions() (gifts.Options, error) {
	policy, ok := rules.PolicyByName(c.Rules.Policy)
	if !ok {
		return gifts.Options{}, fmt.Errorf("unknown rules policy %q", c.Rules.Policy)
	}
	return gifts.Options{
		Policy:        policy,
		BigGiftAge:    c.Rules.BigGiftAge,
		BigGiftGrades: append([]int(nil), c.Rules.BigGiftGrades...),
		BigGiftExpr:   c.Rules.BigGiftExpression,
	}, nil
}
