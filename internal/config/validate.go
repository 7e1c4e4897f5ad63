package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/ruleng/gifts"
	"github.com/liamcoop/ruleng/internal/logger"
	"github.com/liamcoop/ruleng/rules"
	"github.com/liamcoop/ruleng/rules/celcond"
)

// FieldError is a validation failure of one configuration field.
type FieldError struct {
	// Field is the dotted path of the field, e.g. "server.port"
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found by Validate.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing every invalid field.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateRules(&cfg.Rules)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, FieldError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be a port number between 1 and 65535, got %q", cfg.Port),
		})
	}
	for _, t := range []struct {
		field string
		value time.Duration
	}{
		{"server.read_timeout", cfg.ReadTimeout},
		{"server.write_timeout", cfg.WriteTimeout},
		{"server.idle_timeout", cfg.IdleTimeout},
		{"server.request_timeout", cfg.RequestTimeout},
		{"server.shutdown_timeout", cfg.ShutdownTimeout},
	} {
		if t.value < 0 {
			errs = append(errs, FieldError{Field: t.field, Message: "must not be negative"})
		}
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) []FieldError {
	if cfg.URL != "" && cfg.SQLitePath != "" {
		return []FieldError{{Field: "database", Message: "url and sqlite_path are mutually exclusive"}}
	}
	if cfg.URL == "" {
		return nil
	}
	// lib/pq also accepts key=value connection strings
	if !strings.Contains(cfg.URL, "://") {
		if !strings.Contains(cfg.URL, "=") {
			return []FieldError{{Field: "database.url", Message: "must be a postgres URL or a key=value connection string"}}
		}
		return nil
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return []FieldError{{Field: "database.url", Message: fmt.Sprintf("invalid URL: %v", err)}}
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return []FieldError{{Field: "database.url", Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}}
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) []FieldError {
	var errs []FieldError
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		errs = append(errs, FieldError{Field: "logging.level", Message: err.Error()})
	}
	if cfg.ErrorSampleRate < 1 {
		errs = append(errs, FieldError{Field: "logging.error_sample_rate", Message: "must be at least 1"})
	}
	return errs
}

func validateRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError

	if _, ok := rules.PolicyByName(cfg.Policy); !ok {
		errs = append(errs, FieldError{
			Field:   "rules.policy",
			Message: fmt.Sprintf("must be \"once\" or \"repeat\", got %q", cfg.Policy),
		})
	}
	if cfg.BigGiftAge < 0 {
		errs = append(errs, FieldError{Field: "rules.big_gift_age", Message: "must not be negative"})
	}
	for i, grade := range cfg.BigGiftGrades {
		if grade < 1 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("rules.big_gift_grades[%d]", i),
				Message: fmt.Sprintf("must be positive, got %d", grade),
			})
		}
	}
	if cfg.BigGiftExpression != "" {
		env, err := celcond.NewEnvFromSchema(gifts.Schema)
		if err == nil {
			_, err = celcond.Compile(env, cfg.BigGiftExpression, gifts.Student.Facts)
		}
		if err != nil {
			errs = append(errs, FieldError{Field: "rules.big_gift_expression", Message: err.Error()})
		}
	}
	if cfg.ActionTimeout < 0 {
		errs = append(errs, FieldError{Field: "rules.action_timeout", Message: "must not be negative"})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) []FieldError {
	if !strings.HasPrefix(cfg.Path, "/") {
		return []FieldError{{Field: "metrics.path", Message: fmt.Sprintf("must start with /, got %q", cfg.Path)}}
	}
	if cfg.Path == "/api" || strings.HasPrefix(cfg.Path, "/api/") {
		return []FieldError{{Field: "metrics.path", Message: "must not be under /api"}}
	}
	return nil
}
