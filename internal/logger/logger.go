package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Type alias for slog.Level for easier usage
type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug // -4
	LevelInfo    = slog.LevelInfo  // 0
	LevelWarning = slog.LevelWarn  // 4
	LevelError   = slog.LevelError // 8
	LevelFatal   = slog.Level(12)  // 12
)

const defaultServiceName = "ruleng"

var (
	Logger          *slog.Logger
	errorSampleRate atomic.Int32
	programLevel    = new(slog.LevelVar)
	shutdownFunc    func(context.Context) error // nil unless OTEL is enabled
)

// Counters exported by the metrics endpoint. They are incremented regardless of sampling.
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total4xxErrors atomic.Int64
	Total5xxErrors atomic.Int64
)

// Options configures Setup.
type Options struct {
	// Level is a level name accepted by ParseLevel
	Level string

	// ErrorSampleRate logs 1 out of every N warnings and errors
	ErrorSampleRate int

	OTELEnabled bool
	ServiceName string

	// Output of the JSON handler, stdout when nil
	Output io.Writer
}

// OptionsFromEnv reads LOG_LEVEL, ERROR_SAMPLE_RATE, OTEL_ENABLED and OTEL_SERVICE_NAME.
func OptionsFromEnv() Options {
	opts := Options{
		Level:           os.Getenv("LOG_LEVEL"),
		ErrorSampleRate: 1,
		OTELEnabled:     strings.ToLower(os.Getenv("OTEL_ENABLED")) == "true",
		ServiceName:     os.Getenv("OTEL_SERVICE_NAME"),
	}
	if rate, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && rate > 0 {
		opts.ErrorSampleRate = rate
	}
	return opts
}

func init() {
	opts := OptionsFromEnv()
	// OTEL needs a context with a lifetime; it is only started by an explicit Setup
	opts.OTELEnabled = false
	if err := Setup(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
	}
}

// Setup replaces the global logger. When OTEL is enabled and its exporter cannot be
// created, Setup falls back to JSON and returns the error.
func Setup(ctx context.Context, opts Options) error {
	level := LevelInfo
	if opts.Level != "" {
		parsed, err := ParseLevel(opts.Level)
		if err == nil {
			level = parsed
		}
	}
	programLevel.Set(level)

	rate := opts.ErrorSampleRate
	if rate <= 0 {
		rate = 1
	}
	errorSampleRate.Store(int32(rate))

	if err := Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to shut down previous OTEL logger: %v\n", err)
	}
	shutdownFunc = nil

	if opts.OTELEnabled {
		serviceName := opts.ServiceName
		if serviceName == "" {
			serviceName = defaultServiceName
		}
		shutdown, err := setupOTELLogging(ctx, serviceName)
		if err == nil {
			shutdownFunc = shutdown
			return nil
		}
		setupJSONLogging(opts.Output)
		return fmt.Errorf("failed to setup OTEL logging, falling back to JSON: %w", err)
	}

	setupJSONLogging(opts.Output)
	return nil
}

// setupJSONLogging configures JSON logging to out
func setupJSONLogging(out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: programLevel,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// setupOTELLogging configures OpenTelemetry logging
func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// OTLP log exporter (gRPC), endpoint from OTEL_EXPORTER_OTLP_* variables
	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	otelHandler := otelslog.NewHandler(
		serviceName,
		otelslog.WithLoggerProvider(loggerProvider),
	)

	Logger = slog.New(&levelHandler{
		level:   programLevel,
		handler: otelHandler,
	})
	slog.SetDefault(Logger)

	return loggerProvider.Shutdown, nil
}

// levelHandler wraps a handler to filter by level
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes and stops the OTEL exporter, if any. Call it during application shutdown.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// SetLevel sets the minimum log level for the logger
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the current minimum log level
func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel converts a level name to slog.Level
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

// shouldSample returns true for 1 out of every N messages
func shouldSample() bool {
	rate := errorSampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Trace logs a trace-level message (never sampled)
func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs a debug-level message (never sampled)
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs an info-level message (never sampled)
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning-level message WITH SAMPLING. The counter is always incremented.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error logs an error-level message WITH SAMPLING. The counter is always incremented.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs a fatal-level message and exits (never sampled)
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

// CountHTTPStatus increments the 4xx/5xx counters for status
func CountHTTPStatus(status int) {
	switch {
	case status >= 500:
		Total5xxErrors.Add(1)
		TotalErrors.Add(1)
	case status >= 400:
		Total4xxErrors.Add(1)
		TotalWarnings.Add(1)
	}
}
