// Package logging configures zerolog for the MediaWiki client and its tools.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelTrace additionally logs every HTTP attempt.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// FromEnv returns the default configuration overridden by LOG_LEVEL and
// LOG_PRETTY.
func FromEnv() Config {
	cfg := DefaultConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = LogLevel(level)
	}
	if pretty, err := strconv.ParseBool(os.Getenv("LOG_PRETTY")); err == nil {
		cfg.Pretty = pretty
	}
	return cfg
}

// Setup configures the global zerolog logger. Component loggers created
// afterwards inherit its output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Trace: Every HTTP attempt sent by the executor
//
// Debug: Detailed information for debugging
//   - Token cache hits, fetches and invalidations
//   - Pagination page failures kept for resume
//   - Store writes
//
// Info: Normal operation events
//   - Login success
//   - Stream connected
//   - Batch pagination start and completion
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and load pauses (maxlag, ratelimited, 429)
//   - Stream reconnects (stall, eof, status)
//   - Non-advancing continuation
//
// Error: Error conditions requiring attention
//   - Requests failing after the retry budget
//   - Subscriptions that gave up reconnecting
//
// Context Fields:
//   - component: mw-client, tokens, ratelimit, pagination, eventstream, store
//   - action: API action of the request
//   - attempt: attempt number within the retry budget
//   - error_class: network, timeout, throttle, invalid_token, semantic, protocol
//   - lag: reported replication lag in seconds
//   - stream, last_event_id: stream consumer position
