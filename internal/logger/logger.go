package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with application-specific methods
type Logger struct {
	zerolog.Logger
}

// New creates a new Logger instance writing to stdout
func New(level string, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a Logger writing to w
func NewWithWriter(w io.Writer, level string, format string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger

	if format == "text" || format == "console" {
		// Human-readable output for development
		output := zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
		logger = zerolog.New(output).Level(lvl).With().Timestamp().Logger()
	} else {
		// JSON output for production
		logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	}

	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithRequestID returns a new logger with the request ID attached
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With().Str("request_id", requestID).Logger(),
	}
}

// WithRunID returns a new logger with the run ID attached
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{
		Logger: l.With().Str("run_id", runID).Logger(),
	}
}

// WithComponent returns a new logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With().Str("component", component).Logger(),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, statusCode int, duration time.Duration, clientIP string) {
	l.Info().
		Str("method", method).
		Str("path", path).
		Int("status", statusCode).
		Dur("duration", duration).
		Str("client_ip", clientIP).
		Msg("HTTP request")
}

// BatchResult logs the outcome of one batch send
func (l *Logger) BatchResult(index, total, addresses int, succeeded bool, statusCode int, detail string) {
	event := l.Info()
	if !succeeded {
		event = l.Warn()
	}
	event = event.
		Int("batch", index).
		Int("total_batches", total).
		Int("addresses", addresses).
		Bool("succeeded", succeeded)

	if statusCode != 0 {
		event = event.Int("status", statusCode)
	}
	if detail != "" {
		event = event.Str("detail", detail)
	}

	event.Msg("batch sent")
}

// RunFinished logs the terminal state of a run
func (l *Logger) RunFinished(state string, attempted, succeeded, failed int, reason string) {
	event := l.Info().
		Str("state", state).
		Int("attempted", attempted).
		Int("succeeded", succeeded).
		Int("failed", failed)

	if reason != "" {
		event = event.Str("reason", reason)
	}

	event.Msg("run finished")
}
