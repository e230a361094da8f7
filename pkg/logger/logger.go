// Package logger is the store's structured logging facade: one small
// interface with zerolog, zap and slog backends selected by
// configuration. Every log call carries structured fields (entity_id,
// field_type, request_id) rather than formatted strings.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// LogLevel represents the severity of a log entry
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Fields represents structured logging fields
type Fields map[string]any

// Logger is the interface every backend implements.
type Logger interface {
	Debug(msg string, fields ...Fields)
	Info(msg string, fields ...Fields)
	Warn(msg string, fields ...Fields)
	Error(msg string, fields ...Fields)

	WithFields(fields Fields) Logger
	SetLevel(level LogLevel)
	Close() error
}

// LoggerType selects the backend.
type LoggerType string

const (
	ZapLogger     LoggerType = "zap"
	ZerologLogger LoggerType = "zerolog"
	SlogLogger    LoggerType = "slog"
)

// Config holds configuration for the logger
type Config struct {
	Type        LoggerType
	Level       LogLevel
	Output      io.Writer
	Format      string // "json", "text", "console"
	Development bool
	ServiceName string
	Version     string
}

// DefaultConfig returns the configuration a bare store runs with.
func DefaultConfig() Config {
	return Config{
		Type:        ZerologLogger,
		Level:       InfoLevel,
		Output:      os.Stdout,
		Format:      "console",
		Development: true,
		ServiceName: "qcore",
		Version:     "0.1.0",
	}
}

// New creates a logger for the configured backend.
func New(config Config) (Logger, error) {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	switch config.Type {
	case ZapLogger:
		return newZapLogger(config)
	case ZerologLogger, "":
		return newZerologLogger(config)
	case SlogLogger:
		return newSlogLogger(config)
	default:
		return nil, fmt.Errorf("unknown logger type %q", config.Type)
	}
}

// merged flattens variadic field maps into one, later maps winning.
func merged(fields []Fields) Fields {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return fields[0]
	}
	out := make(Fields)
	for _, f := range fields {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}
