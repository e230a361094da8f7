package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rqure/qcore/pkg/logger"
)

// LoggerConfig selects and tunes the logging backend.
type LoggerConfig struct {
	Type        string `yaml:"type" mapstructure:"type"`     // "zap", "zerolog", "slog"
	Level       string `yaml:"level" mapstructure:"level"`   // "debug", "info", "warn", "error"
	Format      string `yaml:"format" mapstructure:"format"` // "json", "text", "console"
	Development bool   `yaml:"development" mapstructure:"development"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	Version     string `yaml:"version" mapstructure:"version"`
	Output      string `yaml:"output" mapstructure:"output"` // "stdout", "stderr", or file path
}

// Validate validates the logger configuration.
func (l *LoggerConfig) Validate() error {
	switch l.Type {
	case "zap", "zerolog", "slog":
	default:
		return fmt.Errorf("invalid logger type: %s, must be one of: zap, zerolog, slog", l.Type)
	}
	if l.Level != "" {
		switch strings.ToLower(l.Level) {
		case "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("invalid log level: %s", l.Level)
		}
	}
	switch l.Format {
	case "json", "text", "console":
		return nil
	default:
		return fmt.Errorf("invalid log format: %s, must be one of: json, text, console", l.Format)
	}
}

// ToLoggerConfig bridges this section into the logger package's
// Config, filling gaps from the app config (service name, version,
// stage-derived level and development mode).
func (l *LoggerConfig) ToLoggerConfig(appConfig *AppConfig) logger.Config {
	out := logger.Config{
		Type:        logger.LoggerType(strings.ToLower(l.Type)),
		Format:      l.Format,
		Development: l.Development,
		ServiceName: l.ServiceName,
		Version:     l.Version,
		Output:      os.Stdout,
	}

	if out.ServiceName == "" {
		out.ServiceName = appConfig.Name
	}
	if out.Version == "" {
		out.Version = appConfig.Version
	}
	if appConfig.ShouldEnableDevelopmentMode() {
		out.Development = true
	}

	level := l.Level
	if level == "" || (appConfig.Debug && level != "debug") {
		level = appConfig.GetLogLevel()
	}
	out.Level = logger.ParseLogLevel(level)

	switch strings.ToLower(l.Output) {
	case "stderr":
		out.Output = os.Stderr
	case "stdout", "":
		out.Output = os.Stdout
	default:
		if file, err := os.OpenFile(l.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666); err == nil {
			out.Output = file
		}
	}
	return out
}
