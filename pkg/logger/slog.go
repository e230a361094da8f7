package logger

import (
	"context"
	"log/slog"
)

type slogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

func newSlogLogger(config Config) (*slogLogger, error) {
	level := new(slog.LevelVar)
	level.Set(levelToSlog(config.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", config.ServiceName),
		slog.String("version", config.Version),
	)
	return &slogLogger{logger: logger, level: level}, nil
}

func levelToSlog(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func slogAttrs(fields []Fields) []any {
	m := merged(fields)
	out := make([]any, 0, len(m))
	for k, v := range m {
		out = append(out, slog.Any(k, v))
	}
	return out
}

func (s *slogLogger) Debug(msg string, fields ...Fields) {
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, toAttrs(fields)...)
}

func (s *slogLogger) Info(msg string, fields ...Fields) {
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, toAttrs(fields)...)
}

func (s *slogLogger) Warn(msg string, fields ...Fields) {
	s.logger.LogAttrs(context.Background(), slog.LevelWarn, msg, toAttrs(fields)...)
}

func (s *slogLogger) Error(msg string, fields ...Fields) {
	s.logger.LogAttrs(context.Background(), slog.LevelError, msg, toAttrs(fields)...)
}

func toAttrs(fields []Fields) []slog.Attr {
	m := merged(fields)
	out := make([]slog.Attr, 0, len(m))
	for k, v := range m {
		out = append(out, slog.Any(k, v))
	}
	return out
}

func (s *slogLogger) WithFields(fields Fields) Logger {
	return &slogLogger{logger: s.logger.With(slogAttrs([]Fields{fields})...), level: s.level}
}

func (s *slogLogger) SetLevel(level LogLevel) {
	s.level.Set(levelToSlog(level))
}

func (s *slogLogger) Close() error { return nil }
