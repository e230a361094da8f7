package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

func newZapLogger(config Config) (*zapLogger, error) {
	var zapConfig zap.Config
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	if config.Format == "console" || config.Format == "text" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	zapConfig.Level = zap.NewAtomicLevelAt(levelToZap(config.Level))
	zapConfig.InitialFields = map[string]any{
		"service": config.ServiceName,
		"version": config.Version,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{logger: logger, level: zapConfig.Level}, nil
}

func levelToZap(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func zapFields(fields []Fields) []zap.Field {
	m := merged(fields)
	out := make([]zap.Field, 0, len(m))
	for k, v := range m {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (z *zapLogger) Debug(msg string, fields ...Fields) { z.logger.Debug(msg, zapFields(fields)...) }
func (z *zapLogger) Info(msg string, fields ...Fields)  { z.logger.Info(msg, zapFields(fields)...) }
func (z *zapLogger) Warn(msg string, fields ...Fields)  { z.logger.Warn(msg, zapFields(fields)...) }
func (z *zapLogger) Error(msg string, fields ...Fields) { z.logger.Error(msg, zapFields(fields)...) }

func (z *zapLogger) WithFields(fields Fields) Logger {
	return &zapLogger{logger: z.logger.With(zapFields([]Fields{fields})...), level: z.level}
}

func (z *zapLogger) SetLevel(level LogLevel) {
	z.level.SetLevel(levelToZap(level))
}

func (z *zapLogger) Close() error {
	// Sync can fail on stdout; callers don't care at shutdown.
	_ = z.logger.Sync()
	return nil
}
