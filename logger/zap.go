package logger

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogFunc returns a LogFunc that forwards entries to a zap logger.
// Trace entries are written at zap's debug level.
func NewZapLogFunc(l *zap.Logger) LogFunc {
	return func(payload LogPayload) {
		zl := zapLevel(payload.Level)
		if !l.Core().Enabled(zl) {
			return
		}

		keys := make([]string, 0, len(payload.Fields))
		for k := range payload.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]zap.Field, 0, len(keys)+2)
		for _, k := range keys {
			fields = append(fields, zap.Any(k, payload.Fields[k]))
		}

		if payload.Level == TraceLevel {
			fields = append(fields, zap.Bool("trace", true))
		}

		if payload.Error != nil {
			fields = append(fields, zap.Error(payload.Error))
		}

		if ce := l.Check(zl, payload.Message); ce != nil {
			ce.Write(fields...)
		}
	}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case ErrorLevel:
		return zapcore.ErrorLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case InfoLevel:
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}
