package log

import (
	"context"
	"fmt"
	"os"
)

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	all := make([]Field, 0, len(l.fields)+len(fields))
	for k, v := range l.fields {
		all = append(all, Field{Key: k, Value: v})
	}
	all = append(all, fields...)
	attrs := attrsFromFieldSlice(all)
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, attrs...)
}

func (l *BaseLogger) logf(level Level, format string, args []interface{}) {
	l.log(level, fmt.Sprintf(format, args...), nil)
}

// Debug logs at DebugLevel with structured fields.
func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }

// Info logs at InfoLevel with structured fields.
func (l *BaseLogger) Info(msg string, fields ...Field) { l.log(InfoLevel, msg, fields) }

// Warn logs at WarnLevel with structured fields.
func (l *BaseLogger) Warn(msg string, fields ...Field) { l.log(WarnLevel, msg, fields) }

// Error logs at ErrorLevel with structured fields.
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// Fatal logs at FatalLevel with structured fields, then exits the process.
func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	os.Exit(1)
}

// Debugf logs a printf-style message at DebugLevel.
func (l *BaseLogger) Debugf(msg string, args ...interface{}) { l.logf(DebugLevel, msg, args) }

// Infof logs a printf-style message at InfoLevel.
func (l *BaseLogger) Infof(msg string, args ...interface{}) { l.logf(InfoLevel, msg, args) }

// Warnf logs a printf-style message at WarnLevel.
func (l *BaseLogger) Warnf(msg string, args ...interface{}) { l.logf(WarnLevel, msg, args) }

// Errorf logs a printf-style message at ErrorLevel.
func (l *BaseLogger) Errorf(msg string, args ...interface{}) { l.logf(ErrorLevel, msg, args) }

// Fatalf logs a printf-style message at FatalLevel, then exits the process.
func (l *BaseLogger) Fatalf(msg string, args ...interface{}) {
	l.logf(FatalLevel, msg, args)
	os.Exit(1)
}

func (l *BaseLogger) clone() *BaseLogger {
	nf := make(Fields, len(l.fields))
	for k, v := range l.fields {
		nf[k] = v
	}
	nl := &BaseLogger{
		level:     l.level,
		fields:    nf,
		formatter: l.formatter,
		outputs:   l.outputs,
	}
	nl.slogLogger = nil
	return nl
}

// WithField returns a derived Logger carrying an additional key/value pair.
func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	nl := l.clone()
	nl.fields[key] = value
	nl.slogLogger = l.slogLogger.With(key, value)
	return nl
}

// WithFields returns a derived Logger carrying the provided fields.
func (l *BaseLogger) WithFields(fields Fields) Logger {
	nl := l.clone()
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		nl.fields[k] = v
		args = append(args, k, v)
	}
	nl.slogLogger = l.slogLogger.With(args...)
	return nl
}

// WithError returns a derived Logger carrying the error under the "error" key.
func (l *BaseLogger) WithError(err error) Logger {
	return l.With(Err(err))
}

// With returns a derived Logger carrying the provided structured fields.
func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	nl := l.clone()
	args := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		nl.fields[f.Key] = f.Value
		args = append(args, f.Key, f.Value)
	}
	nl.slogLogger = l.slogLogger.With(args...)
	return nl
}

// WithContext extracts known context fields (request/trace/span ids) and attaches them.
func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	fields := ContextExtractor(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields)
}

// WithComponent tags the derived Logger with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

// SetLevel sets the minimum level logged by this Logger.
func (l *BaseLogger) SetLevel(level Level) { l.level = level }

// GetLevel returns the current minimum level.
func (l *BaseLogger) GetLevel() Level { return l.level }
