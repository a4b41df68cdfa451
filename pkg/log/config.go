package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config declaratively describes how to build a process-wide Logger.
type Config struct {
	// Level is one of debug, info, warn, error, fatal (case-insensitive).
	Level string
	// Format is one of "json" or "text".
	Format string
	// FilePath, when non-empty, adds a file output alongside the console output.
	FilePath string
	// RedactKeys lists field keys whose values are replaced with "[REDACTED]".
	RedactKeys []string
	// SampleInitial/SampleThereafter configure repeated-message sampling; zero disables it.
	SampleInitial    int
	SampleThereafter int
}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from a declarative Config.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		return NewLogger(), nil
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		formatter = &JSONFormatter{}
	case "text", "":
		formatter = &TextFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}

	opts := []LoggerOption{WithLevel(level), WithFormatter(formatter), WithOutput(NewConsoleOutput())}
	if cfg.FilePath != "" {
		fo, err := NewFileOutput(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithOutput(fo))
	}

	logger := NewLogger(opts...)
	base, ok := logger.(*BaseLogger)
	if !ok {
		return logger, nil
	}
	if bh, ok := base.slogLogger.Handler().(*bridgeHandler); ok {
		bh = bh.withRedactions(cfg.RedactKeys).withSampler(cfg.SampleInitial, cfg.SampleThereafter)
		base.slogLogger = slog.New(bh)
	}
	return base, nil
}
