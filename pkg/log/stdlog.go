package log

import (
	stdlog "log"
	"log/slog"
)

// ToStdLogger adapts a Logger to a *log.Logger for libraries that require one.
// Every line written through the returned logger is emitted at InfoLevel.
func ToStdLogger(l Logger) *stdlog.Logger {
	base, ok := l.(*BaseLogger)
	if !ok {
		return stdlog.Default()
	}
	return slog.NewLogLogger(base.slogLogger.Handler(), slog.LevelInfo)
}

// RedirectStdLog points the standard library's default logger at l, so that
// dependencies writing through log.Printf (e.g. Pebble) flow through the
// same formatter/output pipeline.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdLogWriter{l: l})
}

type stdLogWriter struct{ l Logger }

func (w stdLogWriter) Write(p []byte) (int, error) {
	msg := string(p)
	for len(msg) > 0 && (msg[len(msg)-1] == '\n' || msg[len(msg)-1] == '\r') {
		msg = msg[:len(msg)-1]
	}
	w.l.Info(msg)
	return len(p), nil
}
