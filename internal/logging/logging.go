package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// SessionLogger writes one JSON log file per orchestration session.
type SessionLogger struct {
	Logger  *slog.Logger
	Close   func() error
	Path    string
	Enabled bool
}

func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewSessionLogger opens <logDir>/<sessionID>.log with a JSON handler at
// Info level, or Debug level when debug is set. On error the returned
// logger discards everything and reports Enabled=false so callers can
// skip expensive attrs.
func NewSessionLogger(logDir, sessionID string, debug bool) (SessionLogger, error) {
	nop := SessionLogger{Logger: Nop(), Close: func() error { return nil }, Enabled: false}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nop, err
	}
	path := filepath.Join(logDir, sessionID+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nop, err
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return SessionLogger{
		Logger:  slog.New(handler).With("session_id", sessionID),
		Close:   file.Close,
		Path:    path,
		Enabled: true,
	}, nil
}
