package wscore

import (
	"io"
	"log/slog"
	"os"
)

// LogLevel mirrors slog.Level's values so a Config.LogLevel converts without
// a lookup table (§10.1).
type LogLevel int

const (
	LogLevelDebug LogLevel = -4
	LogLevelInfo  LogLevel = 0
	LogLevelWarn  LogLevel = 4
	LogLevelError LogLevel = 8
)

// LogFormat selects the slog handler backing a Logger.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// NewLogger builds a *slog.Logger per Config.LogLevel/LogFormat, writing to
// w (os.Stdout if nil). Every log line carries a "component":"wscore" field
// so engine/registry/upgrade logs are easy to filter out of an embedding
// application's own logs.
func NewLogger(level LogLevel, format LogFormat, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: slog.Level(level)}

	var handler slog.Handler
	if format == LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("component", "wscore")
}
