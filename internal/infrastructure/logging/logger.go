package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
)

// serviceName is attached to every log record.
const serviceName = "devicehub"

// Logger wraps slog.Logger with DeviceHub-specific helpers.
//
// It satisfies the narrow Logger interfaces declared by the device, plugin,
// syncer, store and discovery packages, so one instance (or a Component
// child of it) can be handed to all of them. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from configuration.
//
// Output is "stdout" (default), "stderr" or "discard". Format is "json"
// (default) or "text". Every record carries service and version attributes.
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWriter(outputFor(cfg.Output), cfg, version)
}

// NewWriter is New with an explicit destination; cfg.Output is ignored.
func NewWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	}))}
}

func outputFor(name string) io.Writer {
	switch strings.ToLower(name) {
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	default:
		return os.Stdout
	}
}

// parseLevel maps debug, info, warn/warning and error onto slog levels.
// Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child Logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged component=name. Each subsystem
// gets one in main:
//
//	registry := device.NewRegistry(device.Options{Logger: log.Component("registry")})
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the logger used before configuration is loaded: JSON on stdout
// at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return New(config.LoggingConfig{Output: "discard"}, "test")
}
