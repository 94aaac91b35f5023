package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSink describes an optional rotated log file written alongside stdout.
type FileSink struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type setupOptions struct {
	level  slog.Level
	file   *FileSink
	output io.Writer
}

// Option customises Setup.
type Option func(*setupOptions)

// WithLevel sets the minimum level ("debug", "info", "warn", "error").
func WithLevel(level string) Option {
	return func(o *setupOptions) { o.level = ParseLevel(level) }
}

// WithFile tees output into a lumberjack-rotated file.
func WithFile(sink FileSink) Option {
	return func(o *setupOptions) {
		if strings.TrimSpace(sink.Path) != "" {
			o.file = &sink
		}
	}
}

// WithOutput replaces stdout, mainly for tests.
func WithOutput(w io.Writer) Option {
	return func(o *setupOptions) {
		if w != nil {
			o.output = w
		}
	}
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided. The returned closer
// releases the log file, if any.
func Setup(service, env string, opts ...Option) (*slog.Logger, io.Closer) {
	options := setupOptions{level: slog.LevelInfo, output: os.Stdout}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	out := options.output
	var closer io.Closer = nopCloser{}
	if options.file != nil {
		rotated := &lumberjack.Logger{
			Filename:   options.file.Path,
			MaxSize:    options.file.MaxSizeMB,
			MaxBackups: options.file.MaxBackups,
			MaxAge:     options.file.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotated)
		closer = rotated
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: false,
		Level:     options.level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
