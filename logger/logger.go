package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatECS     = "ecs"
	FormatConsole = "console"
)

/*
LogConfiguration describes the logger to be created by New.

Zero value creates debug level text logger writing into stderr.
*/
type LogConfiguration struct {
	// debug, info, warn, error
	Level string `yaml:"defaultLevel"`
	// text, json, ecs or console
	Format string `yaml:"format"`
	// "stdout", "stderr", "discard" or file name
	OutputPath string `yaml:"outputPath"`
	// Go time format string, "none" to omit time from the output.
	TimeFormat string `yaml:"timeFormat"`
	// "short" or "none", full peer ID is logged by default.
	PeerIDFormat string `yaml:"peerIdFormat"`
	// Include source file and line of the logging call.
	ShowSource bool `yaml:"showSource"`

	writer io.Writer
}

// New creates logger based on configuration.
func New(cfg *LogConfiguration) (*slog.Logger, error) {
	h, err := cfg.Handler()
	if err != nil {
		return nil, fmt.Errorf("creating log handler: %w", err)
	}
	return slog.New(h), nil
}

// Handler returns slog handler described by the configuration.
func (cfg *LogConfiguration) Handler() (slog.Handler, error) {
	out, err := cfg.output()
	if err != nil {
		return nil, err
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		AddSource:   cfg.ShowSource,
		Level:       level,
	}
	common := []attrFormatter{timeFormatter(cfg.TimeFormat), identityFormatter(cfg.PeerIDFormat)}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", FormatText:
		opts.ReplaceAttr = chainFormatters(append(common, dataAsJSON)...)
		h = slog.NewTextHandler(out, opts)
	case FormatJSON:
		opts.ReplaceAttr = chainFormatters(common...)
		h = slog.NewJSONHandler(out, opts)
	case FormatECS:
		opts.ReplaceAttr = chainFormatters(append(common, ecsAttrs)...)
		h = slog.NewJSONHandler(out, opts)
	case FormatConsole:
		opts.ReplaceAttr = chainFormatters(append(common, consoleAttrs)...)
		h = slog.NewTextHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return &traceHandler{Handler: h}, nil
}

// SetWriter overrides OutputPath with "w".
func (cfg *LogConfiguration) SetWriter(w io.Writer) {
	cfg.writer = w
}

func (cfg *LogConfiguration) output() (io.Writer, error) {
	if cfg.writer != nil {
		return cfg.writer, nil
	}
	switch strings.ToLower(cfg.OutputPath) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard":
		return io.Discard, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0700); err != nil {
		return nil, fmt.Errorf("creating log file directory: %w", err)
	}
	f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

/*
traceHandler adds OTEL trace and span ID to the record when the context of
the logging call carries a valid span.
*/
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String(traceID, sc.TraceID().String()),
			slog.String(spanID, sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}
