// Package log implements structured logging using slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"flowbridge.dev/flowbridge/internal/config"
)

// Init initializes the global logger based on configuration. mode tags
// every log line the process emits with the flow topology it is running
// ("funnel", "fan", "one_to_one"), so a shared Loki/file sink fed by
// several flow engine instances can still be filtered down to one.
func Init(cfg config.LogConfig, mode config.Mode) error {
	return initWithWriter(cfg, mode, nil)
}

// initWithWriter is Init with the multi-writer's first member overridable,
// so tests can assert on exact log output without scraping stdout or a
// temp file for the outputs that don't otherwise need one.
func initWithWriter(cfg config.LogConfig, mode config.Mode, override io.Writer) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer
	if override != nil {
		writers = append(writers, override)
	}
	for i, output := range cfg.Outputs {
		writer, err := createWriter(output)
		if err != nil {
			return fmt.Errorf("failed to create output[%d] (%s): %w", i, output.Type, err)
		}
		if writer != nil {
			writers = append(writers, writer)
		}
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)

	// AddSource costs a runtime.Caller on every log call, so it only pays
	// for itself while debugging a specific deployment, not in steady-state
	// production logging at info/warn.
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(multiWriter, opts)
	case "text":
		handler = slog.NewTextHandler(multiWriter, opts)
	default:
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	logger := slog.New(handler)
	if mode != "" {
		logger = logger.With("mode", string(mode))
	}
	slog.SetDefault(logger)

	return nil
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createWriter creates an io.Writer for the given output config.
func createWriter(output config.OutputConfig) (io.Writer, error) {
	switch strings.ToLower(output.Type) {
	case "console", "stdout":
		return os.Stdout, nil

	case "file":
		if output.Path == "" {
			return nil, fmt.Errorf("file output requires 'path' field")
		}

		return &lumberjack.Logger{
			Filename:   output.Path,
			MaxSize:    output.MaxSizeMB,
			MaxBackups: output.MaxBackups,
			MaxAge:     output.MaxAgeDays,
			Compress:   output.Compress,
		}, nil

	case "loki":
		if output.Endpoint == "" {
			return nil, fmt.Errorf("loki output requires 'endpoint' field")
		}

		// Create Loki writer
		lokiWriter, err := NewLokiWriter(LokiConfig{
			Endpoint:      output.Endpoint,
			Labels:        output.Labels,
			BatchSize:     output.BatchSize,
			FlushInterval: output.FlushInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create loki writer: %w", err)
		}

		return lokiWriter, nil

	default:
		return nil, fmt.Errorf("unsupported output type: %s", output.Type)
	}
}
