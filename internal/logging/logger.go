// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"floodmon-gateway/internal/config"
)

func New(cfg config.Config, version string, appName string) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg, version, appName)
}

// NewWithWriter is New with an explicit destination. Dev builds get a
// coloured console handler; anything else logs JSON.
func NewWithWriter(w io.Writer, cfg config.Config, version string, appName string) *slog.Logger {
	var h slog.Handler
	if version == "dev" {
		h = tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: "15:04:05.000",
			NoColor:    w != os.Stdout,
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel})
	}

	attrs := []any{"app", appName}
	if version != "dev" {
		attrs = append(attrs, "version", version, "env", cfg.AppEnv)
	}
	if cfg.SerialPort != "" {
		attrs = append(attrs, "device", cfg.SerialPort)
	}
	if cfg.StoreBackend != "" {
		attrs = append(attrs, "store", cfg.StoreBackend)
	}
	return slog.New(h).With(attrs...)
}
