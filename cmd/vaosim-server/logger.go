package main

import (
	"log/slog"

	"github.com/underwatersim/vaosim/internal/config"
	"github.com/underwatersim/vaosim/internal/logging"
)

func setupLogger(cfg *config.AppConfig) *slog.Logger {
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	w := logging.NewWriter(logging.FileSinkOptions{Path: cfg.LogFile})
	l := logging.New(cfg.LogFormat, lvl, w).With("app", "vaosim-server")
	logging.Set(l)
	return l
}
