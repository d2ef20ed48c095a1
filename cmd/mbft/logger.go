package main

import (
	"log/slog"
	"os"

	"mbft/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "mbft")
	logging.Set(l)
	return l
}
