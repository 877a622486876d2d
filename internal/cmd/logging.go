package cmd

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

var logger *slog.Logger

// initLogging builds the process logger from the verbose and log-format
// settings and installs it as the slog default.
func initLogging() {
	logger = newLogger(os.Stderr, viper.GetBool("verbose"), viper.GetString("log-format"))
	slog.SetDefault(logger)
}

func newLogger(w io.Writer, verbose bool, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
