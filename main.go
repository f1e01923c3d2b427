package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

func newLogger(w io.Writer, level string, debug bool) (*slog.Logger, error) {
	lvl := slog.LevelInfo

	switch strings.ToLower(level) {
	case "", "info":
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	if debug {
		lvl = slog.LevelDebug
	}

	handler := slog.HandlerOptions{AddSource: true, Level: lvl}
	return slog.New(handler.NewTextHandler(w)), nil
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "remotepad",
		Short:         "Drive a computer's keyboard and pointer from another device",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().Bool("debug", false, "Log at debug level")
	cmd.AddCommand(serveCmd(), padCmd())

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "remotepad:", err)
		os.Exit(1)
	}
}
