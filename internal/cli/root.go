package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/KafClaw/cadence/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/cadence/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"                  _\n" +
		"   ___ __ _  __| | ___ _ __   ___ ___\n" +
		"  / __/ _` |/ _` |/ _ \\ '_ \\ / __/ _ \\\n" +
		" | (_| (_| | (_| |  __/ | | | (_|  __/\n" +
		"  \\___\\__,_|\\__,_|\\___|_| |_|\\___\\___|\n"
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "cadence - reactive reply scheduler for bus-attached agents",
	Long:  color.CyanString(logo) + "\nDecides when an agent speaks: on inbound messages, on a cadence, or both.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(onboardCmd)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

// setupLogging installs the default slog logger described by cfg.
func setupLogging(cfg config.LogConfig, w io.Writer) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}
