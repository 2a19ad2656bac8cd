// Package cmd implements the waclaw command line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var configFlag string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waclaw",
		Short: "WhatsApp channel account runtime",
		Long: "waclaw runs WhatsApp bot accounts: pairing, access control with\n" +
			"OTP self-approval, message routing and durable protocol storage.",
	}
	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to config file")
	cmd.AddCommand(runCmd())
	cmd.AddCommand(accountsCmd())
	cmd.AddCommand(qrCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// resolveConfigPath picks the config file: --config flag, then
// WACLAW_CONFIG, then <home>/.waclaw/waclaw.yaml.
func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if env := os.Getenv("WACLAW_CONFIG"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "waclaw.yaml"
	}
	return filepath.Join(home, ".waclaw", "waclaw.yaml")
}

// setupLogging configures the process-wide slog default.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
