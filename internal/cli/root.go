// Package cli implements the command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/bql/internal/config"
	"github.com/aidanlsb/bql/internal/logging"
	"github.com/aidanlsb/bql/internal/ui"
)

var (
	// Global flags
	configPath   string
	logLevelFlag string

	// Resolved values
	resolvedConfigPath string
	cfg                *config.Config
	logger             = logging.Discard()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bql",
	Short: "bql - parse, format, compile and manage BQL queries",
	Long: `bql works with BQL, a small boolean query language:

  lname = "Doe" & dob > 1970-01-01
  status !in (active, pending) | "Seniors"

Queries can reference saved named queries, which bql keeps consistent
when one of them is renamed or deleted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		switch cmd.Name() {
		case "version", "help", "completion", "init", "path":
			return nil
		}

		loaded, path, err := loadGlobalConfigWithPath()
		if err != nil {
			return handleError(ErrConfigInvalid, err, "Fix the config file or pass --config")
		}
		cfg, resolvedConfigPath = loaded, path

		level := cfg.LogLevel
		if logLevelFlag != "" {
			level = logLevelFlag
		}
		l, err := logging.New(level, cfg.LogFormat, os.Stderr)
		if err != nil {
			return handleError(ErrConfigInvalid, err, "Use --log-level debug, info, warn or error")
		}
		logger = l

		ui.ConfigureTheme(cfg.UI.Accent)
		ui.ConfigureMarkdownCodeTheme(cfg.UI.CodeTheme)
		return nil
	},
}

// Execute runs the CLI. Interrupts cancel the command context so a library
// cascade stops between writes.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil || errors.Is(err, errReported) {
		return err
	}
	if jsonOutput {
		outputError(ErrInvalidInput, err.Error(), nil, "Run 'bql help' for usage")
		return err
	}
	fmt.Fprintln(os.Stderr, ui.Error(err.Error()))
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format (for agent/script use)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error (overrides log_level in config)")
}

// getConfig returns the loaded config.
func getConfig() *config.Config {
	if cfg == nil {
		return &config.Config{}
	}
	return cfg
}

func getLogger() *slog.Logger {
	return logging.Default(logger)
}

// loadGlobalConfigWithPath loads the config at --config or the default
// location. A missing file yields the defaults.
func loadGlobalConfigWithPath() (*config.Config, string, error) {
	resolvedPath := config.ResolveConfigPath(configPath)
	loadedCfg, err := config.LoadOrDefault(resolvedPath)
	if err != nil {
		return nil, "", err
	}
	return loadedCfg, resolvedPath, nil
}
