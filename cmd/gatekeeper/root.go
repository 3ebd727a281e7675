package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gatekeeper/internal/config"
	"gatekeeper/internal/slogutil"
	"gatekeeper/internal/version"
)

var (
	configDir    string
	verbosity    int
	quiet        bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "gatekeeper - code health gate for pull requests",
	Long: `gatekeeper scores repository files by complexity and churn, tracks
the dependency graph, and runs a layered verdict pipeline on pull requests
before they merge.`,
	Version:      version.Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadDotEnv(".env")
	},
}

func init() {
	rootCmd.SetVersionTemplate("gatekeeper version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", config.DirName, "Configuration directory")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress log output")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", string(FormatHuman), "Output format: human or json")
}

// loadDotEnv applies a .env file to the process environment. Variables
// already set win; a missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes to stderr so stdout stays parseable. Explicit -v/-q flags
// override the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slogutil.LevelFromString(cfg.Logging.Level)
	if verbosity > 0 || quiet {
		level = slogutil.LevelFromVerbosity(verbosity, quiet)
	}
	return slogutil.New(os.Stderr, cfg.Logging.Format, level)
}

func format() (OutputFormat, error) {
	return ParseFormat(outputFormat)
}
