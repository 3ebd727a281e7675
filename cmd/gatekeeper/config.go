package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"gatekeeper/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.json into the config directory",
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config.json")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return err
	}
	if err := writeJSON(os.Stdout, redact(*cfg)); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(configDir); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

const redacted = "********"

// redact masks credentials; cfg is a copy.
func redact(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.Webhook.Secret)
	mask(&cfg.Provider.Token)
	mask(&cfg.AI.APIKey)
	mask(&cfg.Graph.Neo4jPassword)
	if cfg.Storage.DSN != "" && cfg.Storage.Driver != "sqlite" {
		cfg.Storage.DSN = redacted
	}
	return cfg
}
