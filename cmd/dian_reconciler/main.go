// Package main provides the entry point for the DIAN duplicate invoice reconciler.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jonathan/dian-reconciler/internal/config"
	"github.com/jonathan/dian-reconciler/internal/observability"
	"github.com/jonathan/dian-reconciler/internal/portal"
	"github.com/jonathan/dian-reconciler/internal/session"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "dian_reconciler",
		Short:         "DIAN duplicate invoice reconciler",
		Long:          "Finds ledger documents that share a CUFE, compares them with the invoice held by the DIAN portal and deactivates the copies that do not match.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a JSON, YAML or TOML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newReconcileCmd(&configPath),
		newAuthCmd(&configPath),
		newFetchCmd(&configPath),
		newExtractCmd(),
		newTokenCmd(&configPath),
	)
	return root
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level := cfg.Log.Level
	if cfg.App.Debug {
		level = "debug"
	}
	return observability.NewLogger(level, cfg.Log.Format, w)
}

// openSessions builds the portal client and the session store on top of it.
func openSessions(cfg *config.Config, logger zerolog.Logger) (*portal.Client, *session.FileStore, error) {
	client, err := portal.NewClient(cfg.PortalOptions(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create portal client: %w", err)
	}
	store, err := session.NewFileStore(cfg.SessionDir, client, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return client, store, nil
}
