package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/dian-reconciler/internal/ledger"
	"github.com/jonathan/dian-reconciler/internal/reconcile"
	"github.com/jonathan/dian-reconciler/internal/server"
	"github.com/jonathan/dian-reconciler/internal/server/ratelimit"
)

func newServeCmd(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Long:  "Start an HTTP server that exposes portal authentication, document downloads and reconciliation runs.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			tolerance, err := cfg.Tolerance()
			if err != nil {
				return err
			}

			logger := newLogger(cfg, cmd.ErrOrStderr())
			if cfg.IsProduction() && !cfg.JWT.Enabled() {
				logger.Warn().Msg("serving in production without bearer authentication; set JWT_SECRET")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := ledger.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			client, store, err := openSessions(cfg, logger)
			if err != nil {
				_ = db.Close()
				return err
			}

			srv, err := server.New(server.Config{
				Addr:               cfg.Addr(),
				CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
				JWT:                cfg.JWT,
				RateLimit:          ratelimit.LoadConfig(),
				Engine:             &reconcile.Options{Tolerance: tolerance},
				Version:            version,
			}, server.Deps{Ledger: db, Sessions: store, Portal: client}, logger)
			if err != nil {
				_ = db.Close()
				return fmt.Errorf("failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on (overrides PORT)")
	return cmd
}
