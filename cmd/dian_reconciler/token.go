package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/dian-reconciler/internal/config"
	"github.com/jonathan/dian-reconciler/internal/server"
)

func newTokenCmd(configPath *string) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the REST API",
		Long:  "Sign a token with JWT_SECRET that the server accepts while bearer auth is enabled.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jwtConfig, err := tokenConfig(*configPath)
			if err != nil {
				return err
			}
			token, err := server.NewJWTService(jwtConfig).GenerateToken(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "Subject claim identifying the API client")
	return cmd
}

// tokenConfig reads the signing settings from the environment, or from the
// config file when one is given.
func tokenConfig(configPath string) (*config.JWTConfig, error) {
	if configPath == "" {
		return config.NewJWTConfig()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if !cfg.JWT.Enabled() {
		return nil, fmt.Errorf("JWT_SECRET is required but not set")
	}
	return &cfg.JWT, nil
}
