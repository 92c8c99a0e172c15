package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/dian-reconciler/internal/ledger"
	"github.com/jonathan/dian-reconciler/internal/observability"
	"github.com/jonathan/dian-reconciler/internal/reconcile"
	"github.com/jonathan/dian-reconciler/internal/types"
)

// credentialEnv is read when --credential-url is not given.
const credentialEnv = "DIAN_CREDENTIAL_URL"

func credentialFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "credential-url", "", "Portal access URL carrying pk and token (default $"+credentialEnv+")")
}

func credentialURL(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(credentialEnv)
}

func newReconcileCmd(configPath *string) *cobra.Command {
	var (
		req        types.ReconcileRequest
		credential string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile duplicate documents for one owner and date window",
		Long: `Find active ledger documents of an owner that share a CUFE within the window,
fetch the invoice held by the portal for each group, keep the first document
whose amounts match and deactivate the rest.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.CredentialURL = credentialURL(credential)
			params, err := req.Validate()
			if err != nil {
				return err
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			tolerance, err := cfg.Tolerance()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			ctx := cmd.Context()
			db, err := ledger.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer func() { _ = db.Close() }()

			client, store, err := openSessions(cfg, logger)
			if err != nil {
				return err
			}

			engine := reconcile.NewEngine(db, store, client, &reconcile.Options{Tolerance: tolerance}, logger)
			report, runErr := engine.Reconcile(ctx, reconcile.Request{
				Owner:      params.Owner,
				From:       params.From,
				To:         params.To,
				Credential: params.Credential,
				Limit:      params.Limit,
			})
			if report == nil {
				return runErr
			}

			if err := writeReport(cmd.OutOrStdout(), report, jsonOutput); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("reconciliation stopped: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Identification, "identification", "", "Owner tax id (NIT) whose documents are reconciled")
	cmd.Flags().StringVar(&req.FromDate, "from", "", "First day of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.ToDate, "to", "", "Last day of the window (YYYY-MM-DD)")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "Only scan the first N candidate documents (test mode)")
	credentialFlag(cmd, &credential)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full report as JSON")

	_ = cmd.MarkFlagRequired("identification")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func writeReport(w io.Writer, report *reconcile.Report, jsonOutput bool) error {
	if !jsonOutput {
		observability.NewPrinter(w).PrintReport(report)
		return nil
	}
	return writeJSON(w, types.NewReconcileResponse(report))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
