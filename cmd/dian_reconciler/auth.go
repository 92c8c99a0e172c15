package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jonathan/dian-reconciler/internal/portal"
	"github.com/jonathan/dian-reconciler/internal/types"
)

func newAuthCmd(configPath *string) *cobra.Command {
	var (
		credential string
		refresh    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate against the portal and store the session",
		Long:  "Run the portal handshake for a credential URL, or reuse the stored session, and print the session id.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := types.AuthRequest{CredentialURL: credentialURL(credential)}
			cred, err := req.Validate()
			if err != nil {
				return err
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			_, store, err := openSessions(cfg, newLogger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			if refresh {
				if err := store.Invalidate(cred.Fingerprint()); err != nil {
					return err
				}
			}

			resp := types.AuthResponse{StatusCode: http.StatusOK}
			sess, err := store.GetOrCreate(cmd.Context(), cred)
			if err != nil {
				var authErr *portal.AuthenticationError
				if !errors.As(err, &authErr) || !jsonOutput {
					return err
				}
				resp.StatusCode = authErr.StatusCode
				resp.Message = authErr.Error()
				if encErr := writeJSON(cmd.OutOrStdout(), resp); encErr != nil {
					return encErr
				}
				return err
			}

			resp.Success = true
			resp.SessionID = sess.Fingerprint
			resp.Message = "Authentication successful"
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session:  %s\n", sess.Fingerprint)
			fmt.Fprintf(cmd.OutOrStdout(), "Cookies:  %d\n", len(sess.Cookies))
			fmt.Fprintf(cmd.OutOrStdout(), "Stored:   %s\n", store.Dir())
			return nil
		},
	}

	credentialFlag(cmd, &credential)
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Discard the stored session and authenticate again")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	return cmd
}
