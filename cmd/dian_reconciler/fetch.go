package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/dian-reconciler/internal/bundle"
	"github.com/jonathan/dian-reconciler/internal/observability"
	"github.com/jonathan/dian-reconciler/internal/portal"
	"github.com/jonathan/dian-reconciler/internal/session"
	"github.com/jonathan/dian-reconciler/internal/types"
)

func newFetchCmd(configPath *string) *cobra.Command {
	var (
		credential string
		savePath   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <track-id>",
		Short: "Download and extract one document bundle from the portal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.ProcessRequest{CredentialURL: credentialURL(credential), TrackID: args[0]}
			cred, err := req.Validate()
			if err != nil {
				return err
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			client, store, err := openSessions(cfg, newLogger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			dl, err := fetchWithSession(cmd.Context(), client, store, cred, req.TrackID)
			if err != nil {
				return err
			}

			if savePath != "" {
				if err := os.WriteFile(savePath, dl.Body, 0o644); err != nil {
					return fmt.Errorf("failed to save bundle: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved %d bytes to %s\n", len(dl.Body), savePath)
			}

			b, err := bundle.Extract(dl.Body)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), types.NewFetchDocumentResponse(req.TrackID, len(dl.Body), b, time.Now()))
			}
			observability.NewPrinter(cmd.OutOrStdout()).PrintBundle(req.TrackID, b)
			return nil
		},
	}

	credentialFlag(cmd, &credential)
	cmd.Flags().StringVarP(&savePath, "save", "o", "", "Also write the downloaded ZIP to this path")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the extracted bundle as JSON")
	return cmd
}

// fetchWithSession downloads trackID with the stored session for cred. A
// session the portal rejects is replaced once.
func fetchWithSession(ctx context.Context, client *portal.Client, store *session.FileStore, cred portal.Credential, trackID string) (*portal.Download, error) {
	unlock, err := store.Lock(ctx, cred.Fingerprint())
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		sess, err := store.GetOrCreate(ctx, cred)
		if err != nil {
			return nil, err
		}

		dl, err := client.FetchDocument(ctx, trackID, sess.HTTPCookies())
		if err != nil {
			var fetchErr *portal.FetchError
			if attempt == 0 && errors.As(err, &fetchErr) && fetchErr.Unauthorized() {
				if err := store.Invalidate(sess.Fingerprint); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		if sess.SetHTTPCookies(dl.Cookies) {
			if err := store.Save(sess); err != nil {
				return nil, err
			}
		}
		return dl, nil
	}
}
