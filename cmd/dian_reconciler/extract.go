package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/dian-reconciler/internal/bundle"
	"github.com/jonathan/dian-reconciler/internal/observability"
)

func newExtractCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "extract <bundle.zip>",
		Short: "Extract invoice fields from a local document bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read bundle: %w", err)
			}
			b, err := bundle.Extract(data)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), b)
			}
			observability.NewPrinter(cmd.OutOrStdout()).PrintBundle("", b)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the extracted bundle as JSON")
	return cmd
}
