package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-ingest/cmd/doc-ingest/ui"
)

var cacheDocumentID string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or invalidate cached parse results",
}

var cacheGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the cached result for a document as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		result, ok, err := client.CachedResult(ctx, cacheDocumentID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no cached result for %s", cacheDocumentID)
		}
		return printJSON(result)
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Remove the cached result for a document",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Invalidate(ctx, cacheDocumentID); err != nil {
			return err
		}
		ui.Success("Invalidated cached result for %s", cacheDocumentID)
		return nil
	},
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheDocumentID, "id", "", "document id (required)")
	_ = cacheCmd.MarkPersistentFlagRequired("id")
	cacheCmd.AddCommand(cacheGetCmd, cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
