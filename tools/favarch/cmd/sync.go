package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// syncCmd fills the gaps between the index and the archive.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Archive known submissions whose page or media is missing.",
	Long: `Compares the submission index against the page snapshots and the media
store and archives everything that is missing. Useful after an interrupted
crawl or when restoring a partial archive.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, err := appClient.SyncMissing(ctx)
		if summary != nil {
			console.Info("Sync finished: %d archived, %d abandoned, %d failed",
				summary.Archived, summary.Abandoned, summary.Failed)
		}
		return err
	},
}
