package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rehashCmd backfills perceptual fingerprints.
var rehashCmd = &cobra.Command{
	Use:   "rehash",
	Short: "Compute fingerprints for indexed media that lack one.",
	Long: `Walks the media index and computes the perceptual fingerprint of every
image that has none, such as media imported before hashing existed.
Non-image media is left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		updated, err := appClient.RehashMissing(ctx)
		console.Info("Backfilled %d fingerprints.", updated)
		return err
	},
}
