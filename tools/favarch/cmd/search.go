package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagDistance int

// searchCmd performs a reverse image search against the archive.
var searchCmd = &cobra.Command{
	Use:   "search <image>",
	Short: "Find archived media similar to an image file.",
	Long: `Fingerprints the given image and lists archived media within the given
Hamming distance, closest first. A distance of 0 finds exact fingerprint
matches only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagDistance < 0 || flagDistance > 64 {
			return fmt.Errorf("distance must be between 0 and 64, got %d", flagDistance)
		}
		matches, err := appClient.SearchFile(args[0], flagDistance)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			console.Warn("No matches within distance %d.", flagDistance)
			return nil
		}
		for _, m := range matches {
			fmt.Printf("%d\t%d\t%s\n", m.Distance, m.ID, mediaStore.Resolve(m.Path))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&flagDistance, "distance", 5, "Maximum Hamming distance for a match (0-64)")
}
