package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// pathCmd resolves the on-disk location of archived media.
var pathCmd = &cobra.Command{
	Use:   "path <id>",
	Short: "Print the archive path of a submission's media.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid submission id %q", args[0])
		}
		p, err := appClient.MediaPath(id)
		if err != nil {
			return err
		}
		fmt.Println(p)
		return nil
	},
}
