package cmd

import (
	"github.com/spf13/cobra"

	"github.com/codedcells/favarch/tools/favarch/internal/update"
)

// updateCmd represents the update command.
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update favarch to the latest version.",
	Long: `Checks for the latest version of favarch on GitHub and, if a newer
version is found, downloads and installs it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return update.ApplyUpdate(console, version)
	},
}
