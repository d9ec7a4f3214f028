package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build; the default marks dev builds.
var Version = "0.4.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CalShield version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("calshield %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
