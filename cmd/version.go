package cmd

import (
	"fmt"
	"github.com/spf13/cobra"
	"github.com/urun4m0r1/AIGF/aigf"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			aigf.Version,
			aigf.CommitSHA,
			aigf.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
