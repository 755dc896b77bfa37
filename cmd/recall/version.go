package recall

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundprediction/recall/pkg/server/handlers"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "recall %s (commit %s, built %s, %s)\n",
			handlers.Version, handlers.GitCommit, handlers.BuildTime, handlers.GoVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
