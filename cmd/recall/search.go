package recall

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the memory graph",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("limit", 0, "Maximum facts (0 uses the configured default)")
	searchCmd.Flags().Int("depth", 0, "Graph traversal depth (0 uses the configured default, -1 disables)")
	searchCmd.Flags().Bool("include-invalidated", false, "Also return invalidated facts")
	searchCmd.Flags().StringSlice("label", nil, "Restrict to episodes with these label IDs")
	addTenantFlags(searchCmd)
	addBackendFlags(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	tenant, err := tenantFromFlags(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	depth, _ := cmd.Flags().GetInt("depth")
	invalidated, _ := cmd.Flags().GetBool("include-invalidated")
	labels, _ := cmd.Flags().GetStringSlice("label")

	_, client, cleanup, err := openClient(cmd, func(cmd *cobra.Command, cfg *config.Config) {
		overrideBackendFlags(cmd, cfg)
	})
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := client.Search(cmd.Context(), tenant, strings.Join(args, " "), search.Options{
		Limit:              limit,
		MaxBFSDepth:        depth,
		IncludeInvalidated: invalidated,
		LabelIDs:           labels,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}
