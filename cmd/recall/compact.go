package recall

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/recall/pkg/compaction"
	"github.com/soundprediction/recall/pkg/config"
)

var compactCmd = &cobra.Command{
	Use:   "compact <session-id>",
	Short: "Summarize a session into a compacted session",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompact,
}

func init() {
	rootCmd.AddCommand(compactCmd)

	compactCmd.Flags().String("start", "", "Window start (RFC3339)")
	compactCmd.Flags().String("end", "", "Window end (RFC3339)")
	addTenantFlags(compactCmd)
	addBackendFlags(compactCmd)
}

func parseTimeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}

func runCompact(cmd *cobra.Command, args []string) error {
	tenant, err := tenantFromFlags(cmd)
	if err != nil {
		return err
	}
	start, err := parseTimeFlag(cmd, "start")
	if err != nil {
		return err
	}
	end, err := parseTimeFlag(cmd, "end")
	if err != nil {
		return err
	}

	_, client, cleanup, err := openClient(cmd, func(cmd *cobra.Command, cfg *config.Config) {
		overrideBackendFlags(cmd, cfg)
	})
	if err != nil {
		return err
	}
	defer cleanup()

	cs, err := client.Compact(cmd.Context(), tenant, args[0], compaction.Window{Start: start, End: end})
	if err != nil {
		return err
	}
	return printJSON(cmd, cs)
}
