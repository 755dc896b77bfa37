package recall

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Queue an episode and process it",
	Long: `Queue an episode read from a file (or stdin when the file is "-") and, with
--wait, process the queue in this process until the item finishes.

Documents are versioned by --session: ingesting a changed document under the
same session only reprocesses the changed chunks.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().String("source", "cli", "Episode source")
	ingestCmd.Flags().String("type", "CONVERSATION", "Episode type (CONVERSATION, DOCUMENT, IMAGE)")
	ingestCmd.Flags().String("session", "", "Session ID")
	ingestCmd.Flags().String("title", "", "Document title")
	ingestCmd.Flags().StringSlice("label", nil, "Label IDs")
	ingestCmd.Flags().Bool("wait", true, "Process the item before exiting")
	addTenantFlags(ingestCmd)
	addBackendFlags(ingestCmd)
}

func readEpisode(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read episode: %w", err)
	}
	return string(b), nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	tenant, err := tenantFromFlags(cmd)
	if err != nil {
		return err
	}
	body, err := readEpisode(args[0])
	if err != nil {
		return err
	}
	kindFlag, _ := cmd.Flags().GetString("type")
	kind, ok := types.ParseEpisodeType(kindFlag)
	if !ok {
		return fmt.Errorf("unknown episode type %q", kindFlag)
	}
	source, _ := cmd.Flags().GetString("source")
	session, _ := cmd.Flags().GetString("session")
	title, _ := cmd.Flags().GetString("title")
	labels, _ := cmd.Flags().GetStringSlice("label")
	wait, _ := cmd.Flags().GetBool("wait")

	_, client, cleanup, err := openClient(cmd, func(cmd *cobra.Command, cfg *config.Config) {
		overrideBackendFlags(cmd, cfg)
	})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	item, err := client.Ingest(ctx, tenant, ingest.Input{
		EpisodeBody:   body,
		Source:        source,
		ReferenceTime: time.Now().UTC(),
		Type:          kind,
		SessionID:     session,
		LabelIDs:      labels,
		Title:         title,
	}, "")
	if err != nil {
		return err
	}

	if wait {
		for !item.Status.Terminal() {
			n, err := client.Orchestrator().RunOnce(ctx)
			if err != nil {
				return err
			}
			if item, err = client.GetIngestItem(ctx, tenant, item.ID); err != nil {
				return err
			}
			if n == 0 && !item.Status.Terminal() {
				return errors.New("queue drained before the item finished")
			}
		}
	}
	return printJSON(cmd, item)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
