package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/recall"
	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/server"
)

const shutdownTimeout = 30 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Recall HTTP server",
	Long: `Start the Recall HTTP server and the ingestion workers.

The server provides endpoints for:
- Queueing episodes and following their status over a websocket
- Searching the graph and deleting episodes
- Managing spaces and persona synthesis jobs
- Compacting sessions
- Health checks

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServer,
}

var (
	serverHost    string
	serverPort    int
	serverMode    string
	serverWorkers int
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "release", "Server mode (debug, release, test)")
	serverCmd.Flags().IntVar(&serverWorkers, "workers", 4, "Ingestion worker count")

	addBackendFlags(serverCmd)
}

// addBackendFlags registers the database and model flags shared by commands
// that build a client.
func addBackendFlags(cmd *cobra.Command) {
	cmd.Flags().String("db-driver", "neo4j", "Database driver (neo4j, memory)")
	cmd.Flags().String("db-uri", "bolt://localhost:7687", "Database URI")
	cmd.Flags().String("db-username", "neo4j", "Database username")
	cmd.Flags().String("db-password", "", "Database password")
	cmd.Flags().String("db-database", "neo4j", "Database name")

	cmd.Flags().String("llm-model", "gpt-4o-mini", "LLM model")
	cmd.Flags().String("llm-api-key", "", "LLM API key")
	cmd.Flags().String("llm-base-url", "", "LLM base URL")

	cmd.Flags().String("embedding-model", "text-embedding-3-small", "Embedding model")
	cmd.Flags().String("embedding-api-key", "", "Embedding API key")
	cmd.Flags().String("embedding-base-url", "", "Embedding base URL")

	cmd.Flags().String("queue-path", "", "Ingestion queue database path")
	cmd.Flags().String("telemetry-parquet-path", "", "Directory for error telemetry")
}

func overrideBackendFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string, dst *string) {
		if cmd.Flags().Changed(name) {
			*dst, _ = cmd.Flags().GetString(name)
		}
	}
	set("db-driver", &cfg.Database.Driver)
	set("db-uri", &cfg.Database.URI)
	set("db-username", &cfg.Database.Username)
	set("db-password", &cfg.Database.Password)
	set("db-database", &cfg.Database.Database)
	set("llm-model", &cfg.LLM.Model)
	set("llm-api-key", &cfg.LLM.APIKey)
	set("llm-base-url", &cfg.LLM.BaseURL)
	set("embedding-model", &cfg.Embedding.Model)
	set("embedding-api-key", &cfg.Embedding.APIKey)
	set("embedding-base-url", &cfg.Embedding.BaseURL)
	set("queue-path", &cfg.Ingest.QueuePath)
	if cmd.Flags().Changed("telemetry-parquet-path") {
		cfg.Telemetry.ParquetPath, _ = cmd.Flags().GetString("telemetry-parquet-path")
		cfg.Telemetry.Enabled = true
	}
}

func overrideServerFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}
	if cmd.Flags().Changed("workers") {
		cfg.Ingest.Workers = serverWorkers
	}
	overrideBackendFlags(cmd, cfg)
}

// openClient loads configuration, the logger and a client for a command.
func openClient(cmd *cobra.Command, override func(*cobra.Command, *config.Config)) (*config.Config, *recall.Client, func(), error) {
	cfg, err := loadConfig(cmd, override)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closeLogger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	slog.SetDefault(logger)

	client, err := recall.NewFromConfig(cmd.Context(), cfg, logger)
	if err != nil {
		_ = closeLogger()
		return nil, nil, nil, fmt.Errorf("failed to initialize recall: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := client.Close(ctx); err != nil {
			logger.Error("failed to close client", "error", err)
		}
		_ = closeLogger()
	}
	return cfg, client, cleanup, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, client, cleanup, err := openClient(cmd, overrideServerFlags)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.CreateIndices(ctx); err != nil {
		return fmt.Errorf("failed to create indices: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingestion workers: %w", err)
	}

	srv := server.New(cfg, client, nil)
	srv.Setup()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		client.Stop()

		fmt.Fprintln(os.Stderr, "Server stopped gracefully")
		return nil
	}
}
