// Package recall implements the recall command line.
package recall

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundprediction/recall/pkg/config"
	"github.com/soundprediction/recall/pkg/logger"
	"github.com/soundprediction/recall/pkg/telemetry"
	"github.com/soundprediction/recall/pkg/types"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "recall",
		Short: "Recall: temporal memory graph for conversations and documents",
		Long: `Recall turns conversations and documents into a temporal knowledge graph of
subject-predicate-object statements, invalidates facts that newer episodes
contradict, and answers hybrid semantic and graph searches over it.`,
		SilenceUsage: true,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.recall.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in .env, the config file and RECALL_ environment variables.
func initConfig() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".recall")
	}

	viper.SetEnvPrefix("RECALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig loads configuration and applies overrides from flags.
func loadConfig(cmd *cobra.Command, override func(*cobra.Command, *config.Config)) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if override != nil {
		override(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// newLogger builds the process logger. With telemetry enabled, warnings and
// errors are also recorded to Parquet; the returned closer flushes them.
func newLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	var handler slog.Handler
	switch cfg.Log.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		handler = logger.NewColorHandler(os.Stderr, &logger.Options{Level: level})
	}

	if !cfg.Telemetry.Enabled || cfg.Telemetry.ParquetPath == "" {
		return slog.New(handler), func() error { return nil }, nil
	}
	if err := os.MkdirAll(cfg.Telemetry.ParquetPath, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	parquetHandler, err := telemetry.NewParquetHandler(handler, cfg.Telemetry.ParquetPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return slog.New(parquetHandler), parquetHandler.Close, nil
}

// addTenantFlags registers --user and --workspace on cmd.
func addTenantFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", os.Getenv("RECALL_USER_ID"), "user ID")
	cmd.Flags().String("workspace", os.Getenv("RECALL_WORKSPACE_ID"), "workspace ID")
}

func tenantFromFlags(cmd *cobra.Command) (types.Tenant, error) {
	user, _ := cmd.Flags().GetString("user")
	workspace, _ := cmd.Flags().GetString("workspace")
	tenant := types.Tenant{UserID: user, WorkspaceID: workspace}
	if err := tenant.Validate(); err != nil {
		return tenant, fmt.Errorf("--user and --workspace are required: %w", err)
	}
	return tenant, nil
}
