package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix viper uses for automatic environment binding.
const EnvPrefix = "RECALL"

// Config holds all configuration for the application
type Config struct {
	Log            LogConfig            `mapstructure:"log"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	LLM            LLMConfig            `mapstructure:"llm"`
	Embedding      EmbeddingConfig      `mapstructure:"embedding"`
	Graph          GraphConfig          `mapstructure:"graph"`
	Search         SearchConfig         `mapstructure:"search"`
	Ingest         IngestConfig         `mapstructure:"ingest"`
	Quota          QuotaConfig          `mapstructure:"quota"`
	Persona        PersonaConfig        `mapstructure:"persona"`
	Compaction     CompactionConfig     `mapstructure:"compaction"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
	Alert          AlertConfig          `mapstructure:"alert"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry"`
}

// AlertConfig holds configuration for alerting
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// RetryConfig controls exponential backoff for LLM and embedding calls.
type RetryConfig struct {
	MaxRetries        int     `mapstructure:"max_retries"`
	InitialDelayMs    int     `mapstructure:"initial_delay_ms"`
	MaxDelayMs        int     `mapstructure:"max_delay_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ParquetPath string `mapstructure:"parquet_path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Mode        string   `mapstructure:"mode"` // gin mode: debug, release, test
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // neo4j, memory
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// LLMConfig configures the completion backend.
type LLMConfig struct {
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
	CacheSize  int64  `mapstructure:"cache_size"` // number of cached vectors
}

// GraphConfig tunes graph write behaviour.
type GraphConfig struct {
	EntityMergeThreshold float64 `mapstructure:"entity_merge_threshold"`
}

// SearchConfig holds retrieval defaults applied when a request leaves a field unset.
type SearchConfig struct {
	Limit            int     `mapstructure:"limit"`
	MaxBFSDepth      int     `mapstructure:"max_bfs_depth"`
	ScoreThreshold   float64 `mapstructure:"score_threshold"`
	MinResults       int     `mapstructure:"min_results"`
	RelaxStep        float64 `mapstructure:"relax_step"`
	SimilarityWeight float64 `mapstructure:"similarity_weight"`
	RecencyWeight    float64 `mapstructure:"recency_weight"`
}

// IngestConfig configures the queue and its workers.
type IngestConfig struct {
	QueuePath        string `mapstructure:"queue_path"`
	Workers          int    `mapstructure:"workers"`
	PollIntervalMs   int    `mapstructure:"poll_interval_ms"`
	MaxChunkChars    int    `mapstructure:"max_chunk_chars"`
	DiffContextChars int    `mapstructure:"diff_context_chars"`
	AlertAfter       int    `mapstructure:"alert_after"` // consecutive graph write failures
}

// QuotaConfig configures the credits ledger.
type QuotaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Path           string `mapstructure:"path"`
	DefaultCredits int64  `mapstructure:"default_credits"`
}

// PersonaConfig tunes analytics and topic clustering.
type PersonaConfig struct {
	TopicThreshold float64 `mapstructure:"topic_threshold"`
	MinTopicSize   int     `mapstructure:"min_topic_size"`
	MaxEpisodes    int     `mapstructure:"max_episodes"`
}

// CompactionConfig configures session rollups.
type CompactionConfig struct {
	MinEpisodes int `mapstructure:"min_episodes"`
}

// Load loads configuration from viper, which the CLI has already pointed at a
// config file and the environment.
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "neo4j":
		if c.Database.URI == "" {
			return fmt.Errorf("database URI is required for neo4j")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if t := c.Graph.EntityMergeThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("graph.entity_merge_threshold must be in (0, 1], got %v", t)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.cors_origins", []string{"*"})

	viper.SetDefault("database.driver", "neo4j")
	viper.SetDefault("database.uri", "bolt://localhost:7687")
	viper.SetDefault("database.username", "neo4j")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.database", "neo4j")

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.max_tokens", 2048)

	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.batch_size", 64)
	viper.SetDefault("embedding.cache_size", 100_000)

	viper.SetDefault("graph.entity_merge_threshold", 0.90)

	viper.SetDefault("search.limit", 20)
	viper.SetDefault("search.max_bfs_depth", 2)
	viper.SetDefault("search.score_threshold", 0.7)
	viper.SetDefault("search.min_results", 10)
	viper.SetDefault("search.relax_step", 0.1)
	viper.SetDefault("search.similarity_weight", 0.8)
	viper.SetDefault("search.recency_weight", 0.2)

	viper.SetDefault("ingest.workers", 4)
	viper.SetDefault("ingest.poll_interval_ms", 500)
	viper.SetDefault("ingest.max_chunk_chars", 4000)
	viper.SetDefault("ingest.diff_context_chars", 200)
	viper.SetDefault("ingest.alert_after", 3)

	viper.SetDefault("quota.enabled", false)
	viper.SetDefault("quota.default_credits", 1000)

	viper.SetDefault("persona.topic_threshold", 0.75)
	viper.SetDefault("persona.min_topic_size", 10)
	viper.SetDefault("persona.max_episodes", 2000)

	viper.SetDefault("compaction.min_episodes", 3)

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.initial_delay_ms", 1000)
	viper.SetDefault("retry.max_delay_ms", 60000)
	viper.SetDefault("retry.backoff_multiplier", 2.0)

	home, err := os.UserHomeDir()
	if err == nil {
		base := filepath.Join(home, ".recall")
		viper.SetDefault("telemetry.parquet_path", filepath.Join(base, "telemetry"))
		viper.SetDefault("ingest.queue_path", filepath.Join(base, "queue.db"))
		viper.SetDefault("quota.path", filepath.Join(base, "credits"))
	}
}

// overrideWithEnv overrides config with well-known environment variables that
// do not follow the RECALL_ prefix.
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" && config.LLM.BaseURL == "" {
		config.LLM.BaseURL = baseURL
	}

	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Database.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Database.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Database.Password = pass
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
	if to := os.Getenv("ALERT_TO"); to != "" {
		config.Alert.To = strings.Split(to, ",")
	}
}
