package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// PostgresConfig holds relational store connection settings.
type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// RedisConfig holds Redis connection settings for the metadata cache.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Enabled  bool   `json:"enabled"`
}

// VectorConfig selects the vector store provider shared by all datasets.
// File-backed providers (lancedb) isolate datasets by path; server-backed
// providers (qdrant, pgvector) isolate by collection name.
type VectorConfig struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
	APIKey   string `json:"api_key"`
	DataDir  string `json:"data_dir"`
}

// GraphConfig selects the graph store provider shared by all datasets.
type GraphConfig struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	DataDir  string `json:"data_dir"`

	// Managed control-plane provider settings (neo4j-aura).
	ControlAPIURL string `json:"control_api_url"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
	ProjectID     string `json:"project_id"`
	CatalogPath   string `json:"catalog_path"`
	EncryptionKey string `json:"encryption_key"`
}

// RetentionConfig controls the scheduled cleanup sweep.
type RetentionConfig struct {
	Enabled       bool   `json:"enabled"`
	CronExpr      string `json:"cron_expr"`
	ThresholdDays int    `json:"threshold_days"`
	DryRun        bool   `json:"dry_run"`
}

// ObservabilityConfig holds logging and tracing settings.
type ObservabilityConfig struct {
	LogFormat    string  `json:"log_format"`
	LogLevel     string  `json:"log_level"`
	TraceEnabled bool    `json:"trace_enabled"`
	TraceURL     string  `json:"trace_url"`
	SampleRate   float64 `json:"sample_rate"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr        string        `json:"http_addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Postgres      PostgresConfig      `json:"postgres"`
	Redis         RedisConfig         `json:"redis"`
	Vector        VectorConfig        `json:"vector"`
	Graph         GraphConfig         `json:"graph"`
	Retention     RetentionConfig     `json:"retention"`
	Observability ObservabilityConfig `json:"observability"`
	Daemon        DaemonConfig        `json:"daemon"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Postgres: PostgresConfig{
			DSN: "postgres://localhost:5432/lorekeep",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Vector: VectorConfig{
			Provider: "lancedb",
			DataDir:  ".lorekeep/vector",
		},
		Graph: GraphConfig{
			Provider:      "kuzu",
			DataDir:       ".lorekeep/graph",
			ControlAPIURL: "https://api.neo4j.io/v1",
		},
		Retention: RetentionConfig{
			CronExpr:      "0 3 * * *",
			ThresholdDays: 30,
			DryRun:        true,
		},
		Observability: ObservabilityConfig{
			LogFormat:  "text",
			LogLevel:   "info",
			SampleRate: 1.0,
		},
		Daemon: DaemonConfig{
			HTTPAddr:        ":8470",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LOREKEEP_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("LOREKEEP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("LOREKEEP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LOREKEEP_VECTOR_PROVIDER"); v != "" {
		cfg.Vector.Provider = v
	}
	if v := os.Getenv("LOREKEEP_VECTOR_URL"); v != "" {
		cfg.Vector.URL = v
	}
	if v := os.Getenv("LOREKEEP_GRAPH_PROVIDER"); v != "" {
		cfg.Graph.Provider = v
	}
	if v := os.Getenv("LOREKEEP_GRAPH_URL"); v != "" {
		cfg.Graph.URL = v
	}
	if v := os.Getenv("LOREKEEP_GRAPH_CLIENT_ID"); v != "" {
		cfg.Graph.ClientID = v
	}
	if v := os.Getenv("LOREKEEP_GRAPH_CLIENT_SECRET"); v != "" {
		cfg.Graph.ClientSecret = v
	}
	if v := os.Getenv("LOREKEEP_GRAPH_PROJECT_ID"); v != "" {
		cfg.Graph.ProjectID = v
	}
	if v := os.Getenv("LOREKEEP_GRAPH_ENCRYPTION_KEY"); v != "" {
		cfg.Graph.EncryptionKey = v
	}
	if v := os.Getenv("LOREKEEP_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("LOREKEEP_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOREKEEP_RETENTION_THRESHOLD_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Retention.ThresholdDays = days
		}
	}
}
