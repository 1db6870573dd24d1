// Package config assembles Clarium's runtime configuration from defaults,
// an optional .env file, and environment variables — the same two-step
// DefaultConfig()+loadFromEnv(cfg) idiom the reference server uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the top-level configuration object, one sub-struct per
// concern, mirroring how the reference server groups Server/Database/
// Qdrant/... into one Config.
type Config struct {
	Storage   StorageConfig
	Vector    VectorConfig
	Graph     GraphConfig
	Filestore FilestoreConfig
	Logging   LoggingConfig
	Server    ServerConfig
}

// StorageConfig locates the on-disk root and session defaults (spec §3,
// §6 "storage root, default session db/schema").
type StorageConfig struct {
	Root            string
	DefaultDatabase string
	DefaultSchema   string
	CompressChunks  bool
}

// VectorConfig carries the ANN feature flag and default HNSW tuning used
// when a CREATE INDEX statement omits params (spec §4.2, §6).
type VectorConfig struct {
	ANNEnabled       bool
	DefaultM         int
	DefaultEfBuild   int
	DefaultEfSearch  int
	PreselectAlpha   float64
}

// GraphConfig carries the GC/compaction thresholds named verbatim in
// spec §6 as CLARIUM_GRAPH_* environment variables.
type GraphConfig struct {
	GCMaxDeltaRecords     int
	GCTombstoneRatioPPM   int
	GCMaxDeltaAgeMs       int64
	DefaultPartitions     int
	SyncPolicy            string // always|batch|relaxed
}

// FilestoreConfig carries the host-ingestion allowlist and ACL/Git
// feature flags (spec §4.4).
type FilestoreConfig struct {
	HostIngestAllowlist []string
	ACLEnabled          bool
	ACLFailOpen         bool
	GitPushBackend      string // "" | "local" | "alternate"
}

type LoggingConfig struct {
	Level string
	JSON  bool
}

type ServerConfig struct {
	Host string
	Port int
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Root:            "./data",
			DefaultDatabase: "main",
			DefaultSchema:   "public",
			CompressChunks:  false,
		},
		Vector: VectorConfig{
			ANNEnabled:      true,
			DefaultM:        16,
			DefaultEfBuild:  200,
			DefaultEfSearch: 64,
			PreselectAlpha:  3.0,
		},
		Graph: GraphConfig{
			GCMaxDeltaRecords:   100000,
			GCTombstoneRatioPPM: 300000,
			GCMaxDeltaAgeMs:     24 * 3600 * 1000,
			DefaultPartitions:   8,
			SyncPolicy:          "batch",
		},
		Filestore: FilestoreConfig{
			HostIngestAllowlist: nil,
			ACLEnabled:          false,
			ACLFailOpen:         true,
			GitPushBackend:      "",
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
		Server:  ServerConfig{Host: "localhost", Port: 8085},
	}
}

// Load builds a Config starting from defaults, loading a .env file if
// present, then applying environment overrides, then validating.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}
	cfg := DefaultConfig()
	loadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	cfg.Storage.Root = strOr("CLARIUM_STORAGE_ROOT", cfg.Storage.Root)
	cfg.Storage.DefaultDatabase = strOr("CLARIUM_DEFAULT_DATABASE", cfg.Storage.DefaultDatabase)
	cfg.Storage.DefaultSchema = strOr("CLARIUM_DEFAULT_SCHEMA", cfg.Storage.DefaultSchema)
	cfg.Storage.CompressChunks = boolOr("CLARIUM_STORAGE_COMPRESS_CHUNKS", cfg.Storage.CompressChunks)

	cfg.Vector.ANNEnabled = boolOr("CLARIUM_FEATURE_ANN", cfg.Vector.ANNEnabled)
	cfg.Vector.DefaultM = intOr("CLARIUM_VECTOR_HNSW_M", cfg.Vector.DefaultM)
	cfg.Vector.DefaultEfBuild = intOr("CLARIUM_VECTOR_HNSW_EF_BUILD", cfg.Vector.DefaultEfBuild)
	cfg.Vector.DefaultEfSearch = intOr("CLARIUM_VECTOR_EF_SEARCH", cfg.Vector.DefaultEfSearch)
	cfg.Vector.PreselectAlpha = floatOr("CLARIUM_VECTOR_PRESELECT_ALPHA", cfg.Vector.PreselectAlpha)

	cfg.Graph.GCMaxDeltaRecords = intOr("CLARIUM_GRAPH_GC_MAX_DELTA_RECORDS", cfg.Graph.GCMaxDeltaRecords)
	cfg.Graph.GCTombstoneRatioPPM = intOr("CLARIUM_GRAPH_GC_TOMBSTONE_RATIO_PPM", cfg.Graph.GCTombstoneRatioPPM)
	cfg.Graph.GCMaxDeltaAgeMs = int64Or("CLARIUM_GRAPH_GC_MAX_DELTA_AGE_MS", cfg.Graph.GCMaxDeltaAgeMs)
	cfg.Graph.DefaultPartitions = intOr("CLARIUM_GRAPH_PARTITIONS", cfg.Graph.DefaultPartitions)
	cfg.Graph.SyncPolicy = strOr("CLARIUM_GRAPH_SYNC_POLICY", cfg.Graph.SyncPolicy)

	if v := os.Getenv("CLARIUM_FILESTORE_HOST_ALLOWLIST"); v != "" {
		cfg.Filestore.HostIngestAllowlist = strings.Split(v, ",")
	}
	cfg.Filestore.ACLEnabled = boolOr("CLARIUM_FILESTORE_ACL_ENABLED", cfg.Filestore.ACLEnabled)
	cfg.Filestore.ACLFailOpen = boolOr("CLARIUM_FILESTORE_ACL_FAIL_OPEN", cfg.Filestore.ACLFailOpen)
	cfg.Filestore.GitPushBackend = strOr("CLARIUM_FILESTORE_GIT_PUSH_BACKEND", cfg.Filestore.GitPushBackend)

	cfg.Logging.Level = strOr("CLARIUM_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.JSON = boolOr("LOG_JSON", cfg.Logging.JSON)

	cfg.Server.Host = strOr("CLARIUM_HOST", cfg.Server.Host)
	cfg.Server.Port = intOr("CLARIUM_PORT", cfg.Server.Port)
}

func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root must not be empty")
	}
	if c.Graph.DefaultPartitions <= 0 {
		return fmt.Errorf("graph.default_partitions must be positive")
	}
	if c.Graph.GCMaxDeltaRecords < 0 || c.Graph.GCTombstoneRatioPPM < 0 || c.Graph.GCMaxDeltaAgeMs < 0 {
		return fmt.Errorf("graph GC thresholds must be non-negative")
	}
	switch c.Graph.SyncPolicy {
	case "always", "batch", "relaxed":
	default:
		return fmt.Errorf("graph.sync_policy must be one of always|batch|relaxed, got %q", c.Graph.SyncPolicy)
	}
	if c.Vector.DefaultM <= 0 || c.Vector.DefaultEfBuild <= 0 || c.Vector.DefaultEfSearch <= 0 {
		return fmt.Errorf("vector HNSW defaults must be positive")
	}
	return nil
}

func strOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func intOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func int64Or(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func floatOr(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
