// Package config provides configuration management for the memory
// engine, handling environment variables, an optional YAML override file,
// and validated defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration struct for the engine.
type Config struct {
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Decay       DecayConfig       `yaml:"decay" json:"decay"`
	Clustering  ClusteringConfig  `yaml:"clustering" json:"clustering"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" json:"retrieval"`
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance"`
	Chunking    ChunkingConfig    `yaml:"chunking" json:"chunking"`
	Embedding   EmbeddingConfig   `yaml:"embedding" json:"embedding"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// StorageConfig locates the two on-disk stores.
type StorageConfig struct {
	DBPath     string `yaml:"dbPath" json:"db_path"`
	VectorPath string `yaml:"vectorPath" json:"vector_path"`
}

// DecayConfig parameterises the edge-weight decay shape. Which fields
// apply depends on Shape: Exponential uses WeightPerStep; Linear and
// DelayedLinear use DecayPerStep (DelayedLinear also uses HoldSteps);
// MultiLinear uses Tiers and ignores the single-tier fields.
type DecayConfig struct {
	Shape         string      `yaml:"shape" json:"shape"`
	WeightPerStep float64     `yaml:"weightPerStep" json:"weight_per_step"`
	DecayPerStep  float64     `yaml:"decayPerStep" json:"decay_per_step"`
	HoldSteps     float64     `yaml:"holdSteps" json:"hold_steps"`
	MinWeight     float64     `yaml:"minWeight" json:"min_weight"`
	Tiers         []DecayTier `yaml:"tiers" json:"tiers"`
}

// DecayTier is one term of a multi-linear decay curve.
type DecayTier struct {
	Initial      float64 `yaml:"initial" json:"initial"`
	HoldSteps    float64 `yaml:"holdSteps" json:"hold_steps"`
	DecayPerStep float64 `yaml:"decayPerStep" json:"decay_per_step"`
}

// ClusteringConfig parameterises the HDBSCAN pass.
type ClusteringConfig struct {
	MinClusterSize int    `yaml:"minClusterSize" json:"min_cluster_size"`
	Metric         string `yaml:"metric" json:"metric"` // "euclidean" or "angular"
}

// RetrievalConfig parameterises the hybrid search pipeline.
type RetrievalConfig struct {
	K                  int     `yaml:"k" json:"k"`
	VectorCandidates   int     `yaml:"vectorCandidates" json:"vector_candidates"`
	KeywordCandidates  int     `yaml:"keywordCandidates" json:"keyword_candidates"`
	ExpansionAlpha     float64 `yaml:"expansionAlpha" json:"expansion_alpha"`
	RRFConstant        int     `yaml:"rrfConstant" json:"rrf_constant"`
	MaxHops            int     `yaml:"maxHops" json:"max_hops"`
	MinExpansionWeight float64 `yaml:"minExpansionWeight" json:"min_expansion_weight"`
}

// MaintenanceConfig parameterises background cleanup tasks.
type MaintenanceConfig struct {
	VectorTTLDays  int `yaml:"vectorTtlDays" json:"vector_ttl_days"`
	VectorMaxCount int `yaml:"vectorMaxCount" json:"vector_max_count"`
}

// ChunkingConfig parameterises how transcript turns are grouped into
// chunks during ingestion.
type ChunkingConfig struct {
	RenderMode       string `yaml:"renderMode" json:"render_mode"` // "full" or "code-focused"
	MaxTurnsPerChunk int    `yaml:"maxTurnsPerChunk" json:"max_turns_per_chunk"`
}

// EmbeddingConfig parameterises the embedder boundary: timeout, retry,
// and the resilience wrappers around it.
type EmbeddingConfig struct {
	Dimensions      int    `yaml:"dimensions" json:"dimensions"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds" json:"timeout_seconds"`
	MaxRetries      int    `yaml:"maxRetries" json:"max_retries"`
	CacheSize       int    `yaml:"cacheSize" json:"cache_size"`
	RateLimitRPS    int    `yaml:"rateLimitRps" json:"rate_limit_rps"`
	CircuitFailures int    `yaml:"circuitFailures" json:"circuit_failures"`
	Provider        string `yaml:"provider" json:"provider"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// Default returns the engine's default configuration, matching every
// key named in the external-interfaces configuration table.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath:     "./data/ecm.db",
			VectorPath: "./data/vectors",
		},
		Decay: DecayConfig{
			Shape:         "exponential",
			WeightPerStep: 0.5,
			DecayPerStep:  0.1,
			HoldSteps:     0,
			MinWeight:     0.1,
		},
		Clustering: ClusteringConfig{
			MinClusterSize: 4,
			Metric:         "angular",
		},
		Retrieval: RetrievalConfig{
			K:                  10,
			VectorCandidates:   50,
			KeywordCandidates:  50,
			ExpansionAlpha:     0.5,
			RRFConstant:        60,
			MaxHops:            1,
			MinExpansionWeight: 0.05,
		},
		Maintenance: MaintenanceConfig{
			VectorTTLDays:  90,
			VectorMaxCount: 100000,
		},
		Chunking: ChunkingConfig{
			RenderMode:       "full",
			MaxTurnsPerChunk: 4,
		},
		Embedding: EmbeddingConfig{
			Dimensions:      384,
			TimeoutSeconds:  30,
			MaxRetries:      3,
			CacheSize:       1000,
			RateLimitRPS:    10,
			CircuitFailures: 5,
			Provider:        "hash",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file (if path is
// non-empty and the file exists), then environment variables, which take
// precedence over both. A .env file in the working directory is read
// first if present.
func Load(yamlPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg := Default()

	if yamlPath != "" {
		if err := loadYAML(cfg, yamlPath); err != nil {
			return nil, err
		}
	}

	loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	setString(&cfg.Storage.DBPath, "ECM_STORAGE_DB_PATH")
	setString(&cfg.Storage.VectorPath, "ECM_STORAGE_VECTOR_PATH")

	setString(&cfg.Decay.Shape, "ECM_DECAY_SHAPE")
	setFloat(&cfg.Decay.WeightPerStep, "ECM_DECAY_WEIGHT_PER_STEP")
	setFloat(&cfg.Decay.DecayPerStep, "ECM_DECAY_DECAY_PER_STEP")
	setFloat(&cfg.Decay.HoldSteps, "ECM_DECAY_HOLD_STEPS")
	setFloat(&cfg.Decay.MinWeight, "ECM_DECAY_MIN_WEIGHT")

	setInt(&cfg.Clustering.MinClusterSize, "ECM_CLUSTERING_MIN_CLUSTER_SIZE")
	setString(&cfg.Clustering.Metric, "ECM_CLUSTERING_METRIC")

	setInt(&cfg.Retrieval.K, "ECM_RETRIEVAL_K")
	setInt(&cfg.Retrieval.VectorCandidates, "ECM_RETRIEVAL_VECTOR_CANDIDATES")
	setInt(&cfg.Retrieval.KeywordCandidates, "ECM_RETRIEVAL_KEYWORD_CANDIDATES")
	setFloat(&cfg.Retrieval.ExpansionAlpha, "ECM_RETRIEVAL_EXPANSION_ALPHA")
	setInt(&cfg.Retrieval.RRFConstant, "ECM_RETRIEVAL_RRF_CONSTANT")
	setInt(&cfg.Retrieval.MaxHops, "ECM_RETRIEVAL_MAX_HOPS")
	setFloat(&cfg.Retrieval.MinExpansionWeight, "ECM_RETRIEVAL_MIN_EXPANSION_WEIGHT")

	setInt(&cfg.Maintenance.VectorTTLDays, "ECM_MAINTENANCE_VECTOR_TTL_DAYS")
	setInt(&cfg.Maintenance.VectorMaxCount, "ECM_MAINTENANCE_VECTOR_MAX_COUNT")

	setString(&cfg.Chunking.RenderMode, "ECM_CHUNKING_RENDER_MODE")
	setInt(&cfg.Chunking.MaxTurnsPerChunk, "ECM_CHUNKING_MAX_TURNS_PER_CHUNK")

	setInt(&cfg.Embedding.Dimensions, "ECM_EMBEDDING_DIMENSIONS")
	setInt(&cfg.Embedding.TimeoutSeconds, "ECM_EMBEDDING_TIMEOUT_SECONDS")
	setInt(&cfg.Embedding.MaxRetries, "ECM_EMBEDDING_MAX_RETRIES")
	setInt(&cfg.Embedding.CacheSize, "ECM_EMBEDDING_CACHE_SIZE")
	setInt(&cfg.Embedding.RateLimitRPS, "ECM_EMBEDDING_RATE_LIMIT_RPS")
	setInt(&cfg.Embedding.CircuitFailures, "ECM_EMBEDDING_CIRCUIT_FAILURES")
	setString(&cfg.Embedding.Provider, "ECM_EMBEDDING_PROVIDER")

	setString(&cfg.Logging.Level, "ECM_LOG_LEVEL")
	setBool(&cfg.Logging.JSON, "ECM_LOG_JSON")
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setFloat(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func setBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Validate checks the configuration's invariants, returning the first
// violation found.
func (c *Config) Validate() error {
	if c.Storage.DBPath == "" {
		return errors.New("storage.dbPath cannot be empty")
	}
	if c.Storage.VectorPath == "" {
		return errors.New("storage.vectorPath cannot be empty")
	}

	switch c.Decay.Shape {
	case "exponential":
		if c.Decay.WeightPerStep <= 0 || c.Decay.WeightPerStep >= 1 {
			return fmt.Errorf("decay.weightPerStep must be in (0,1), got %v", c.Decay.WeightPerStep)
		}
	case "linear", "delayed-linear":
		if c.Decay.DecayPerStep <= 0 {
			return fmt.Errorf("decay.decayPerStep must be positive, got %v", c.Decay.DecayPerStep)
		}
	case "multi-linear":
		if len(c.Decay.Tiers) == 0 {
			return errors.New("decay.tiers cannot be empty for multi-linear shape")
		}
	default:
		return fmt.Errorf("decay.shape: unknown shape %q", c.Decay.Shape)
	}
	if c.Decay.MinWeight < 0 || c.Decay.MinWeight > 1 {
		return fmt.Errorf("decay.minWeight must be in [0,1], got %v", c.Decay.MinWeight)
	}

	if c.Clustering.MinClusterSize < 2 {
		return fmt.Errorf("clustering.minClusterSize must be >= 2, got %d", c.Clustering.MinClusterSize)
	}
	if c.Clustering.Metric != "euclidean" && c.Clustering.Metric != "angular" {
		return fmt.Errorf("clustering.metric must be euclidean or angular, got %q", c.Clustering.Metric)
	}

	if c.Retrieval.K <= 0 {
		return errors.New("retrieval.k must be positive")
	}
	if c.Retrieval.VectorCandidates <= 0 || c.Retrieval.KeywordCandidates <= 0 {
		return errors.New("retrieval.vectorCandidates and keywordCandidates must be positive")
	}
	if c.Retrieval.ExpansionAlpha < 0 || c.Retrieval.ExpansionAlpha > 1 {
		return fmt.Errorf("retrieval.expansionAlpha must be in [0,1], got %v", c.Retrieval.ExpansionAlpha)
	}
	if c.Retrieval.RRFConstant <= 0 {
		return errors.New("retrieval.rrfConstant must be positive")
	}
	if c.Retrieval.MaxHops <= 0 {
		return errors.New("retrieval.maxHops must be positive")
	}
	if c.Retrieval.MinExpansionWeight < 0 || c.Retrieval.MinExpansionWeight > 1 {
		return fmt.Errorf("retrieval.minExpansionWeight must be in [0,1], got %v", c.Retrieval.MinExpansionWeight)
	}

	if c.Maintenance.VectorTTLDays < 0 {
		return errors.New("maintenance.vectorTtlDays cannot be negative")
	}
	if c.Maintenance.VectorMaxCount < 0 {
		return errors.New("maintenance.vectorMaxCount cannot be negative")
	}

	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding.dimensions must be positive")
	}
	if c.Embedding.TimeoutSeconds <= 0 {
		return errors.New("embedding.timeoutSeconds must be positive")
	}

	if c.Chunking.RenderMode != "full" && c.Chunking.RenderMode != "code-focused" {
		return fmt.Errorf("chunking.renderMode must be full or code-focused, got %q", c.Chunking.RenderMode)
	}
	if c.Chunking.MaxTurnsPerChunk <= 0 {
		return errors.New("chunking.maxTurnsPerChunk must be positive")
	}

	return nil
}
