// Package config implements the layered configuration loader: compiled-in
// defaults, an optional YAML file, then HYPERIA_* environment variable
// overrides, with a final Validate pass before the caller wires up C1-C8.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// Config is the complete runtime configuration for one hyperia instance.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SearchConfig configures hybrid search fusion (spec §4.7) and the BM25
// index backend (spec §6). Weights and the RRF constant are configurable
// via, in increasing precedence: compiled-in defaults, the project YAML
// file, and HYPERIA_BM25_WEIGHT / HYPERIA_SEMANTIC_WEIGHT /
// HYPERIA_RRF_CONSTANT environment variables.
type SearchConfig struct {
	// BM25Weight is the fallback weighted-sum weight for the keyword side
	// when a collection's query plan doesn't override it (0.0-1.0); must
	// sum to 1.0 with SemanticWeight.
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`
	// SemanticWeight is the matching weight for the vector side.
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	// RRFConstant is the RRF fusion smoothing parameter (k). Default 60,
	// the same constant Azure AI Search and OpenSearch ship with.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// BM25Backend selects the BM25 index backend: "sqlite" (default,
	// concurrent multi-process access via FTS5+WAL) or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`
	MaxResults  int    `yaml:"max_results" json:"max_results"`
}

// EmbeddingsConfig configures the default embedding provider (spec §4.3).
// Per-collection ProviderID/ModelID/Dimensions in domain.Collection take
// precedence once a collection exists; these are the defaults used to
// create new collections and the pool's fallback chain.
type EmbeddingsConfig struct {
	Provider          string        `yaml:"provider" json:"provider"`
	Model             string        `yaml:"model" json:"model"`
	Dimensions        int           `yaml:"dimensions" json:"dimensions"`
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	// BaseURL is the remote-http provider's endpoint; APIKey is
	// deliberately yaml:"-" so it can only arrive via HYPERIA_API_KEY,
	// never committed to a project config file.
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"-" json:"-"`
}

// CacheConfig configures the three-tier embedding cache (spec §4.2,
// component C2). A zero field falls back to the corresponding
// domain.Default*TierConfig.
type CacheConfig struct {
	MemoryMaxEntries     int           `yaml:"memory_max_entries" json:"memory_max_entries"`
	MemoryTTL            time.Duration `yaml:"memory_ttl" json:"memory_ttl"`
	PersistentMaxEntries int           `yaml:"persistent_max_entries" json:"persistent_max_entries"`
	PersistentTTL        time.Duration `yaml:"persistent_ttl" json:"persistent_ttl"`
	DatabaseMaxEntries   int           `yaml:"database_max_entries" json:"database_max_entries"`
	DatabaseTTL          time.Duration `yaml:"database_ttl" json:"database_ttl"`
}

// QueueConfig configures the background embedding queue (spec §4.5,
// component C5).
type QueueConfig struct {
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout" json:"visibility_timeout"`
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff" json:"max_backoff"`
	PollEvery         time.Duration `yaml:"poll_every" json:"poll_every"`
	SweepInterval     time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// ServerConfig configures the request control plane's Unix-socket
// transport (spec §4.8, component C8).
type ServerConfig struct {
	SocketPath              string        `yaml:"socket_path" json:"socket_path"`
	MaxConcurrentOperations int           `yaml:"max_concurrent_operations" json:"max_concurrent_operations"`
	DefaultTimeout          time.Duration `yaml:"default_timeout" json:"default_timeout"`
}

// WatchConfig configures the optional filesystem watch that feeds the
// background queue with changed documents (spec DOMAIN STACK: fsnotify).
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Paths    []string      `yaml:"paths" json:"paths"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	MaxSizeMB     int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files" json:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr" json:"write_to_stderr"`
}

// New returns a Config populated with compiled-in defaults.
func New() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dataDir := filepath.Join(home, ".hyperia", "data")

	return &Config{
		Version: 1,
		DataDir: dataDir,
		Search: SearchConfig{
			BM25Weight:     0.5,
			SemanticWeight: 0.5,
			RRFConstant:    60,
			BM25Backend:    "sqlite",
			MaxResults:     50,
		},
		Embeddings: EmbeddingsConfig{
			Provider:          "local",
			Dimensions:        768,
			BatchSize:         32,
			RequestsPerMinute: 600,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
		},
		Cache: CacheConfig{
			MemoryMaxEntries:     10_000,
			MemoryTTL:            5 * time.Minute,
			PersistentMaxEntries: 200_000,
			PersistentTTL:        24 * time.Hour,
			DatabaseMaxEntries:   2_000_000,
			DatabaseTTL:          7 * 24 * time.Hour,
		},
		Queue: QueueConfig{
			BatchSize:         32,
			VisibilityTimeout: 2 * time.Minute,
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			PollEvery:         2 * time.Second,
			SweepInterval:     time.Minute,
		},
		Server: ServerConfig{
			SocketPath:              filepath.Join(dataDir, "hyperia.sock"),
			MaxConcurrentOperations: 64,
			DefaultTimeout:          30 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:         "info",
			FilePath:      filepath.Join(home, ".hyperia", "logs", "server.log"),
			MaxSizeMB:     10,
			MaxFiles:      5,
			WriteToStderr: true,
		},
	}
}

// projectConfigNames are checked, in order, within the load directory.
var projectConfigNames = []string{".hyperia.yaml", ".hyperia.yml"}

// Load builds a Config for dir by layering, in increasing precedence:
//  1. compiled-in defaults (New)
//  2. the user/global config (~/.config/hyperia/config.yaml), if present
//  3. the project config (.hyperia.yaml in dir), if present
//  4. HYPERIA_* environment variable overrides
//
// The result is validated before being returned.
func Load(dir string) (*Config, error) {
	cfg := New()

	userCfg, err := LoadUserConfig()
	if err != nil {
		return nil, cerrors.ConfigError("failed to load user config", err)
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadProjectFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, cerrors.ValidationError("invalid configuration", err)
	}
	return cfg, nil
}

func (c *Config) loadProjectFile(dir string) error {
	for _, name := range projectConfigNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cerrors.IOError(fmt.Sprintf("failed to read config file %s", path), err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return cerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	c.mergeWith(&parsed)
	return nil
}

// GetUserConfigPath returns the path to the user/global configuration
// file, honouring XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hyperia", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "hyperia", "config.yaml")
	}
	return filepath.Join(home, ".config", "hyperia", "config.yaml")
}

// LoadUserConfig loads the user configuration file. It returns a nil
// Config and nil error when the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.IOError(fmt.Sprintf("failed to read user config %s", path), err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cerrors.ConfigError(fmt.Sprintf("failed to parse user config %s", path), err)
	}
	return &cfg, nil
}

// WriteYAML marshals c and writes it to path, for `hyperia config init`
// style commands.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return cerrors.InternalError("failed to marshal configuration", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cerrors.IOError("failed to create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return cerrors.IOError(fmt.Sprintf("failed to write config file %s", path), err)
	}
	return nil
}

// mergeWith overlays other's non-zero fields onto c, so a partial config
// file never stomps defaults with zero values.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Search.BM25Weight != 0 {
		c.Search.BM25Weight = other.Search.BM25Weight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.BM25Backend != "" {
		c.Search.BM25Backend = other.Search.BM25Backend
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.RequestsPerMinute != 0 {
		c.Embeddings.RequestsPerMinute = other.Embeddings.RequestsPerMinute
	}
	if other.Embeddings.Timeout != 0 {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}
	if other.Embeddings.MaxRetries != 0 {
		c.Embeddings.MaxRetries = other.Embeddings.MaxRetries
	}
	if other.Embeddings.BaseURL != "" {
		c.Embeddings.BaseURL = other.Embeddings.BaseURL
	}

	if other.Cache.MemoryMaxEntries != 0 {
		c.Cache.MemoryMaxEntries = other.Cache.MemoryMaxEntries
	}
	if other.Cache.MemoryTTL != 0 {
		c.Cache.MemoryTTL = other.Cache.MemoryTTL
	}
	if other.Cache.PersistentMaxEntries != 0 {
		c.Cache.PersistentMaxEntries = other.Cache.PersistentMaxEntries
	}
	if other.Cache.PersistentTTL != 0 {
		c.Cache.PersistentTTL = other.Cache.PersistentTTL
	}
	if other.Cache.DatabaseMaxEntries != 0 {
		c.Cache.DatabaseMaxEntries = other.Cache.DatabaseMaxEntries
	}
	if other.Cache.DatabaseTTL != 0 {
		c.Cache.DatabaseTTL = other.Cache.DatabaseTTL
	}

	if other.Queue.BatchSize != 0 {
		c.Queue.BatchSize = other.Queue.BatchSize
	}
	if other.Queue.VisibilityTimeout != 0 {
		c.Queue.VisibilityTimeout = other.Queue.VisibilityTimeout
	}
	if other.Queue.MaxAttempts != 0 {
		c.Queue.MaxAttempts = other.Queue.MaxAttempts
	}
	if other.Queue.InitialBackoff != 0 {
		c.Queue.InitialBackoff = other.Queue.InitialBackoff
	}
	if other.Queue.MaxBackoff != 0 {
		c.Queue.MaxBackoff = other.Queue.MaxBackoff
	}
	if other.Queue.PollEvery != 0 {
		c.Queue.PollEvery = other.Queue.PollEvery
	}
	if other.Queue.SweepInterval != 0 {
		c.Queue.SweepInterval = other.Queue.SweepInterval
	}

	if other.Server.SocketPath != "" {
		c.Server.SocketPath = other.Server.SocketPath
	}
	if other.Server.MaxConcurrentOperations != 0 {
		c.Server.MaxConcurrentOperations = other.Server.MaxConcurrentOperations
	}
	if other.Server.DefaultTimeout != 0 {
		c.Server.DefaultTimeout = other.Server.DefaultTimeout
	}

	if other.Watch.Enabled {
		c.Watch.Enabled = other.Watch.Enabled
	}
	if len(other.Watch.Paths) > 0 {
		c.Watch.Paths = other.Watch.Paths
	}
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
	if other.Logging.WriteToStderr {
		c.Logging.WriteToStderr = other.Logging.WriteToStderr
	}
}

var validProviders = map[string]bool{"local": true, "remote-http": true}
var validBackends = map[string]bool{"sqlite": true, "bleve": true}
var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks field ranges and cross-field invariants before the
// config is used to construct C1-C8.
func (c *Config) Validate() error {
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("search.bm25_weight must be between 0 and 1, got %f", c.Search.BM25Weight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("search.semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	if sum := c.Search.BM25Weight + c.Search.SemanticWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("search.bm25_weight + search.semantic_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if !validBackends[strings.ToLower(c.Search.BM25Backend)] {
		return fmt.Errorf("search.bm25_backend must be 'sqlite' or 'bleve', got %s", c.Search.BM25Backend)
	}
	if c.Embeddings.Provider != "" && !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'local', 'remote-http', or empty, got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions != 0 {
		if _, ok := supportedDimensions[c.Embeddings.Dimensions]; !ok {
			return fmt.Errorf("embeddings.dimensions must be one of the supported sizes, got %d", c.Embeddings.Dimensions)
		}
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	if c.Server.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("server.max_concurrent_operations must be positive, got %d", c.Server.MaxConcurrentOperations)
	}
	return nil
}

// supportedDimensions mirrors domain.SupportedDimensions; kept as a
// package-local copy so config never needs to import domain just for
// this one check.
var supportedDimensions = map[int]bool{256: true, 384: true, 512: true, 768: true, 1024: true, 1536: true, 3072: true}

// applyEnvOverrides applies HYPERIA_* environment variable overrides,
// the highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HYPERIA_BM25_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Search.BM25Weight = w
		}
	}
	if v := os.Getenv("HYPERIA_SEMANTIC_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("HYPERIA_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.RRFConstant = n
		}
	}
	if v := os.Getenv("HYPERIA_BM25_BACKEND"); v != "" {
		c.Search.BM25Backend = v
	}
	if v := os.Getenv("HYPERIA_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("HYPERIA_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("HYPERIA_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("HYPERIA_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("HYPERIA_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HYPERIA_SOCKET_PATH"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("HYPERIA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
