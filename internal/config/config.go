// Package config loads the engine's own tunables: database location,
// decay curve, clustering thresholds, search fusion weights, prune
// scheduling, and the security/embedding knobs. It layers defaults,
// a user config file, a project config file, and environment variable
// overrides, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the engine's full set of tunables. Every section maps
// directly to a component named in the engine's design: Paths backs
// storage location, Decay/Cluster/Search/Prune tune their namesake
// components, Security picks the at-rest cipher and audit toggle, and
// Embedding selects the embedding backend. The command hosts apply
// Paths.Database, Paths.KeywordIndex, the Search weights/lambda/budget,
// Cluster.MinClusterSize/ApproximateKNN, Security and
// Embedding.Provider/Model/Host; the Decay and Prune sections and
// Paths.ExportDir, Cluster.RecheckIntervalMinutes, Search.MaxResults,
// Embedding.CacheSize/BatchSize are loaded and validated but not
// applied anywhere.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Decay     DecayConfig     `yaml:"decay" json:"decay"`
	Cluster   ClusterConfig   `yaml:"cluster" json:"cluster"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Prune     PruneConfig     `yaml:"prune" json:"prune"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
}

// PathsConfig locates the engine's persisted state.
type PathsConfig struct {
	// Database is the path to the embedded SQLite file.
	Database string `yaml:"database" json:"database"`
	// KeywordIndex is the path to the Bleve keyword index directory.
	KeywordIndex string `yaml:"keyword_index" json:"keyword_index"`
	// ExportDir is where archive exports are written by default.
	ExportDir string `yaml:"export_dir" json:"export_dir"`
}

// DecayConfig tunes the relevance-decay curve applied to older chunks.
type DecayConfig struct {
	// HalfLifeDays is how long, in days, a chunk's recency boost takes
	// to halve.
	HalfLifeDays float64 `yaml:"half_life_days" json:"half_life_days"`
	// Floor is the minimum decay multiplier a chunk can reach, so very
	// old but otherwise relevant chunks are never fully zeroed out.
	Floor float64 `yaml:"floor" json:"floor"`
}

// ClusterConfig tunes HDBSCAN reclustering.
type ClusterConfig struct {
	MinClusterSize int `yaml:"min_cluster_size" json:"min_cluster_size"`
	// RecheckIntervalMinutes is how often a background scheduler (if one
	// is running) considers reclustering a project.
	RecheckIntervalMinutes int `yaml:"recheck_interval_minutes" json:"recheck_interval_minutes"`
	// ApproximateKNN enables the approximate core-distance backend for
	// large projects.
	ApproximateKNN bool `yaml:"approximate_knn" json:"approximate_knn"`
}

// SearchConfig tunes the hybrid retrieval assembler.
type SearchConfig struct {
	RRFConstant     int     `yaml:"rrf_constant" json:"rrf_constant"`
	VectorWeight    float64 `yaml:"vector_weight" json:"vector_weight"`
	KeywordWeight   float64 `yaml:"keyword_weight" json:"keyword_weight"`
	MMRLambda       float64 `yaml:"mmr_lambda" json:"mmr_lambda"`
	TokenBudget     int     `yaml:"token_budget" json:"token_budget"`
	MaxResults      int     `yaml:"max_results" json:"max_results"`
}

// PruneConfig tunes the background pruner.
type PruneConfig struct {
	DebounceSeconds int `yaml:"debounce_seconds" json:"debounce_seconds"`
	ScanBatchSize   int `yaml:"scan_batch_size" json:"scan_batch_size"`
	OrphanTTLDays   int `yaml:"orphan_ttl_days" json:"orphan_ttl_days"`
}

// SecurityConfig selects the at-rest cipher and whether audit logging
// runs. The secret store used to fetch the key itself is an external
// collaborator, not configured here.
type SecurityConfig struct {
	// Enabled turns on at-rest encryption of the database file.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Cipher is "chacha20" or "aes-256-gcm". Empty defaults to chacha20.
	Cipher string `yaml:"cipher" json:"cipher"`
	// AuditLog enables writing to the append-only audit_log table.
	AuditLog bool `yaml:"audit_log" json:"audit_log"`
	// KeyName is the key_name passed to the secret store.
	KeyName string `yaml:"key_name" json:"key_name"`
}

// EmbeddingConfig selects the embedding backend and sizes the
// in-process embedding cache layered in front of the persisted
// embedding_cache table.
type EmbeddingConfig struct {
	// Provider is "ollama" or "static". Empty defaults to ollama.
	Provider string `yaml:"provider" json:"provider"`
	// Model is the embedding model name passed to the provider.
	Model string `yaml:"model" json:"model"`
	// Host overrides the provider's endpoint (Ollama only).
	Host      string `yaml:"host" json:"host"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
}

// NewConfig returns a Config populated with the engine's defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Database:     defaultDataPath("memory.db"),
			KeywordIndex: defaultDataPath("keyword-index"),
			ExportDir:    defaultDataPath("exports"),
		},
		Decay: DecayConfig{
			HalfLifeDays: 30,
			Floor:        0.1,
		},
		Cluster: ClusterConfig{
			MinClusterSize:         5,
			RecheckIntervalMinutes: 60,
			ApproximateKNN:         false,
		},
		Search: SearchConfig{
			RRFConstant:   60,
			VectorWeight:  0.7,
			KeywordWeight: 0.3,
			MMRLambda:     0.5,
			TokenBudget:   4000,
			MaxResults:    20,
		},
		Prune: PruneConfig{
			DebounceSeconds: 30,
			ScanBatchSize:   500,
			OrphanTTLDays:   14,
		},
		Security: SecurityConfig{
			Enabled:  false,
			Cipher:   "chacha20",
			AuditLog: true,
			KeyName:  "ecmem-db-key",
		},
		Embedding: EmbeddingConfig{
			// static needs no running service, so it's the safe default;
			// set provider: ollama in .ecmem.yaml for real embeddings.
			Provider:  "static",
			Model:     "",
			Host:      "",
			CacheSize: 10000,
			BatchSize: 32,
		},
	}
}

func defaultDataPath(name string) string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, ".local", "share", "ecmem", name)
}

// GetUserConfigPath returns the path to the user/global configuration
// file, following the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/ecmem/config.yaml, if XDG_CONFIG_HOME is set
//   - ~/.config/ecmem/config.yaml, otherwise
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ecmem", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ecmem", "config.yaml")
	}
	return filepath.Join(home, ".config", "ecmem", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user
// configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load builds a Config for the project rooted at dir, applying sources
// in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/ecmem/config.yaml)
//  3. Project config (.ecmem.yaml in dir)
//  4. Environment variables (ECMEM_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads .ecmem.yaml or .ecmem.yml from dir, if present.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".ecmem.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".ecmem.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero fields from other onto c. Zero-valued
// fields in other are treated as "not set" and leave c unchanged, so a
// partial project config only overrides the sections it names.
func (c *Config) mergeWith(other *Config) {
	if other == nil {
		return
	}
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Paths.Database != "" {
		c.Paths.Database = other.Paths.Database
	}
	if other.Paths.KeywordIndex != "" {
		c.Paths.KeywordIndex = other.Paths.KeywordIndex
	}
	if other.Paths.ExportDir != "" {
		c.Paths.ExportDir = other.Paths.ExportDir
	}
	if other.Decay.HalfLifeDays != 0 {
		c.Decay.HalfLifeDays = other.Decay.HalfLifeDays
	}
	if other.Decay.Floor != 0 {
		c.Decay.Floor = other.Decay.Floor
	}
	if other.Cluster.MinClusterSize != 0 {
		c.Cluster.MinClusterSize = other.Cluster.MinClusterSize
	}
	if other.Cluster.RecheckIntervalMinutes != 0 {
		c.Cluster.RecheckIntervalMinutes = other.Cluster.RecheckIntervalMinutes
	}
	c.Cluster.ApproximateKNN = other.Cluster.ApproximateKNN || c.Cluster.ApproximateKNN
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.VectorWeight != 0 {
		c.Search.VectorWeight = other.Search.VectorWeight
	}
	if other.Search.KeywordWeight != 0 {
		c.Search.KeywordWeight = other.Search.KeywordWeight
	}
	if other.Search.MMRLambda != 0 {
		c.Search.MMRLambda = other.Search.MMRLambda
	}
	if other.Search.TokenBudget != 0 {
		c.Search.TokenBudget = other.Search.TokenBudget
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Prune.DebounceSeconds != 0 {
		c.Prune.DebounceSeconds = other.Prune.DebounceSeconds
	}
	if other.Prune.ScanBatchSize != 0 {
		c.Prune.ScanBatchSize = other.Prune.ScanBatchSize
	}
	if other.Prune.OrphanTTLDays != 0 {
		c.Prune.OrphanTTLDays = other.Prune.OrphanTTLDays
	}
	c.Security.Enabled = other.Security.Enabled || c.Security.Enabled
	if other.Security.Cipher != "" {
		c.Security.Cipher = other.Security.Cipher
	}
	c.Security.AuditLog = other.Security.AuditLog || c.Security.AuditLog
	if other.Security.KeyName != "" {
		c.Security.KeyName = other.Security.KeyName
	}
	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Host != "" {
		c.Embedding.Host = other.Embedding.Host
	}
	if other.Embedding.CacheSize != 0 {
		c.Embedding.CacheSize = other.Embedding.CacheSize
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
}

// envOverride applies fn(value) when the named environment variable is set.
func envOverride(name string, fn func(string)) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		fn(v)
	}
}

func envOverrideInt(name string, dst *int) {
	envOverride(name, func(v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	})
}

func envOverrideFloat(name string, dst *float64) {
	envOverride(name, func(v string) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	})
}

func envOverrideBool(name string, dst *bool) {
	envOverride(name, func(v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	})
}

// applyEnvOverrides applies ECMEM_* environment variables, the highest
// precedence layer.
func (c *Config) applyEnvOverrides() {
	envOverride("ECMEM_DB_PATH", func(v string) { c.Paths.Database = v })
	envOverride("ECMEM_KEYWORD_INDEX_PATH", func(v string) { c.Paths.KeywordIndex = v })
	envOverrideFloat("ECMEM_DECAY_HALF_LIFE_DAYS", &c.Decay.HalfLifeDays)
	envOverrideFloat("ECMEM_DECAY_FLOOR", &c.Decay.Floor)
	envOverrideInt("ECMEM_CLUSTER_MIN_SIZE", &c.Cluster.MinClusterSize)
	envOverrideBool("ECMEM_CLUSTER_APPROXIMATE_KNN", &c.Cluster.ApproximateKNN)
	envOverrideInt("ECMEM_SEARCH_RRF_CONSTANT", &c.Search.RRFConstant)
	envOverrideFloat("ECMEM_SEARCH_VECTOR_WEIGHT", &c.Search.VectorWeight)
	envOverrideFloat("ECMEM_SEARCH_KEYWORD_WEIGHT", &c.Search.KeywordWeight)
	envOverrideFloat("ECMEM_SEARCH_MMR_LAMBDA", &c.Search.MMRLambda)
	envOverrideInt("ECMEM_SEARCH_TOKEN_BUDGET", &c.Search.TokenBudget)
	envOverrideInt("ECMEM_PRUNE_DEBOUNCE_SECONDS", &c.Prune.DebounceSeconds)
	envOverrideInt("ECMEM_PRUNE_ORPHAN_TTL_DAYS", &c.Prune.OrphanTTLDays)
	envOverrideBool("ECMEM_SECURITY_ENABLED", &c.Security.Enabled)
	envOverride("ECMEM_SECURITY_CIPHER", func(v string) { c.Security.Cipher = v })
	envOverrideBool("ECMEM_SECURITY_AUDIT_LOG", &c.Security.AuditLog)
	envOverrideInt("ECMEM_EMBEDDING_CACHE_SIZE", &c.Embedding.CacheSize)
	envOverride("ECMEM_EMBEDDING_PROVIDER", func(v string) { c.Embedding.Provider = v })
	envOverride("ECMEM_EMBEDDING_MODEL", func(v string) { c.Embedding.Model = v })
	envOverride("ECMEM_EMBEDDING_HOST", func(v string) { c.Embedding.Host = v })
}

// Validate reports an error for any out-of-range tunable.
func (c *Config) Validate() error {
	if c.Decay.HalfLifeDays <= 0 {
		return fmt.Errorf("decay.half_life_days must be positive, got %v", c.Decay.HalfLifeDays)
	}
	if c.Decay.Floor < 0 || c.Decay.Floor > 1 {
		return fmt.Errorf("decay.floor must be in [0,1], got %v", c.Decay.Floor)
	}
	if c.Cluster.MinClusterSize < 2 {
		return fmt.Errorf("cluster.min_cluster_size must be >= 2, got %d", c.Cluster.MinClusterSize)
	}
	sum := c.Search.VectorWeight + c.Search.KeywordWeight
	if sum <= 0 {
		return fmt.Errorf("search.vector_weight + search.keyword_weight must be positive")
	}
	if c.Search.MMRLambda < 0 || c.Search.MMRLambda > 1 {
		return fmt.Errorf("search.mmr_lambda must be in [0,1], got %v", c.Search.MMRLambda)
	}
	if c.Search.TokenBudget <= 0 {
		return fmt.Errorf("search.token_budget must be positive, got %d", c.Search.TokenBudget)
	}
	if c.Prune.ScanBatchSize <= 0 {
		return fmt.Errorf("prune.scan_batch_size must be positive, got %d", c.Prune.ScanBatchSize)
	}
	switch strings.ToLower(c.Security.Cipher) {
	case "chacha20", "aes-256-gcm":
	default:
		return fmt.Errorf("security.cipher must be chacha20 or aes-256-gcm, got %q", c.Security.Cipher)
	}
	return nil
}

// WriteYAML marshals c and writes it to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadUserConfig loads the user/global configuration file, returning
// engine defaults if none exists.
func LoadUserConfig() (*Config, error) {
	cfg, err := loadUserConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return NewConfig(), nil
	}
	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
