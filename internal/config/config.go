// Package config provides configuration loading and structs for chosei.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/chosei/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Data      DataConfig      `yaml:"data"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Training  TrainingConfig  `yaml:"training"`
	Results   ResultsConfig   `yaml:"results"`
	Server    ServerConfig    `yaml:"server"`
}

// DataConfig describes the labelled pair dataset and how it is split.
type DataConfig struct {
	Path string `yaml:"path"`
	// Sheet selects the worksheet of an .xlsx file; empty uses the first one.
	Sheet     string `yaml:"sheet"`
	Transform string `yaml:"transform"`
	// MaxPairs keeps only the first rows after transformation; 0 keeps all.
	MaxPairs             int     `yaml:"max_pairs"`
	TestFraction         float64 `yaml:"test_fraction"`
	NegativesPerPositive int     `yaml:"negatives_per_positive"`
	GenerateNegatives    *bool   `yaml:"generate_negatives"`
	Seed                 int64   `yaml:"seed"`
}

// GenerateNegativesOrDefault returns whether to synthesize negatives; defaults to true when unset.
func (d *DataConfig) GenerateNegativesOrDefault() bool {
	if d.GenerateNegatives != nil {
		return *d.GenerateNegatives
	}
	return true
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv         string  `yaml:"api_key_env"`
	Dimensions        int     `yaml:"dimensions"`
	ModelPath         string  `yaml:"model_path"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	// Workers bounds concurrent requests while warming the cache; 1 embeds sequentially.
	Workers int `yaml:"workers"`
}

// APIKey returns the API key from the configured environment variable.
func (e *EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// Timeout returns the request timeout.
func (e *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// CacheConfig holds the embedding cache location.
type CacheConfig struct {
	Path string `yaml:"path"`
	// RemoteURL is fetched when Path does not exist yet; empty starts an empty cache.
	RemoteURL string `yaml:"remote_url"`
}

// TrainingConfig lists the configurations to sweep.
type TrainingConfig struct {
	Seed int64              `yaml:"seed"`
	Runs []models.RunParams `yaml:"runs"`
}

// ResultsConfig controls where run results go.
type ResultsConfig struct {
	Dir          string `yaml:"dir"`
	WriteCSV     *bool  `yaml:"write_csv"`
	WriteParquet bool   `yaml:"write_parquet"`
	// IncludeMatrices fills the matrix column of CSV and Parquet results; defaults to true.
	IncludeMatrices *bool  `yaml:"include_matrices"`
	DatabasePath    string `yaml:"database_path"`
	MatrixPath      string `yaml:"matrix_path"`
}

// WriteCSVOrDefault returns whether to write per-run CSV files; defaults to true when unset.
func (r *ResultsConfig) WriteCSVOrDefault() bool {
	if r.WriteCSV != nil {
		return *r.WriteCSV
	}
	return true
}

// IncludeMatricesOrDefault returns whether result files carry matrix snapshots; defaults
// to true when unset.
func (r *ResultsConfig) IncludeMatricesOrDefault() bool {
	if r.IncludeMatrices != nil {
		return *r.IncludeMatrices
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// WatchMatrix reloads the matrix file when it changes on disk.
	WatchMatrix bool `yaml:"watch_matrix"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Data.Path = expandPath(cfg.Data.Path, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Cache.Path = expandPath(cfg.Cache.Path, configDir)
	cfg.Results.Dir = expandPath(cfg.Results.Dir, configDir)
	cfg.Results.DatabasePath = expandPath(cfg.Results.DatabasePath, configDir)
	cfg.Results.MatrixPath = expandPath(cfg.Results.MatrixPath, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
