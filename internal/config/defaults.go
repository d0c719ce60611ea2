package config

import "github.com/hyperjump/chosei/internal/models"

// DefaultRuns is the sweep used when no runs are configured: three batch sizes, each
// with a learning rate equal to the batch size.
func DefaultRuns() []models.RunParams {
	var runs []models.RunParams
	for _, size := range []int{10, 100, 1000} {
		runs = append(runs, models.RunParams{
			ModifiedEmbeddingLength: 2048,
			BatchSize:               size,
			MaxEpochs:               30,
			LearningRate:            float64(size),
			DropoutFraction:         0.2,
		})
	}
	return runs
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Data.Path == "" {
		cfg.Data.Path = "./data/snli_1.0_train_2k.csv"
	}
	if cfg.Data.Transform == "" {
		cfg.Data.Transform = "snli"
	}
	if cfg.Data.TestFraction == 0 {
		cfg.Data.TestFraction = 0.5
	}
	if cfg.Data.NegativesPerPositive == 0 {
		cfg.Data.NegativesPerPositive = 1
	}
	if cfg.Data.Seed == 0 {
		cfg.Data.Seed = 123
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = 4
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "./data/embeddings_cache.gob"
	}
	if len(cfg.Training.Runs) == 0 {
		cfg.Training.Runs = DefaultRuns()
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "./results"
	}
	if cfg.Results.DatabasePath == "" {
		cfg.Results.DatabasePath = "./data/runs.db"
	}
	if cfg.Results.MatrixPath == "" {
		cfg.Results.MatrixPath = "./results/best_matrix.bin"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
}
