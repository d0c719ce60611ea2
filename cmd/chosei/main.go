// Package main is the chosei CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/cache"
	"github.com/hyperjump/chosei/internal/cli"
	"github.com/hyperjump/chosei/internal/config"
	"github.com/hyperjump/chosei/internal/dataset"
	"github.com/hyperjump/chosei/internal/embedding"
	"github.com/hyperjump/chosei/internal/models"
	"github.com/hyperjump/chosei/internal/optimize"
	"github.com/hyperjump/chosei/internal/pipeline"
	"github.com/hyperjump/chosei/internal/server"
	"github.com/hyperjump/chosei/internal/storage"
	"github.com/hyperjump/chosei/internal/watcher"
	"github.com/hyperjump/chosei/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/chosei/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// Secrets such as OPENAI_API_KEY may live in .env; a missing file is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "baseline":
		runBaseline()
	case "train":
		runTrain()
	case "cache":
		runCache()
	case "runs":
		runRuns()
	case "serve":
		runServe()
	case "version", "--version", "-v":
		fmt.Printf("chosei version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// commonFlags registers the flags every subcommand accepts.
func commonFlags(fs *flag.FlagSet) (configPath *string, debug *bool, format *string) {
	configPath = fs.String("config", defaultConfigPath, "config file path")
	debug = fs.Bool("debug", false, "enable debug logging")
	format = fs.String("format", "text", "output format: text or json")
	return configPath, debug, format
}

// setup loads the config and creates the logger for a subcommand.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)
	return cfg, logger
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runBaseline() {
	fs := flag.NewFlagSet("baseline", flag.ExitOnError)
	configPath, debug, formatFlag := commonFlags(fs)
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*formatFlag)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	pairs, err := pipeline.Prepare(dataOptions(cfg))
	if err != nil {
		logger.Fatal("Failed to prepare dataset", zap.Error(err))
	}
	if err := components.Pipeline.Embed(ctx, pairs); err != nil {
		logger.Fatal("Failed to embed pairs", zap.Error(err))
	}
	results, err := pipeline.Baseline(pairs)
	if err != nil {
		logger.Fatal("Failed to evaluate", zap.Error(err))
	}
	if err := cli.WriteBaseline(os.Stdout, results, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runTrain() {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath, debug, formatFlag := commonFlags(fs)
	maxEpochs := fs.Int("max-epochs", -1, "override max_epochs of every run (-1 keeps the config)")
	writeParquet := fs.Bool("parquet", false, "also write all records to a parquet file")
	matrixPath := fs.String("matrix", "", "where to save the best matrix (default from config)")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*formatFlag)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	if *writeParquet {
		cfg.Results.WriteParquet = true
	}
	if *matrixPath != "" {
		cfg.Results.MatrixPath = *matrixPath
	}
	runs := trainingRuns(cfg.Training.Runs, *maxEpochs)
	for i, params := range runs {
		if err := optimize.Validate(params); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid run %d: %v\n", i, err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	pairs, err := pipeline.Prepare(dataOptions(cfg))
	if err != nil {
		logger.Fatal("Failed to prepare dataset", zap.Error(err))
	}
	logger.Info("dataset prepared",
		zap.Int("train", len(models.FilterSplit(pairs, models.SplitTrain))),
		zap.Int("test", len(models.FilterSplit(pairs, models.SplitTest))),
	)
	report, err := components.Pipeline.Run(ctx, pairs, cfg.Training.Seed, runs, cfg.Results.MatrixPath)
	if err != nil {
		logger.Fatal("Training failed", zap.Error(err))
	}
	if err := cli.WriteReport(os.Stdout, report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// trainingRuns returns a copy of runs with MaxEpochs replaced when maxEpochs >= 0.
func trainingRuns(runs []models.RunParams, maxEpochs int) []models.RunParams {
	out := make([]models.RunParams, len(runs))
	copy(out, runs)
	if maxEpochs >= 0 {
		for i := range out {
			out[i].MaxEpochs = maxEpochs
		}
	}
	return out
}

func runCache() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: chosei cache <stats|warm> [flags]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("cache "+sub, flag.ExitOnError)
	configPath, debug, formatFlag := commonFlags(fs)
	workers := fs.Int("workers", 0, "concurrent embedding requests when warming (default from config)")
	_ = fs.Parse(os.Args[3:])
	format := parseFormat(*formatFlag)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch sub {
	case "stats":
		// Stats never embeds, so an empty registry is enough.
		c, err := cache.Open(ctx, cfg.Cache.Path, embedding.NewRegistry(), cache.WithLogger(logger), cache.WithRemote(cfg.Cache.RemoteURL))
		if err != nil {
			logger.Fatal("Failed to open cache", zap.Error(err))
		}
		stats := cli.CacheStats{
			Path:    c.Path(),
			Entries: c.Len(),
			Models:  c.Models(),
		}
		if size, err := storage.DiskUsageBytes(c.Path()); err == nil {
			stats.SizeBytes = size
		}
		if err := cli.WriteCacheStats(os.Stdout, stats, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "warm":
		components, err := initializeComponents(ctx, cfg, logger, false)
		if err != nil {
			logger.Fatal("Failed to initialize components", zap.Error(err))
		}
		defer components.Close()
		pairs, err := pipeline.Prepare(dataOptions(cfg))
		if err != nil {
			logger.Fatal("Failed to prepare dataset", zap.Error(err))
		}
		n := *workers
		if n <= 0 {
			n = cfg.Embedding.Workers
		}
		added, err := components.Cache.Warm(ctx, dataset.Texts(pairs), components.Model, n)
		if err != nil {
			logger.Fatal("Failed to warm cache", zap.Error(err))
		}
		fmt.Printf("Cached %d new embeddings (%d total) in %s\n", added, components.Cache.Len(), components.Cache.Path())
	default:
		fmt.Printf("Unknown cache command: %s\n", sub)
		os.Exit(1)
	}
}

func runRuns() {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath, debug, formatFlag := commonFlags(fs)
	best := fs.Bool("best", false, "show only the best recorded epoch")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*formatFlag)

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	store, err := storage.NewSQLiteStorage(cfg.Results.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open run database", zap.Error(err))
	}
	defer store.Close()
	ctx := context.Background()

	if *best {
		rec, err := store.BestRecord(ctx, "")
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Println("No runs recorded.")
			return
		}
		if err != nil {
			logger.Fatal("Failed to read best record", zap.Error(err))
		}
		fmt.Printf("run %s epoch %d %s accuracy %.1f%% (batch_size=%d learning_rate=%g dropout=%g)\n",
			rec.RunID, rec.Epoch, rec.Split, 100*rec.Accuracy,
			rec.Params.BatchSize, rec.Params.LearningRate, rec.Params.DropoutFraction)
		return
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		logger.Fatal("Failed to list runs", zap.Error(err))
	}
	if err := cli.WriteRuns(os.Stdout, runs, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath, debug, _ := commonFlags(fs)
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	matrix, err := loadServingMatrix(ctx, cfg.Results.MatrixPath, components.Store)
	if err != nil {
		logger.Warn("no matrix loaded; /api/v1/project is unavailable until one is written", zap.Error(err))
	}

	srv := server.NewServer(matrix, components.Cache, components.Store, cfg, logger)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Server.WatchMatrix && cfg.Results.MatrixPath != "" {
		watchSvc := watcher.NewWatcher([]string{cfg.Results.MatrixPath}, srv.ReloadMatrix, watcher.WithLogger(logger))
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// loadServingMatrix reads the matrix file at path, falling back to the matrix of the
// best stored record.
func loadServingMatrix(ctx context.Context, path string, store storage.RunStore) (*mat.Dense, error) {
	var fileErr error
	if path != "" {
		m, err := optimize.LoadMatrix(path)
		if err == nil {
			return m, nil
		}
		fileErr = err
	}
	if store == nil {
		return nil, fileErr
	}
	rec, err := store.BestRecord(ctx, "")
	if err != nil {
		return nil, errors.Join(fileErr, err)
	}
	if rec.Matrix != nil {
		return rec.Matrix, nil
	}
	records, err := store.GetRecords(ctx, rec.RunID, true)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Epoch == rec.Epoch && r.Matrix != nil {
			return r.Matrix, nil
		}
	}
	return nil, fmt.Errorf("run %s epoch %d has no stored matrix", rec.RunID, rec.Epoch)
}

// dataOptions maps the data section of the config onto pipeline options.
func dataOptions(cfg *config.Config) pipeline.DataOptions {
	return pipeline.DataOptions{
		Path:      cfg.Data.Path,
		Sheet:     cfg.Data.Sheet,
		Transform: cfg.Data.Transform,
		MaxPairs:  cfg.Data.MaxPairs,
		Build: dataset.BuildOptions{
			TestFraction:         cfg.Data.TestFraction,
			NegativesPerPositive: cfg.Data.NegativesPerPositive,
			GenerateNegatives:    cfg.Data.GenerateNegativesOrDefault(),
			Seed:                 cfg.Data.Seed,
		},
	}
}

// embeddingOptions maps the embedding section of the config onto factory options.
func embeddingOptions(cfg *config.Config) embedding.Options {
	return embedding.Options{
		Provider:          cfg.Embedding.Provider,
		Model:             cfg.Embedding.Model,
		BaseURL:           cfg.Embedding.BaseURL,
		APIKey:            cfg.Embedding.APIKey(),
		Dimensions:        cfg.Embedding.Dimensions,
		MaxTokens:         cfg.Embedding.MaxTokens,
		ModelPath:         cfg.Embedding.ModelPath,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Timeout:           cfg.Embedding.Timeout(),
	}
}

// resultOptions maps the results section of the config onto pipeline options.
func resultOptions(cfg *config.Config) pipeline.ResultOptions {
	return pipeline.ResultOptions{
		Dir:             cfg.Results.Dir,
		WriteCSV:        cfg.Results.WriteCSVOrDefault(),
		WriteParquet:    cfg.Results.WriteParquet,
		IncludeMatrices: cfg.Results.IncludeMatricesOrDefault(),
	}
}

// Components holds initialized services.
type Components struct {
	Registry *embedding.Registry
	Cache    *cache.Cache
	Store    storage.RunStore
	Pipeline *pipeline.Pipeline
	Model    string
}

func (c *Components) Close() {
	if c.Cache != nil {
		_ = c.Cache.Flush()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
}

// initializeComponents builds the embedder, the cache in front of it and the pipeline.
// The run database is opened only when withStore is set.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withStore bool) (*Components, error) {
	opts := embeddingOptions(cfg)
	embedder, err := embedding.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c := &Components{
		Registry: embedding.NewRegistry(embedder),
		Model:    embedding.ModelID(opts),
	}

	c.Cache, err = cache.Open(ctx, cfg.Cache.Path, c.Registry,
		cache.WithLogger(logger),
		cache.WithRemote(cfg.Cache.RemoteURL),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	logger.Info("embedding cache loaded",
		zap.String("path", c.Cache.Path()),
		zap.Int("entries", c.Cache.Len()),
		zap.String("model", c.Model),
	)

	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithResults(resultOptions(cfg)),
		pipeline.WithWorkers(cfg.Embedding.Workers),
	}
	if withStore && cfg.Results.DatabasePath != "" {
		store, err := storage.NewSQLiteStorage(cfg.Results.DatabasePath)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		c.Store = store
		pipelineOpts = append(pipelineOpts, pipeline.WithRunStore(store))
	}
	c.Pipeline = pipeline.New(c.Cache, c.Model, pipelineOpts...)
	return c, nil
}

func printUsage() {
	fmt.Println(`chosei - Optimize a projection matrix for pre-computed text embeddings

Usage:
  chosei baseline [flags]            Evaluate raw cosine similarity on the train and test splits
  chosei train [flags]               Run the hyperparameter sweep and save the best matrix
  chosei cache stats [flags]         Show embedding cache statistics
  chosei cache warm [flags]          Embed every dataset text into the cache
  chosei runs [flags]                List recorded optimization runs
  chosei serve [flags]               Serve the trained matrix over HTTP
  chosei version                     Show version
  chosei help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/chosei/config.yaml)
  --debug            Enable debug logging
  --format string    Output format: text or json (default: text)

Train Flags:
  --max-epochs int   Override max_epochs of every configured run
  --parquet          Also write all epoch records to optimization_results.parquet
  --matrix string    Where to save the best matrix (default: results.matrix_path)

Cache Warm Flags:
  --workers int      Concurrent embedding requests (default: embedding.workers)

Runs Flags:
  --best             Show only the best recorded epoch

Examples:
  chosei baseline
  chosei train --max-epochs 5
  chosei train --format json > report.json
  chosei cache warm --workers 8
  chosei runs --best
  chosei serve`)
}
