// Package server provides the HTTP API that applies a trained projection matrix.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/config"
	"github.com/hyperjump/chosei/internal/optimize"
	"github.com/hyperjump/chosei/internal/storage"
)

// Embeddings returns the embedding of a text under a model.
type Embeddings interface {
	Get(ctx context.Context, text, model string) ([]float32, error)
}

// Server is the HTTP server for the chosei API.
type Server struct {
	embeddings Embeddings
	store      storage.RunStore
	config     *config.Config
	logger     *zap.Logger
	server     *http.Server

	mu       sync.RWMutex
	matrix   *mat.Dense
	loadedAt time.Time
}

// NewServer creates a server with the given dependencies. store may be nil.
func NewServer(
	matrix *mat.Dense,
	embeddings Embeddings,
	store storage.RunStore,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		embeddings: embeddings,
		store:      store,
		config:     cfg,
		logger:     logger,
		matrix:     matrix,
		loadedAt:   time.Now(),
	}
}

// Matrix returns the matrix currently applied by the server.
func (s *Server) Matrix() *mat.Dense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matrix
}

// SetMatrix replaces the matrix applied by the server.
func (s *Server) SetMatrix(m *mat.Dense) {
	s.mu.Lock()
	s.matrix = m
	s.loadedAt = time.Now()
	s.mu.Unlock()
}

// ReloadMatrix reads the matrix file at path and swaps it in. The current matrix is
// kept when the file cannot be read.
func (s *Server) ReloadMatrix(path string) {
	m, err := optimize.LoadMatrix(path)
	if err != nil {
		s.logger.Warn("failed to reload matrix", zap.String("path", path), zap.Error(err))
		return
	}
	s.SetMatrix(m)
	r, c := m.Dims()
	s.logger.Info("reloaded matrix", zap.String("path", path), zap.Int("rows", r), zap.Int("cols", c))
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/project", s.handleProject)
	r.Post("/api/v1/similarity", s.handleSimilarity)
	r.Get("/api/v1/runs", s.handleListRuns)
	r.Get("/api/v1/runs/{id}", s.handleGetRun)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
