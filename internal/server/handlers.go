package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/chosei/internal/embedding"
	"github.com/hyperjump/chosei/internal/optimize"
	"github.com/hyperjump/chosei/internal/storage"
	"github.com/hyperjump/chosei/internal/vector"
)

type projectRequest struct {
	Embedding []float32 `json:"embedding"`
}

type projectResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m := s.Matrix()
	if m == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no matrix loaded")
		return
	}
	rows, _ := m.Dims()
	if len(req.Embedding) != rows {
		s.respondError(w, http.StatusBadRequest, "embedding length does not match the matrix")
		return
	}
	s.respondJSON(w, http.StatusOK, projectResponse{Embedding: optimize.Project(m, req.Embedding)})
}

type similarityRequest struct {
	Text1 string `json:"text_1"`
	Text2 string `json:"text_2"`
	Model string `json:"model,omitempty"`
}

type similarityResponse struct {
	Model                  string  `json:"model"`
	CosineSimilarity       float64 `json:"cosine_similarity"`
	CustomCosineSimilarity float64 `json:"custom_cosine_similarity"`
}

func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	var req similarityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text1 == "" || req.Text2 == "" {
		s.respondError(w, http.StatusBadRequest, "text_1 and text_2 are required")
		return
	}
	if req.Model == "" {
		req.Model = embedding.ModelID(s.embeddingOptions())
	}
	m := s.Matrix()
	if m == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no matrix loaded")
		return
	}
	s.logger.Debug("similarity request", zap.String("model", req.Model))

	var e1, e2 []float32
	e1, err := s.embeddings.Get(r.Context(), req.Text1, req.Model)
	if err == nil {
		e2, err = s.embeddings.Get(r.Context(), req.Text2, req.Model)
	}
	if err != nil {
		if errors.Is(err, embedding.ErrUnknownModel) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("embedding failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	rows, _ := m.Dims()
	if len(e1) != rows || len(e2) != rows {
		s.respondError(w, http.StatusBadRequest, "embedding length does not match the matrix")
		return
	}
	s.respondJSON(w, http.StatusOK, similarityResponse{
		Model:                  req.Model,
		CosineSimilarity:       vector.CosineSimilarity(e1, e2),
		CustomCosineSimilarity: optimize.Similarity(m, e1, e2),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusNotImplemented, "run store not configured")
		return
	}
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []storage.RunSummary{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusNotImplemented, "run store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	records, err := s.store.GetRecords(r.Context(), id, false)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"run": run, "records": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{}

	s.mu.RLock()
	if s.matrix != nil {
		rows, cols := s.matrix.Dims()
		resp["matrix"] = map[string]interface{}{
			"rows":      rows,
			"cols":      cols,
			"loaded_at": s.loadedAt,
		}
	}
	s.mu.RUnlock()

	if s.store != nil {
		n, err := s.store.CountRuns(r.Context())
		if err != nil {
			s.logger.Error("status: count runs failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["runs"] = n
	}
	if c, ok := s.embeddings.(interface{ Len() int }); ok {
		resp["cached_embeddings"] = c.Len()
	}

	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"embedding_provider": s.config.Embedding.Provider,
			"embedding_model":    embedding.ModelID(s.embeddingOptions()),
			"cache_path":         s.config.Cache.Path,
			"database_path":      s.config.Results.DatabasePath,
			"matrix_path":        s.config.Results.MatrixPath,
		}
		usage, err := storage.DiskUsage(
			s.config.Cache.Path,
			s.config.Results.DatabasePath,
			s.config.Results.MatrixPath,
		)
		if err == nil {
			var total int64
			for _, n := range usage {
				total += n
			}
			resp["disk_usage"] = usage
			resp["disk_usage_bytes"] = total
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) embeddingOptions() embedding.Options {
	if s.config == nil {
		return embedding.Options{Provider: embedding.ProviderMock}
	}
	return embedding.Options{
		Provider:  s.config.Embedding.Provider,
		Model:     s.config.Embedding.Model,
		ModelPath: s.config.Embedding.ModelPath,
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
