package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/cache"
	"github.com/hyperjump/chosei/internal/config"
	"github.com/hyperjump/chosei/internal/embedding"
	"github.com/hyperjump/chosei/internal/models"
	"github.com/hyperjump/chosei/internal/optimize"
	"github.com/hyperjump/chosei/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.SQLiteStorage) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Embedding.Provider = embedding.ProviderMock
	cfg.Cache.Path = filepath.Join(dir, "cache.gob")
	cfg.Results.DatabasePath = filepath.Join(dir, "runs.db")
	cfg.Results.MatrixPath = filepath.Join(dir, "best.bin")
	config.ApplyDefaults(cfg)

	c, err := cache.Open(context.Background(), cfg.Cache.Path, embedding.NewRegistry(embedding.NewMockEmbedder(4)))
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Results.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	m := mat.NewDense(4, 2, []float64{1, 0, 0, 1, 0, 0, 0, 0})
	return NewServer(m, c, store, cfg, zap.NewNop()), store
}

func TestHandleProject(t *testing.T) {
	srv, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"embedding":[1,2,3,4]}`)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/project", body)
	w := httptest.NewRecorder()
	srv.handleProject(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out projectResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Embedding) != 2 || out.Embedding[0] != 1 || out.Embedding[1] != 2 {
		t.Errorf("embedding = %v, want [1 2]", out.Embedding)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/v1/project", bytes.NewBufferString(`{"embedding":[1,2]}`))
	w = httptest.NewRecorder()
	srv.handleProject(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("length mismatch: got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/v1/project", bytes.NewBufferString(`not json`))
	w = httptest.NewRecorder()
	srv.handleProject(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid body: got %d", w.Code)
	}
}

func TestHandleSimilarity(t *testing.T) {
	srv, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/similarity",
		bytes.NewBufferString(`{"text_1":"a cat","text_2":"a kitten"}`))
	w := httptest.NewRecorder()
	srv.handleSimilarity(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out similarityResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Model != embedding.MockModel {
		t.Errorf("model = %q", out.Model)
	}
	if math.Abs(out.CosineSimilarity) > 1 || math.Abs(out.CustomCosineSimilarity) > 1 {
		t.Errorf("similarities out of range: %+v", out)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/v1/similarity",
		bytes.NewBufferString(`{"text_1":"a","text_2":"b","model":"unknown"}`))
	w = httptest.NewRecorder()
	srv.handleSimilarity(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown model: got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/v1/similarity", bytes.NewBufferString(`{"text_1":"a"}`))
	w = httptest.NewRecorder()
	srv.handleSimilarity(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing text_2: got %d", w.Code)
	}
}

func TestRuns(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	params := models.RunParams{ModifiedEmbeddingLength: 2, BatchSize: 10, MaxEpochs: 1, LearningRate: 10}
	recs := []models.EpochRecord{
		{RunID: "run-1", Epoch: 1, Split: models.SplitTrain, Accuracy: 0.8, Params: params},
		{RunID: "run-1", Epoch: 1, Split: models.SplitTest, Accuracy: 0.7, Params: params},
	}
	if err := store.SaveRun(ctx, storage.RunSummary{ID: "run-1", Params: params}, recs); err != nil {
		t.Fatal(err)
	}
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list: got %d", w.Code)
	}
	var list struct {
		Runs []storage.RunSummary `json:"runs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != "run-1" || list.Runs[0].BestAccuracy != 0.8 {
		t.Errorf("runs = %+v", list.Runs)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}
	var one struct {
		Records []models.EpochRecord `json:"records"`
	}
	if err := json.NewDecoder(w.Body).Decode(&one); err != nil {
		t.Fatal(err)
	}
	if len(one.Records) != 2 {
		t.Errorf("records = %d", len(one.Records))
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run: got %d", w.Code)
	}
}

func TestHandleStatusAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.handleStatus(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	matrix, ok := out["matrix"].(map[string]interface{})
	if !ok || matrix["rows"] != float64(4) || matrix["cols"] != float64(2) {
		t.Errorf("matrix = %v", out["matrix"])
	}
	if out["runs"] != float64(0) {
		t.Errorf("runs = %v", out["runs"])
	}
	if _, ok := out["cached_embeddings"]; !ok {
		t.Error("cached_embeddings missing")
	}
	if n, ok := out["disk_usage_bytes"].(float64); !ok || n <= 0 {
		t.Errorf("disk_usage_bytes = %v, want the size of the run database", out["disk_usage_bytes"])
	}
	if usage, ok := out["disk_usage"].(map[string]interface{}); !ok || len(usage) != 3 {
		t.Errorf("disk_usage = %v, want one entry per path", out["disk_usage"])
	}

	w = httptest.NewRecorder()
	srv.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}
}

func TestReloadMatrix(t *testing.T) {
	srv, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "m.bin")
	next := mat.NewDense(4, 3, nil)
	if err := optimize.SaveMatrix(path, next); err != nil {
		t.Fatal(err)
	}
	srv.ReloadMatrix(path)
	if _, c := srv.Matrix().Dims(); c != 3 {
		t.Errorf("cols = %d, want 3", c)
	}
	srv.ReloadMatrix(filepath.Join(t.TempDir(), "missing.bin"))
	if _, c := srv.Matrix().Dims(); c != 3 {
		t.Error("failed reload should keep the current matrix")
	}
}

func TestHandleProject_noMatrix(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, zap.NewNop())
	w := httptest.NewRecorder()
	srv.handleProject(w, httptest.NewRequest(http.MethodPost, "/api/v1/project", bytes.NewBufferString(`{"embedding":[1]}`)))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d", w.Code)
	}
	w = httptest.NewRecorder()
	srv.handleListRuns(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if w.Code != http.StatusNotImplemented {
		t.Errorf("runs without store: got %d", w.Code)
	}
}
