package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/chosei/internal/embedding"
)

type countingSource struct {
	calls atomic.Int64
	delay time.Duration
	fail  error
}

func (s *countingSource) Embed(ctx context.Context, text, model string) ([]float32, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail != nil {
		return nil, s.fail
	}
	return []float32{float32(len(text)), float32(len(model)), 0.5}, nil
}

func TestGet_missThenHit(t *testing.T) {
	src := &countingSource{}
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "embeddings.gob"), src)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	first, err := c.Get(ctx, "hello", "m")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Get(ctx, "hello", "m")
	if err != nil {
		t.Fatal(err)
	}
	if src.calls.Load() != 1 {
		t.Errorf("source calls = %d, want 1", src.calls.Load())
	}
	if &first[0] != &second[0] {
		t.Error("hit should return the stored vector")
	}
	if _, err := c.Get(ctx, "hello", "other"); err != nil {
		t.Fatal(err)
	}
	if src.calls.Load() != 2 {
		t.Errorf("different model must be a separate entry, calls = %d", src.calls.Load())
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestGet_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "embeddings.gob")
	ctx := context.Background()
	src := &countingSource{}
	c, err := Open(ctx, path, src)
	if err != nil {
		t.Fatal(err)
	}
	const n = 25
	want := make(map[Key][]float32)
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("text number %d", i)
		v, err := c.Get(ctx, text, "m")
		if err != nil {
			t.Fatal(err)
		}
		want[Key{Text: text, Model: "m"}] = v
	}

	reloadSrc := &countingSource{}
	reloaded, err := Open(ctx, path, reloadSrc)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != n {
		t.Fatalf("reloaded Len() = %d, want %d", reloaded.Len(), n)
	}
	for k, v := range want {
		got, err := reloaded.Get(ctx, k.Text, k.Model)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(v) {
			t.Fatalf("vector length mismatch for %q", k.Text)
		}
		for i := range v {
			if got[i] != v[i] {
				t.Errorf("%q[%d] = %v, want %v", k.Text, i, got[i], v[i])
			}
		}
	}
	if reloadSrc.calls.Load() != 0 {
		t.Errorf("reloaded cache called source %d times", reloadSrc.calls.Load())
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestGet_sourceError(t *testing.T) {
	boom := errors.New("quota exceeded")
	src := &countingSource{fail: boom}
	path := filepath.Join(t.TempDir(), "embeddings.gob")
	c, err := Open(context.Background(), path, src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), "x", "m"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("failed lookups must not be cached")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("nothing should be written after a failure")
	}
}

func TestOpen_remoteSnapshot(t *testing.T) {
	var buf bytes.Buffer
	if err := encode(&buf, map[Key][]float32{{Text: "a", Model: "m"}: {1, 2}}); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "embeddings.gob")
	src := &countingSource{}
	c, err := Open(context.Background(), path, src, WithRemote(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Get(context.Background(), "a", "m")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 2 || v[1] != 2 || src.calls.Load() != 0 {
		t.Errorf("expected snapshot entry, got %v (calls %d)", v, src.calls.Load())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot should be written locally: %v", err)
	}
}

func TestOpen_remoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "c.gob"), &countingSource{}, WithRemote(srv.URL))
	if err == nil {
		t.Fatal("expected error when the snapshot cannot be fetched")
	}
}

func TestOpen_corruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.gob")
	if err := os.WriteFile(path, []byte("not gob"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), path, &countingSource{}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestGet_concurrentSameKey(t *testing.T) {
	src := &countingSource{delay: 20 * time.Millisecond}
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "c.gob"), src)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "same", "m"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if src.calls.Load() != 1 {
		t.Errorf("source calls = %d, want 1", src.calls.Load())
	}
}

func TestWarm(t *testing.T) {
	src := &countingSource{}
	path := filepath.Join(t.TempDir(), "c.gob")
	c, err := Open(context.Background(), path, src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), "b", "m"); err != nil {
		t.Fatal(err)
	}
	added, err := c.Warm(context.Background(), []string{"a", "b", "c", "a", "d", "c"}, "m", 3)
	if err != nil {
		t.Fatal(err)
	}
	if added != 3 {
		t.Errorf("added = %d, want 3", added)
	}
	if src.calls.Load() != 4 {
		t.Errorf("source calls = %d, want 4", src.calls.Load())
	}
	reloaded, err := Open(context.Background(), path, src)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 4 {
		t.Errorf("persisted entries = %d, want 4", reloaded.Len())
	}
	if got := reloaded.Models()["m"]; got != 4 {
		t.Errorf("Models()[m] = %d", got)
	}
}

func TestWarm_error(t *testing.T) {
	src := &countingSource{fail: errors.New("down")}
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "c.gob"), src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Warm(context.Background(), []string{"a", "b"}, "m", 2); err == nil {
		t.Fatal("expected error")
	}
}

func TestKeys_sorted(t *testing.T) {
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "c.gob"), &countingSource{})
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []Key{{"z", "b"}, {"a", "b"}, {"m", "a"}} {
		if _, err := c.Get(context.Background(), k.Text, k.Model); err != nil {
			t.Fatal(err)
		}
	}
	keys := c.Keys()
	want := []Key{{"m", "a"}, {"a", "b"}, {"z", "b"}}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestGet_persistFailureKeepsEntryOut(t *testing.T) {
	src := &countingSource{}
	dir := filepath.Join(t.TempDir(), "cache")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	c, err := Open(context.Background(), filepath.Join(dir, "c.gob"), src)
	if err != nil {
		t.Fatal(err)
	}
	// Replace the directory with a plain file so that no temp file can be created in it.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir, []byte("not a directory"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Get(context.Background(), "a", "m"); err == nil {
		t.Fatal("expected persist error")
	}
	if c.Contains(Key{Text: "a", Model: "m"}) || c.Len() != 0 {
		t.Errorf("entry kept after failed persist: len=%d", c.Len())
	}
	if _, err := c.Get(context.Background(), "a", "m"); err == nil {
		t.Fatal("second Get should retry and fail again, not return an unpersisted hit")
	}
	if src.calls.Load() != 2 {
		t.Errorf("source calls = %d, want 2", src.calls.Load())
	}
}

func TestOpen_noRemoteWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "c.gob"), &countingSource{}, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
	if logs.Len() != 1 {
		t.Errorf("warnings = %d, want 1", logs.Len())
	}
}

// openAIHandler answers embedding requests with vectors derived from the input length.
func openAIHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data := make([]map[string]interface{}, len(req.Input))
	for i, text := range req.Input {
		data[i] = map[string]interface{}{
			"object":    "embedding",
			"index":     i,
			"embedding": []float32{float32(len(text)), 1, 0.5},
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "model": req.Model, "data": data})
}

func TestWarm_openAIConcurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(openAIHandler))
	defer srv.Close()
	e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "c.gob"), embedding.NewRegistry(e))
	if err != nil {
		t.Fatal(err)
	}
	texts := make([]string, 8)
	for i := range texts {
		texts[i] = fmt.Sprintf("text number %d", i)
	}
	added, err := c.Warm(context.Background(), texts, "m", 8)
	if err != nil {
		t.Fatal(err)
	}
	if added != len(texts) || c.Len() != len(texts) {
		t.Errorf("added = %d, len = %d, want %d", added, c.Len(), len(texts))
	}
	if e.Dimensions() != 3 {
		t.Errorf("Dimensions = %d, want 3", e.Dimensions())
	}
}
