package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func records(runID string, params models.RunParams, accuracies ...float64) []models.EpochRecord {
	var out []models.EpochRecord
	for i := 0; i+1 < len(accuracies); i += 2 {
		epoch := i/2 + 1
		m := mat.NewDense(2, 2, []float64{float64(epoch), 0, 0, 1})
		for j, split := range models.Splits {
			out = append(out, models.EpochRecord{
				RunID:    runID,
				Epoch:    epoch,
				Split:    split,
				Loss:     0.5 / float64(epoch),
				Accuracy: accuracies[i+j],
				Params:   params,
				Matrix:   m,
			})
		}
	}
	return out
}

func TestSQLiteStorage_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	params := models.RunParams{ModifiedEmbeddingLength: 2, BatchSize: 10, MaxEpochs: 2, LearningRate: 10, Seed: 1}

	recs := records("run-a", params, 0.6, 0.55, 0.7, 0.65)
	if err := store.SaveRun(ctx, RunSummary{ID: "run-a", Params: params}, recs); err != nil {
		t.Fatal(err)
	}

	run, err := store.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatal(err)
	}
	if run.Params != params || run.Epochs != 2 || run.BestAccuracy != 0.7 {
		t.Errorf("got %+v", run)
	}

	got, err := store.GetRecords(ctx, "run-a", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 records, got %d", len(got))
	}
	if got[0].Split != models.SplitTrain || got[1].Split != models.SplitTest || got[2].Epoch != 2 {
		t.Errorf("unexpected order: %+v", got)
	}
	if got[2].Matrix == nil || got[2].Matrix.At(0, 0) != 2 {
		t.Error("matrix not restored")
	}
	if got[2].Matrix != got[3].Matrix {
		t.Error("records of one epoch should share the matrix")
	}

	plain, err := store.GetRecords(ctx, "run-a", false)
	if err != nil {
		t.Fatal(err)
	}
	if plain[0].Matrix != nil {
		t.Error("matrix loaded without being requested")
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_ListAndBest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.BestRecord(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty store: expected ErrNotFound, got %v", err)
	}

	p1 := models.RunParams{BatchSize: 10, LearningRate: 10}
	p2 := models.RunParams{BatchSize: 100, LearningRate: 100}
	now := time.Now()
	if err := store.SaveRun(ctx, RunSummary{ID: "first", Params: p1, CreatedAt: now.Add(-time.Minute)},
		records("first", p1, 0.9, 0.8)); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRun(ctx, RunSummary{ID: "second", Params: p2, CreatedAt: now, StoppedEarly: true},
		records("second", p2, 0.9, 0.85)); err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "second" || !runs[0].StoppedEarly {
		t.Errorf("ListRuns = %+v", runs)
	}
	if n, _ := store.CountRuns(ctx); n != 2 {
		t.Errorf("CountRuns = %d", n)
	}

	best, err := store.BestRecord(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if best.RunID != "first" || best.Split != models.SplitTrain || best.Matrix == nil {
		t.Errorf("tie should go to the earliest record, got %+v", best)
	}
	bestTest, err := store.BestRecord(ctx, models.SplitTest)
	if err != nil {
		t.Fatal(err)
	}
	if bestTest.RunID != "second" || bestTest.Params != p2 {
		t.Errorf("best test record = %+v", bestTest)
	}
}

func TestSQLiteStorage_rejectsForeignRecords(t *testing.T) {
	store := newTestStore(t)
	err := store.SaveRun(context.Background(), RunSummary{ID: "a"}, records("b", models.RunParams{}, 0.5, 0.5))
	if err == nil {
		t.Fatal("expected error")
	}
	if n, _ := store.CountRuns(context.Background()); n != 0 {
		t.Error("failed save should roll back")
	}
}
