package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBytes(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, n), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache.gob")
	writeBytes(t, cache, 5)

	results := filepath.Join(dir, "results")
	if err := os.MkdirAll(filepath.Join(results, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	writeBytes(t, filepath.Join(results, "a.csv"), 2)
	writeBytes(t, filepath.Join(results, "nested", "b.parquet"), 1)

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{cache}, 5},
		{"directory is recursive", []string{results}, 3},
		{"file and directory", []string{cache, results}, 8},
		{"missing path is zero", []string{cache, filepath.Join(dir, "nonexistent"), results}, 8},
		{"empty path is skipped", []string{"", cache}, 5},
		{"duplicate path counted once", []string{cache, cache}, 5},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("DiskUsageBytes(%v) = %d, want %d", tt.paths, got, tt.want)
			}
		})
	}
}

func TestDiskUsage_countsWALSidecars(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	writeBytes(t, db, 10)
	writeBytes(t, db+"-wal", 4)
	writeBytes(t, db+"-shm", 2)

	usage, err := DiskUsage(db, filepath.Join(dir, "missing.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if usage[db] != 16 {
		t.Errorf("database usage = %d, want 16", usage[db])
	}
	if n, ok := usage[filepath.Join(dir, "missing.bin")]; !ok || n != 0 {
		t.Errorf("missing path = %d (present %v), want 0", n, ok)
	}
}
