package cache

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const formatVersion = 1

type fileEntry struct {
	Text   string
	Model  string
	Vector []float32
}

type snapshot struct {
	Version int
	Entries []fileEntry
}

func encode(w io.Writer, entries map[Key][]float32) error {
	keys := make([]Key, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sortKeys(keys)
	snap := snapshot{Version: formatVersion, Entries: make([]fileEntry, len(keys))}
	for i, k := range keys {
		snap.Entries[i] = fileEntry{Text: k.Text, Model: k.Model, Vector: entries[k]}
	}
	return gob.NewEncoder(w).Encode(&snap)
}

func decode(r io.Reader) (map[Key][]float32, error) {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	if snap.Version != formatVersion {
		return nil, fmt.Errorf("unsupported cache format version %d", snap.Version)
	}
	entries := make(map[Key][]float32, len(snap.Entries))
	for _, e := range snap.Entries {
		entries[Key{Text: e.Text, Model: e.Model}] = e.Vector
	}
	return entries, nil
}

func readFile(path string) (map[Key][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// writeFile replaces path atomically: the snapshot is written to a temporary file in the
// same directory, synced and renamed over the target.
func writeFile(path string, entries map[Key][]float32) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := encode(tmp, entries); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
