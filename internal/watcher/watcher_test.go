package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type changes struct {
	mu    sync.Mutex
	paths []string
}

func (c *changes) add(path string) {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
}

func (c *changes) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "best.bin")
	var got changes
	w := NewWatcher([]string{target}, got.add, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(target, []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return len(got.snapshot()) > 0 })
	time.Sleep(150 * time.Millisecond)
	paths := got.snapshot()
	if len(paths) != 1 || paths[0] != target {
		t.Errorf("changes = %v, want one for %s", paths, target)
	}
}

func TestWatcher_RenameIntoPlace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "best.bin")
	var got changes
	w := NewWatcher([]string{target}, got.add, WithDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	tmp := filepath.Join(dir, "best.bin.tmp")
	if err := os.WriteFile(tmp, []byte("m"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, target); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(got.snapshot()) > 0 })
	for _, p := range got.snapshot() {
		if p != target {
			t.Errorf("unexpected change for %s", p)
		}
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	var got changes
	w := NewWatcher([]string{filepath.Join(dir, "best.bin")}, got.add, WithDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "other.bin"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := len(got.snapshot()); n != 0 {
		t.Errorf("got %d changes for unrelated file", n)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_StartMissingDirectory(t *testing.T) {
	w := NewWatcher([]string{filepath.Join(t.TempDir(), "missing", "best.bin")}, nil)
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error for a missing directory")
	}
}
