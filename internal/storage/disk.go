package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// walSidecars are the files SQLite keeps next to a database in WAL mode.
var walSidecars = []string{"-wal", "-shm"}

// DiskUsage returns the size in bytes of each non-empty path. A directory is summed
// recursively; a file also counts its SQLite WAL sidecars when present. Missing paths
// report 0.
func DiskUsage(paths ...string) (map[string]int64, error) {
	usage := make(map[string]int64, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return nil, err
		}
		usage[p] = n
	}
	return usage, nil
}

// DiskUsageBytes returns the total of DiskUsage over paths. A path listed twice is
// counted once.
func DiskUsageBytes(paths ...string) (int64, error) {
	usage, err := DiskUsage(paths...)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range usage {
		total += n
	}
	return total, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return dirSize(p)
	}
	total := info.Size()
	for _, suffix := range walSidecars {
		if side, err := os.Stat(p + suffix); err == nil && !side.IsDir() {
			total += side.Size()
		}
	}
	return total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
