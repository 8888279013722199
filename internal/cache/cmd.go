package cache

import (
	"fmt"
	"log/slog"
	"os"
)

// rawValue lets the maintenance helpers load any cache file without knowing
// the record type. Both codecs decode objects into it and encode it back.
type rawValue = map[string]any

// FileInfo describes a cache artifact on disk.
type FileInfo struct {
	Path   string
	Exists bool
	Size   int64
	Stats  Stats
}

// Inspect reads the cache file at path and reports its contents. A missing
// file is not an error.
func Inspect(path string) (FileInfo, error) {
	info := FileInfo{Path: path}

	fi, err := os.Stat(path)
	switch {
	case err == nil:
		info.Exists = true
		info.Size = fi.Size()
	case !os.IsNotExist(err):
		return info, fmt.Errorf("failed to stat cache file: %w", err)
	}

	c, err := Open[rawValue](path)
	if err != nil {
		return info, err
	}
	info.Stats = c.Stats()
	return info, nil
}

// ForgetMissesFile removes every negative entry from the cache file at path
// so the next run asks the service again. It returns the number removed.
func ForgetMissesFile(path string) (int, error) {
	c, err := Open[rawValue](path)
	if err != nil {
		return 0, err
	}

	removed := c.ForgetMisses()
	if err := c.Save(); err != nil {
		return 0, fmt.Errorf("failed to save cache: %w", err)
	}

	slog.Info("Forgot cached misses", "path", path, "removed", removed, "remaining", c.Len())
	return removed, nil
}
