// Package cache reports on and prunes the archive cache.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stats represents cache statistics
type Stats struct {
	Files     int
	TotalSize int64
}

// CollectStats walks the cache directory and collects statistics
func CollectStats(cacheDir string) (Stats, error) {
	var stats Stats

	err := filepath.WalkDir(cacheDir, func(path string, d os.DirEntry, err error) error {
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
		stats.Files++
		stats.TotalSize += info.Size()
		return nil
	})

	if os.IsNotExist(err) {
		return stats, nil
	}

	return stats, err
}

// Prune removes cached archives not touched within maxAge and reports
// how many files were deleted and how many bytes were reclaimed.
func Prune(cacheDir string, maxAge time.Duration) (Stats, error) {
	var removed Stats
	cutoff := time.Now().Add(-maxAge)

	err := filepath.WalkDir(cacheDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".gem" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed.Files++
		removed.TotalSize += info.Size()
		return nil
	})

	if os.IsNotExist(err) {
		return removed, nil
	}

	return removed, err
}

// HumanBytes converts bytes to human-readable format (KiB, MiB, GiB, etc)
func HumanBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
