package compactindex

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"github.com/contriboss/orb/internal/config"
)

// CachePathFor computes the on-disk cache directory for a gem server URL.
// The layout mirrors Bundler's compact index cache so the slug stays
// stable per server: {cache}/compact_index/{host}.{port}.{md5(url)}
func CachePathFor(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", baseURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid URL %q: missing host", baseURL)
	}

	hash := md5.Sum([]byte(u.String()))
	hexHash := fmt.Sprintf("%x", hash)

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	serverSlug := fmt.Sprintf("%s.%s.%s", u.Hostname(), port, hexHash)

	cacheRoot, err := config.CacheDir(nil)
	if err != nil {
		return "", err
	}

	return filepath.Join(cacheRoot, "compact_index", serverSlug), nil
}

var specialChars = regexp.MustCompile(`[^a-z0-9\-_]`)

// InfoPathFor returns the cache path of a gem's info file. Names with
// characters outside [a-z0-9-_] get an MD5 suffix in a separate directory,
// matching Bundler's rules.
func InfoPathFor(cacheDir, gemName string) string {
	if specialChars.MatchString(gemName) {
		hash := md5.Sum([]byte(gemName))
		return filepath.Join(cacheDir, "info-special-characters", fmt.Sprintf("%s-%x", gemName, hash))
	}
	return filepath.Join(cacheDir, "info", gemName)
}

// EnsureCacheDirectories creates the cache directory structure.
func EnsureCacheDirectories(cacheDir string) error {
	for _, dir := range []string{cacheDir, filepath.Join(cacheDir, "info"), filepath.Join(cacheDir, "info-special-characters")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
		}
	}
	return nil
}
