package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	VendorDir string
	CacheDir  string
	DataDir   string
	Gemfile   string
}

// DefaultGemfilePath returns the default Gemfile path
// Supports both Gemfile and gems.rb naming conventions
func DefaultGemfilePath(cfg *Config) string {
	if env := os.Getenv("ORB_GEMFILE"); env != "" {
		return env
	}
	if cfg != nil && cfg.Gemfile != "" {
		return cfg.Gemfile
	}

	// Check for gems.rb first (newer Bundler 2.0+ convention)
	if _, err := os.Stat("gems.rb"); err == nil {
		return "gems.rb"
	}

	return "Gemfile"
}

// DefaultLockfilePath returns the lockfile path paired with a Gemfile path.
func DefaultLockfilePath(gemfilePath string) string {
	if filepath.Base(gemfilePath) == "gems.rb" {
		return filepath.Join(filepath.Dir(gemfilePath), "gems.locked")
	}
	return gemfilePath + ".lock"
}

// CacheDir returns the content-addressed archive cache root.
// Resolution order: ORB_CACHE_DIR, config file, XDG_CACHE_HOME, ~/.cache.
func CacheDir(cfg *Config) (string, error) {
	if cache := os.Getenv("ORB_CACHE_DIR"); cache != "" {
		return cache, nil
	}
	if cfg != nil && cfg.CacheDir != "" {
		return cfg.CacheDir, nil
	}

	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "orb"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine user home directory: %w", err)
	}
	return filepath.Join(home, ".cache", "orb"), nil
}

// GemCacheDir returns the directory holding downloaded .gem archives.
func GemCacheDir(cfg *Config) (string, error) {
	root, err := CacheDir(cfg)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "gems"), nil
}

// DataDir returns the persistent data root holding installed interpreters
// and ephemeral tool environments.
// Resolution order: ORB_DATA_DIR, config file, XDG_DATA_HOME, ~/.local/share.
func DataDir(cfg *Config) (string, error) {
	if data := os.Getenv("ORB_DATA_DIR"); data != "" {
		return data, nil
	}
	if cfg != nil && cfg.DataDir != "" {
		return cfg.DataDir, nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "orb"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine user home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "orb"), nil
}

// RubiesDir returns the directory holding installed interpreters.
func RubiesDir(cfg *Config) (string, error) {
	data, err := DataDir(cfg)
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "rubies"), nil
}

// ToolsDir returns the cache root for ephemeral tool environments,
// keyed first by interpreter API version.
func ToolsDir(cfg *Config, apiVersion string) (string, error) {
	data, err := DataDir(cfg)
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "tools", apiVersion), nil
}

// DefaultVendorDir returns the per-project environment directory.
// Priority: ORB_VENDOR_DIR, config file, Bundler .bundle/config, vendor/bundle.
func DefaultVendorDir(cfg *Config) string {
	if env := os.Getenv("ORB_VENDOR_DIR"); env != "" {
		return env
	}
	if cfg != nil && cfg.VendorDir != "" {
		return cfg.VendorDir
	}

	if bundlePath := ReadBundleConfigPath(); bundlePath != "" {
		return bundlePath
	}

	return filepath.Join("vendor", "bundle")
}

// ReadBundleConfigPath reads the BUNDLE_PATH from .bundle/config
func ReadBundleConfigPath() string {
	data, err := os.ReadFile(".bundle/config")
	if err != nil {
		return ""
	}

	var config map[string]interface{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return ""
	}

	if path, ok := config["BUNDLE_PATH"].(string); ok {
		return path
	}

	return ""
}

// WriteBundleConfig writes a .bundle/config file with the given path
// This keeps orb compatible with Bundler's configuration system
func WriteBundleConfig(bundlePath string) error {
	if err := os.MkdirAll(".bundle", 0755); err != nil {
		return fmt.Errorf("failed to create .bundle directory: %w", err)
	}

	config := map[string]string{
		"BUNDLE_PATH": bundlePath,
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(".bundle/config", data, 0644); err != nil {
		return fmt.Errorf("failed to write .bundle/config: %w", err)
	}

	return nil
}

// TempDir returns the directory for scratch files, honouring TMPDIR.
func TempDir() string {
	return os.TempDir()
}

// ToMajorMinor converts "3.4.7" to "3.4.0" (Bundler convention)
// Handles: "3.4.7" -> "3.4.0", "3.1" -> "3.1.0", "3" -> "3.0.0"
func ToMajorMinor(version string) string {
	parts := []string{}
	current := ""
	for i := 0; i < len(version); i++ {
		if version[i] == '.' {
			parts = append(parts, current)
			current = ""
		} else {
			current += string(version[i])
		}
	}
	if current != "" {
		parts = append(parts, current)
	}

	// Always return major.minor.0
	if len(parts) >= 2 {
		return parts[0] + "." + parts[1] + ".0"
	} else if len(parts) == 1 {
		return parts[0] + ".0.0"
	}
	return version
}
