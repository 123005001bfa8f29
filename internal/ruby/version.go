// Package ruby detects which interpreter version a project wants.
package ruby

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/contriboss/gemfile-go/gemfile"
	"github.com/pelletier/go-toml/v2"
)

// DetectVersion detects the Ruby version to use for a project.
// Priority:
//  1. Environment variables (RBENV_VERSION, ASDF_RUBY_VERSION)
//  2. Gemfile.lock RUBY VERSION
//  3. mise.toml / .mise.toml
//  4. .tool-versions (ASDF/Mise)
//  5. .ruby-version (Rbenv/Mise)
//  6. Gemfile ruby directive
//  7. defaultVersion
func DetectVersion(lockfilePath, gemfilePath, defaultVersion string) string {
	projectDir := filepath.Dir(gemfilePath)
	if projectDir == "" {
		projectDir = "."
	}

	if ver := DetectVersionFromEnv(); ver != "" {
		return ver
	}

	if ver := DetectVersionFromLockfile(lockfilePath); ver != "" {
		return ver
	}

	if ver := DetectVersionFromMiseToml(projectDir); ver != "" {
		return ver
	}

	if ver := DetectVersionFromToolVersions(projectDir); ver != "" {
		return ver
	}

	if ver := DetectVersionFromRubyVersionFile(projectDir); ver != "" {
		return ver
	}

	if ver := DetectVersionFromGemfile(gemfilePath); ver != "" {
		return ver
	}

	return defaultVersion
}

// DetectVersionFromLockfile extracts the Ruby version from the lockfile's
// RUBY VERSION section.
func DetectVersionFromLockfile(lockfilePath string) string {
	data, err := os.ReadFile(lockfilePath)
	if err != nil {
		return ""
	}

	lines := strings.Split(string(data), "\n")
	inRubySection := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if trimmed == "RUBY VERSION" {
			inRubySection = true
			continue
		}

		// Parse "   ruby 3.4.0p0" or "   ruby 3.4.0"
		if inRubySection && strings.HasPrefix(trimmed, "ruby ") {
			return Normalize(strings.TrimPrefix(trimmed, "ruby "))
		}

		if inRubySection && trimmed != "" {
			break
		}
	}

	return ""
}

// DetectVersionFromGemfile extracts the version from the Gemfile's ruby
// directive.
func DetectVersionFromGemfile(gemfilePath string) string {
	parser := gemfile.NewGemfileParser(gemfilePath)
	parsed, err := parser.Parse()
	if err != nil {
		return ""
	}

	if parsed.RubyVersion != "" {
		return Normalize(parsed.RubyVersion)
	}

	return ""
}

// Normalize converts version constraints to a usable version
// "3.4.0" -> "3.4.0"
// ">= 3.0.0" -> "3.0.0"
// "~> 3.3" -> "3.3"
// "3.2.2p53" -> "3.2.2" (strips patchlevel)
// "ruby-3.2.0" -> "3.2.0" (strips prefix)
func Normalize(constraint string) string {
	constraint = strings.TrimSpace(constraint)
	constraint = strings.TrimPrefix(constraint, ">=")
	constraint = strings.TrimPrefix(constraint, "~>")
	constraint = strings.TrimPrefix(constraint, ">")
	constraint = strings.TrimSpace(constraint)

	constraint = strings.TrimPrefix(constraint, "ruby-")

	// Remove patchlevel suffix (e.g., "3.2.2p53" -> "3.2.2")
	if idx := strings.Index(constraint, "p"); idx > 0 {
		constraint = constraint[:idx]
	}

	return constraint
}

// DetectVersionFromEnv checks environment variables for a Ruby version.
// Priority: RBENV_VERSION > ASDF_RUBY_VERSION
func DetectVersionFromEnv() string {
	if ver := os.Getenv("RBENV_VERSION"); ver != "" {
		return strings.TrimSpace(ver)
	}

	if ver := os.Getenv("ASDF_RUBY_VERSION"); ver != "" {
		return strings.TrimSpace(ver)
	}

	return ""
}

// walkUpForFile walks up from startDir to the filesystem root looking
// for filename. Returns the full path to the file if found.
func walkUpForFile(startDir, filename string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// DetectVersionFromMiseToml detects the version from mise.toml or
// .mise.toml, searching from dir upwards.
func DetectVersionFromMiseToml(dir string) string {
	for _, filename := range []string{"mise.toml", ".mise.toml"} {
		if path := walkUpForFile(dir, filename); path != "" {
			if ver := parseMiseToml(path); ver != "" {
				return ver
			}
		}
	}
	return ""
}

// parseMiseToml parses mise.toml/.mise.toml and extracts the ruby version
func parseMiseToml(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	var config struct {
		Tools map[string]interface{} `toml:"tools"`
	}

	if err := toml.Unmarshal(data, &config); err != nil {
		return ""
	}

	if config.Tools == nil {
		return ""
	}

	if rubyVersion, ok := config.Tools["ruby"]; ok {
		if ver, ok := rubyVersion.(string); ok {
			return ver
		}
	}

	return ""
}

// DetectVersionFromToolVersions detects the version from .tool-versions
// (ASDF/Mise format), searching from dir upwards.
func DetectVersionFromToolVersions(dir string) string {
	if path := walkUpForFile(dir, ".tool-versions"); path != "" {
		if ver := parseToolVersions(path); ver != "" {
			return ver
		}
	}
	return ""
}

// parseToolVersions parses a .tool-versions file (space-separated format)
func parseToolVersions(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "ruby" {
			return fields[1]
		}
	}

	return ""
}

// DetectVersionFromRubyVersionFile detects the version from a
// .ruby-version file (single line, optionally surrounded by whitespace),
// searching from dir up to the filesystem root.
func DetectVersionFromRubyVersionFile(dir string) string {
	if path := walkUpForFile(dir, ".ruby-version"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		return Normalize(strings.TrimSpace(string(data)))
	}
	return ""
}

// APIVersion converts a full interpreter version to the API version the
// library directories are keyed by: "3.4.7" -> "3.4.0".
func APIVersion(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) >= 2 {
		return parts[0] + "." + parts[1] + ".0"
	}
	if len(parts) == 1 && parts[0] != "" {
		return parts[0] + ".0.0"
	}
	return version
}
