// Package extensions builds native gem extensions: extconf configure,
// make, and a site-install steered into the gem's own lib directory.
package extensions

import (
	"os"
	"path/filepath"
	"strings"
)

// compiledSuffixes are the artefact types that mark a prebuilt gem.
var compiledSuffixes = []string{".so", ".bundle", ".dll", ".dylib"}

// HasPrebuiltArtifacts reports whether the gem already ships compiled
// native objects under lib/, which happens when a platform-specific
// archive was installed. Such gems skip the build entirely.
func HasPrebuiltArtifacts(gemDir string) bool {
	libDir := filepath.Join(gemDir, "lib")
	if _, err := os.Stat(libDir); err != nil {
		return false
	}

	found := false
	_ = filepath.WalkDir(libDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		for _, suffix := range compiledSuffixes {
			if strings.HasSuffix(path, suffix) {
				found = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found
}

// ConfigureScripts filters an extensions list down to the interpreter
// configure scripts this builder knows how to drive.
func ConfigureScripts(extensions []string) []string {
	var out []string
	for _, ext := range extensions {
		if filepath.Base(ext) == "extconf.rb" {
			out = append(out, ext)
		}
	}
	return out
}

// NeedsBuild reports whether a gem with the given extension list still
// requires compilation.
func NeedsBuild(gemDir string, extensions []string) bool {
	if len(ConfigureScripts(extensions)) == 0 {
		return false
	}
	return !HasPrebuiltArtifacts(gemDir)
}
