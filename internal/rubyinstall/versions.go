// Package rubyinstall manages portable interpreter installations: it
// lists what is installed, resolves version prefixes, and downloads and
// unpacks prebuilt interpreter archives under an advisory lock.
package rubyinstall

import (
	"os"
	"slices"
	"strings"

	"github.com/contriboss/orb/internal/gemver"
)

// Installed lists the interpreter versions under rubiesDir, newest
// first. Entries that do not parse as versions are ignored.
func Installed(rubiesDir string) []string {
	entries, err := os.ReadDir(rubiesDir)
	if err != nil {
		return nil
	}

	type parsed struct {
		name    string
		version gemver.Version
	}
	var versions []parsed
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := gemver.Parse(entry.Name())
		if err != nil {
			continue
		}
		versions = append(versions, parsed{name: entry.Name(), version: v})
	}

	slices.SortFunc(versions, func(a, b parsed) int {
		return b.version.Compare(a.version)
	})

	out := make([]string, len(versions))
	for i, p := range versions {
		out[i] = p.name
	}
	return out
}

// ResolvePrefix picks the highest installed version matching a prefix
// request: "3.4" matches 3.4.7 but not 3.40.0. An empty prefix returns
// the newest installed version. Returns "" when nothing matches.
func ResolvePrefix(installed []string, prefix string) string {
	var best string
	var bestVersion gemver.Version
	for _, version := range installed {
		if prefix != "" && version != prefix && !strings.HasPrefix(version, prefix+".") {
			continue
		}
		v, err := gemver.Parse(version)
		if err != nil {
			continue
		}
		if best == "" || v.Compare(bestVersion) > 0 {
			best, bestVersion = version, v
		}
	}
	return best
}
