// Package lockfile writes Bundler-compatible Gemfile.lock files.
//
// The output is deterministic and byte-exact: given the same resolved set
// and roots, two runs emit identical files. Reading existing lockfiles is
// done with github.com/contriboss/gemfile-go/lockfile; this package only
// owns the write side, where the exact byte layout matters.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Spec is one resolved gem as it appears under the specs: block.
type Spec struct {
	Name         string
	Version      string
	Platform     string // empty for pure gems
	Dependencies []Dependency
}

// Dependency is a requirement line. Constraints carries the source
// constraint strings exactly as the registry reported them at resolution
// time; they are re-emitted verbatim.
type Dependency struct {
	Name        string
	Constraints []string
}

// Root is a top-level dependency from the manifest. SourceOverridden
// marks roots whose source was overridden (path:, source:), which gain a
// trailing "!" in the DEPENDENCIES block.
type Root struct {
	Name             string
	Constraints      []string
	SourceOverridden bool
}

// Lockfile is everything the writer needs.
type Lockfile struct {
	Remote      string
	Specs       []Spec
	Platforms   []string
	Roots       []Root
	BundledWith string
}

// Render produces the lockfile bytes.
func Render(lock *Lockfile) []byte {
	var b strings.Builder

	specs := append([]Spec(nil), lock.Specs...)
	slices.SortFunc(specs, func(a, c Spec) int {
		if n := strings.Compare(a.Name, c.Name); n != 0 {
			return n
		}
		return strings.Compare(a.Platform, c.Platform)
	})

	b.WriteString("GEM\n")
	fmt.Fprintf(&b, "  remote: %s\n", lock.Remote)
	b.WriteString("  specs:\n")
	for _, spec := range specs {
		name := spec.Name
		version := spec.Version
		if spec.Platform != "" {
			version += "-" + spec.Platform
		}
		fmt.Fprintf(&b, "    %s (%s)\n", name, version)

		deps := append([]Dependency(nil), spec.Dependencies...)
		slices.SortFunc(deps, func(a, c Dependency) int {
			return strings.Compare(a.Name, c.Name)
		})
		for _, dep := range deps {
			if len(dep.Constraints) == 0 {
				fmt.Fprintf(&b, "      %s\n", dep.Name)
				continue
			}
			fmt.Fprintf(&b, "      %s (%s)\n", dep.Name, strings.Join(dep.Constraints, ", "))
		}
	}

	b.WriteString("\nPLATFORMS\n")
	platforms := append([]string(nil), lock.Platforms...)
	if len(platforms) == 0 {
		platforms = []string{"ruby"}
	}
	slices.Sort(platforms)
	for _, p := range platforms {
		fmt.Fprintf(&b, "  %s\n", p)
	}

	b.WriteString("\nDEPENDENCIES\n")
	roots := append([]Root(nil), lock.Roots...)
	slices.SortFunc(roots, func(a, c Root) int {
		return strings.Compare(a.Name, c.Name)
	})
	for _, root := range roots {
		bang := ""
		if root.SourceOverridden {
			bang = "!"
		}
		if len(root.Constraints) == 0 {
			fmt.Fprintf(&b, "  %s%s\n", root.Name, bang)
			continue
		}
		fmt.Fprintf(&b, "  %s (%s)%s\n", root.Name, strings.Join(root.Constraints, ", "), bang)
	}

	b.WriteString("\nBUNDLED WITH\n")
	fmt.Fprintf(&b, "   %s\n", lock.BundledWith)

	return []byte(b.String())
}

// WriteFile renders the lockfile and moves it into place atomically, so a
// crash never leaves a partial lockfile behind.
func WriteFile(lock *Lockfile, path string) error {
	content := Render(lock)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".lock-*")
	if err != nil {
		return fmt.Errorf("failed to create temp lockfile: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp lockfile: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move lockfile into place: %w", err)
	}
	return nil
}
