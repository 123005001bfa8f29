package resolver

import (
	"context"
	"fmt"
	"os"

	"github.com/contriboss/gemfile-go/gemfile"
	gemlock "github.com/contriboss/gemfile-go/lockfile"
	"github.com/contriboss/orb/internal/compactindex"
	"github.com/contriboss/orb/internal/config"
	"github.com/contriboss/orb/internal/gemver"
	"github.com/contriboss/orb/internal/lockfile"
	"github.com/contriboss/orb/internal/logger"
	"github.com/contriboss/orb/internal/platform"
	"github.com/contriboss/orb/internal/solver"
)

// DefaultSource is the gem server used when the manifest names none.
const DefaultSource = "https://rubygems.org"

// DefaultBundledWith is written to new lockfiles; existing lockfiles
// keep their recorded writer version.
const DefaultBundledWith = "2.7.2"

// Options configures a resolution run.
type Options struct {
	GemfilePath  string
	LockfilePath string
	RubyVersion  string // filters registry entries; empty disables
	Source       string // overrides the manifest's gem server
}

// Resolution is the outcome of a successful run.
type Resolution struct {
	Packages []solver.ResolvedPackage
	Roots    []lockfile.Root
	Source   string
	Provider *compactindex.Provider
}

// Resolve parses the manifest, solves the dependency graph against the
// compact index, and returns the resolved set.
func Resolve(ctx context.Context, opts Options) (*Resolution, error) {
	parser := gemfile.NewGemfileParser(opts.GemfilePath)
	parsed, err := parser.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", opts.GemfilePath, err)
	}

	source := opts.Source
	if source == "" {
		source = DefaultSource
	}

	client, err := compactindex.NewClient(source, config.NewHTTPClient(0))
	if err != nil {
		return nil, err
	}
	provider, err := compactindex.NewProvider(client, opts.RubyVersion, platform.Current())
	if err != nil {
		return nil, err
	}

	var roots []solver.Dependency
	var lockRoots []lockfile.Root
	for _, dep := range parsed.Dependencies {
		constraints, err := gemver.ParseConstraintSet(dep.Constraints)
		if err != nil {
			return nil, fmt.Errorf("bad constraint for %s: %w", dep.Name, err)
		}

		overridden := dep.Source != nil && dep.Source.Type != "" && dep.Source.Type != "rubygems"
		lockRoots = append(lockRoots, lockfile.Root{
			Name:             dep.Name,
			Constraints:      dep.Constraints,
			SourceOverridden: overridden,
		})

		logger.Debug("resolving root", "gem", dep.Name, "constraints", constraints)
		roots = append(roots, solver.Dependency{Name: dep.Name, Constraints: constraints})
	}

	packages, err := solver.Solve(NewSolverSource(ctx, provider), roots)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Packages: packages,
		Roots:    lockRoots,
		Source:   source,
		Provider: provider,
	}, nil
}

// WriteLockfile serialises a resolution to the lockfile path.
func WriteLockfile(res *Resolution, path string) error {
	specs := make([]lockfile.Spec, len(res.Packages))
	for i, pkg := range res.Packages {
		deps := make([]lockfile.Dependency, len(pkg.Dependencies))
		for j, dep := range pkg.Dependencies {
			deps[j] = lockfile.Dependency{
				Name:        dep.Name,
				Constraints: constraintStrings(dep.Constraints),
			}
		}
		specs[i] = lockfile.Spec{
			Name:         pkg.Name,
			Version:      pkg.Version.String(),
			Dependencies: deps,
		}
	}

	lock := &lockfile.Lockfile{
		Remote:      res.Source + "/",
		Specs:       specs,
		Platforms:   []string{"ruby"},
		Roots:       res.Roots,
		BundledWith: bundledWith(path),
	}
	return lockfile.WriteFile(lock, path)
}

// constraintStrings re-emits the registry's constraint text per entry.
func constraintStrings(cs gemver.ConstraintSet) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.String()
	}
	return out
}

// bundledWith keeps the writer id of an existing lockfile stable.
func bundledWith(path string) string {
	if _, err := os.Stat(path); err == nil {
		if existing, err := gemlock.ParseFile(path); err == nil && existing.BundledWith != "" {
			return existing.BundledWith
		}
	}
	return DefaultBundledWith
}
