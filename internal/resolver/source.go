// Package resolver connects the manifest, the registry provider, the
// solver and the lockfile writer into the lock/install pipeline.
package resolver

import (
	"context"

	"github.com/contriboss/orb/internal/compactindex"
	"github.com/contriboss/orb/internal/gemver"
	"github.com/contriboss/orb/internal/solver"
)

// providerSource adapts the compact index provider to the solver's
// Source interface. The solver stays free of I/O concerns; blocking
// happens inside the provider.
type providerSource struct {
	ctx      context.Context
	provider *compactindex.Provider
}

// NewSolverSource wraps a provider for the solver.
func NewSolverSource(ctx context.Context, provider *compactindex.Provider) solver.Source {
	return &providerSource{ctx: ctx, provider: provider}
}

func (s *providerSource) Versions(name string) ([]gemver.Version, error) {
	return s.provider.VersionsOf(s.ctx, name)
}

func (s *providerSource) Dependencies(name string, version gemver.Version) ([]solver.Dependency, error) {
	deps, err := s.provider.DependenciesOf(s.ctx, name, version)
	if err != nil {
		return nil, err
	}
	out := make([]solver.Dependency, len(deps))
	for i, d := range deps {
		out[i] = solver.Dependency{Name: d.Name, Constraints: d.Constraints}
	}
	return out, nil
}
