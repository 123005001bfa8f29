package resolver

import (
	"context"

	gemlock "github.com/contriboss/gemfile-go/lockfile"
	"github.com/contriboss/orb/internal/compactindex"
	"github.com/contriboss/orb/internal/gemver"
	"github.com/contriboss/orb/internal/geminstall"
	"github.com/contriboss/orb/internal/logger"
	"github.com/contriboss/orb/internal/solver"
)

// RequestsFromPackages turns a resolved set into acquisition requests,
// attaching each version's archive candidates (platform variants in
// preference order, with registry checksums).
func RequestsFromPackages(ctx context.Context, provider *compactindex.Provider, packages []solver.ResolvedPackage) ([]geminstall.GemRequest, error) {
	requests := make([]geminstall.GemRequest, len(packages))
	for i, pkg := range packages {
		candidates, err := archiveCandidates(ctx, provider, pkg.Name, pkg.Version)
		if err != nil {
			return nil, err
		}
		requests[i] = geminstall.GemRequest{
			Name:     pkg.Name,
			Version:  pkg.Version.String(),
			Archives: candidates,
		}
	}
	return requests, nil
}

// RequestsFromLock turns a parsed Gemfile.lock into acquisition
// requests. Checksums come from the registry when the lockfile has none.
func RequestsFromLock(ctx context.Context, provider *compactindex.Provider, specs []gemlock.GemSpec) ([]geminstall.GemRequest, error) {
	var requests []geminstall.GemRequest
	for _, spec := range specs {
		version, err := gemver.Parse(spec.Version)
		if err != nil {
			logger.Warn("skipping lockfile entry with bad version", "gem", spec.Name, "version", spec.Version)
			continue
		}

		candidates, err := archiveCandidates(ctx, provider, spec.Name, version)
		if err != nil {
			return nil, err
		}
		if spec.Platform != "" {
			// The lockfile pinned a platform variant; prefer it.
			pinned := []geminstall.ArchiveCandidate{{Platform: spec.Platform, Checksum: spec.Checksum}}
			for _, c := range candidates {
				if c.Platform != spec.Platform {
					pinned = append(pinned, c)
				} else if pinned[0].Checksum == "" {
					pinned[0].Checksum = c.Checksum
				}
			}
			candidates = pinned
		}

		requests = append(requests, geminstall.GemRequest{
			Name:     spec.Name,
			Version:  spec.Version,
			Archives: candidates,
		})
	}
	return requests, nil
}

func archiveCandidates(ctx context.Context, provider *compactindex.Provider, name string, version gemver.Version) ([]geminstall.ArchiveCandidate, error) {
	entries, err := provider.Candidates(ctx, name, version)
	if err != nil {
		return nil, err
	}
	out := make([]geminstall.ArchiveCandidate, len(entries))
	for i, e := range entries {
		out[i] = geminstall.ArchiveCandidate{Platform: e.Platform, Checksum: e.Checksum}
	}
	return out, nil
}
