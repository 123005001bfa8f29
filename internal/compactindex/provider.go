package compactindex

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/contriboss/orb/internal/gemver"
	"github.com/contriboss/orb/internal/platform"
	"golang.org/x/sync/singleflight"
)

// infoFetcher is the transport seam; *Client satisfies it.
type infoFetcher interface {
	GetGemInfo(ctx context.Context, gemName string) ([]VersionEntry, error)
}

// Provider answers the resolver's two questions — which versions exist,
// and what does one version depend on — from lazily fetched per-gem
// snapshots. Snapshots live for the duration of one resolution run.
// Concurrent fetches for the same gem are coalesced to a single request.
type Provider struct {
	fetcher infoFetcher
	group   singleflight.Group

	mu        sync.RWMutex
	snapshots map[string][]VersionEntry

	rubyVersion gemver.Version // zero disables interpreter filtering
	host        platform.Descriptor
}

// NewProvider wraps a client with snapshot caching and filtering.
// rubyVersion may be empty when no interpreter constraint should apply.
func NewProvider(fetcher infoFetcher, rubyVersion string, host platform.Descriptor) (*Provider, error) {
	p := &Provider{
		fetcher:   fetcher,
		snapshots: make(map[string][]VersionEntry),
		host:      host,
	}
	if rubyVersion != "" {
		v, err := gemver.Parse(rubyVersion)
		if err != nil {
			return nil, fmt.Errorf("bad interpreter version %q: %w", rubyVersion, err)
		}
		p.rubyVersion = v
	}
	return p, nil
}

// Snapshot returns the filtered version entries for a gem, fetching at
// most once per gem per run. A missing gem yields an empty snapshot.
func (p *Provider) Snapshot(ctx context.Context, name string) ([]VersionEntry, error) {
	p.mu.RLock()
	if entries, ok := p.snapshots[name]; ok {
		p.mu.RUnlock()
		return entries, nil
	}
	p.mu.RUnlock()

	result, err, _ := p.group.Do(name, func() (any, error) {
		// A caller that lost the race to an already-finished flight
		// must not trigger a second fetch.
		p.mu.RLock()
		if entries, ok := p.snapshots[name]; ok {
			p.mu.RUnlock()
			return entries, nil
		}
		p.mu.RUnlock()

		entries, err := p.fetcher.GetGemInfo(ctx, name)
		if err != nil {
			if errors.Is(err, ErrGemNotFound) {
				entries = nil
			} else {
				return nil, err
			}
		}

		filtered := p.filter(entries)

		p.mu.Lock()
		p.snapshots[name] = filtered
		p.mu.Unlock()

		return filtered, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]VersionEntry), nil
}

// filter drops entries the current interpreter or platform cannot use.
func (p *Provider) filter(entries []VersionEntry) []VersionEntry {
	var out []VersionEntry
	for _, e := range entries {
		if !p.rubyVersion.IsZero() && len(e.Ruby) > 0 && !e.Ruby.Satisfies(p.rubyVersion) {
			continue
		}
		if e.Platform != "" && !p.host.Matches(e.Platform) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// VersionsOf returns all usable versions of a gem, newest first, with
// platform variants collapsed to a single version.
func (p *Provider) VersionsOf(ctx context.Context, name string) ([]gemver.Version, error) {
	entries, err := p.Snapshot(ctx, name)
	if err != nil {
		return nil, err
	}

	var versions []gemver.Version
	for _, e := range entries {
		dup := false
		for _, v := range versions {
			if v.Compare(e.Version) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			versions = append(versions, e.Version)
		}
	}

	slices.SortFunc(versions, func(a, b gemver.Version) int {
		return b.Compare(a)
	})

	return versions, nil
}

// DependenciesOf returns the dependency list of one version, preferring
// the pure entry over platform-specific variants.
func (p *Provider) DependenciesOf(ctx context.Context, name string, version gemver.Version) ([]Dependency, error) {
	entry, err := p.entryFor(ctx, name, version, "")
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("version %s not found for gem %s", version, name)
	}
	return entry.Dependencies, nil
}

// Candidates returns all entries of one version ordered by the host's
// platform preference (most specific first, pure last). The acquisition
// engine walks this list when a platform archive turns out to be missing.
func (p *Provider) Candidates(ctx context.Context, name string, version gemver.Version) ([]VersionEntry, error) {
	entries, err := p.Snapshot(ctx, name)
	if err != nil {
		return nil, err
	}

	var out, pure []VersionEntry
	for _, pref := range p.host.Preference() {
		if pref == "" {
			continue
		}
		for _, e := range entries {
			if e.Version.Compare(version) == 0 && e.Platform == pref {
				out = append(out, e)
			}
		}
	}
	// Usable platform tags outside the preference list rank below exact
	// matches; the pure archive comes last.
	for _, e := range entries {
		if e.Version.Compare(version) != 0 {
			continue
		}
		if e.Platform == "" {
			pure = append(pure, e)
			continue
		}
		if !slices.ContainsFunc(out, func(o VersionEntry) bool { return o.Platform == e.Platform }) {
			out = append(out, e)
		}
	}
	return append(out, pure...), nil
}

func (p *Provider) entryFor(ctx context.Context, name string, version gemver.Version, plat string) (*VersionEntry, error) {
	entries, err := p.Snapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	var fallback *VersionEntry
	for i := range entries {
		e := &entries[i]
		if e.Version.Compare(version) != 0 {
			continue
		}
		if e.Platform == plat {
			return e, nil
		}
		if fallback == nil {
			fallback = e
		}
	}
	return fallback, nil
}
