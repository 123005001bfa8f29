package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/contriboss/orb/internal/compactindex"
	"github.com/contriboss/orb/internal/gemver"
	"github.com/contriboss/orb/internal/lockfile"
	"github.com/contriboss/orb/internal/platform"
	"github.com/contriboss/orb/internal/solver"
)

type stubFetcher struct {
	docs map[string]string
}

func (s *stubFetcher) GetGemInfo(_ context.Context, name string) ([]compactindex.VersionEntry, error) {
	doc, ok := s.docs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", compactindex.ErrGemNotFound, name)
	}
	return compactindex.ParseInfo(strings.NewReader(doc))
}

func testProvider(t *testing.T) *compactindex.Provider {
	t.Helper()
	fetcher := &stubFetcher{docs: map[string]string{
		"sinatra":    "---\n4.1.1 mustermann:~> 3.0,rack:>= 3.0.0&< 4,tilt:~> 2.0|checksum:aa\n",
		"mustermann": "---\n3.0.3 ruby2_keywords:~> 0.0.1|checksum:bb\n",
		"rack":       "---\n3.1.12 |checksum:cc\n",
		"tilt":       "---\n2.6.0 |checksum:dd\n",
		"ruby2_keywords": "---\n0.0.5 |checksum:ee\n",
	}}
	p, err := compactindex.NewProvider(fetcher, "", platform.Current())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSolveThroughProvider(t *testing.T) {
	ctx := context.Background()
	provider := testProvider(t)

	cs, err := gemver.ParseConstraintSetString("~> 4.0", ",")
	if err != nil {
		t.Fatal(err)
	}
	packages, err := solver.Solve(NewSolverSource(ctx, provider), []solver.Dependency{
		{Name: "sinatra", Constraints: cs},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]string)
	for _, p := range packages {
		got[p.Name] = p.Version.String()
	}
	want := map[string]string{
		"sinatra":        "4.1.1",
		"mustermann":     "3.0.3",
		"rack":           "3.1.12",
		"tilt":           "2.6.0",
		"ruby2_keywords": "0.0.5",
	}
	for name, version := range want {
		if got[name] != version {
			t.Errorf("%s = %s, want %s", name, got[name], version)
		}
	}
}

func TestWriteLockfileFromResolution(t *testing.T) {
	ctx := context.Background()
	provider := testProvider(t)

	cs, err := gemver.ParseConstraintSetString("~> 4.0", ",")
	if err != nil {
		t.Fatal(err)
	}
	packages, err := solver.Solve(NewSolverSource(ctx, provider), []solver.Dependency{
		{Name: "sinatra", Constraints: cs},
	})
	if err != nil {
		t.Fatal(err)
	}

	res := &Resolution{
		Packages: packages,
		Roots:    []lockfile.Root{{Name: "sinatra", Constraints: []string{"~> 4.0"}}},
		Source:   "https://rubygems.org",
		Provider: provider,
	}

	path := filepath.Join(t.TempDir(), "Gemfile.lock")
	if err := WriteLockfile(res, path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)

	// Registry constraint text survives verbatim into the spec deps.
	for _, want := range []string{
		"    mustermann (3.0.3)\n      ruby2_keywords (~> 0.0.1)\n",
		"    sinatra (4.1.1)\n      mustermann (~> 3.0)\n      rack (>= 3.0.0, < 4)\n      tilt (~> 2.0)\n",
		"DEPENDENCIES\n  sinatra (~> 4.0)\n",
		"BUNDLED WITH\n   " + DefaultBundledWith + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("lockfile missing %q:\n%s", want, out)
		}
	}
}

func TestRequestsFromPackages(t *testing.T) {
	ctx := context.Background()
	provider := testProvider(t)

	packages := []solver.ResolvedPackage{
		{Name: "rack", Version: gemver.MustParse("3.1.12")},
	}
	requests, err := RequestsFromPackages(ctx, provider, packages)
	if err != nil {
		t.Fatal(err)
	}
	if len(requests) != 1 {
		t.Fatalf("requests = %v", requests)
	}
	if requests[0].FullName() != "rack-3.1.12" {
		t.Errorf("FullName = %s", requests[0].FullName())
	}
	if len(requests[0].Archives) != 1 || requests[0].Archives[0].Checksum != "cc" {
		t.Errorf("archives = %v", requests[0].Archives)
	}
}
