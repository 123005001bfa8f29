// Package runner executes a single tool gem in an ephemeral, cached
// environment: cache lookup, resolve-on-miss, unpack, exec.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/contriboss/orb/internal/compactindex"
	"github.com/contriboss/orb/internal/config"
	"github.com/contriboss/orb/internal/gemver"
	"github.com/contriboss/orb/internal/geminstall"
	"github.com/contriboss/orb/internal/logger"
	"github.com/contriboss/orb/internal/platform"
	"github.com/contriboss/orb/internal/registry"
	"github.com/contriboss/orb/internal/resolver"
	"github.com/contriboss/orb/internal/ruby"
	"github.com/contriboss/orb/internal/rubyenv"
	"github.com/contriboss/orb/internal/rubyinstall"
	"github.com/contriboss/orb/internal/solver"
	"github.com/contriboss/orb/internal/sources"
)

// DefaultRubyVersion is installed when nothing is installed and no
// version was requested.
const DefaultRubyVersion = "3.4.7"

// Invocation is a parsed runner command line.
type Invocation struct {
	RubyRequest string // --ruby value, empty for "newest installed"
	Gem         string
	Version     string // after "@", empty for newest
	Args        []string
}

// ParseArgs parses "[--ruby V] <gem>[@<version>] [--] <args...>".
func ParseArgs(args []string) (*Invocation, error) {
	inv := &Invocation{}

	i := 0
	for i < len(args) {
		arg := args[i]
		switch {
		case arg == "--ruby":
			if i+1 >= len(args) {
				return nil, errors.New("--ruby needs a version argument")
			}
			inv.RubyRequest = args[i+1]
			i += 2
		case strings.HasPrefix(arg, "--ruby="):
			inv.RubyRequest = strings.TrimPrefix(arg, "--ruby=")
			i++
		case inv.Gem == "" && strings.HasPrefix(arg, "--"):
			return nil, fmt.Errorf("unknown option %s", arg)
		default:
			spec := arg
			inv.Gem, inv.Version, _ = strings.Cut(spec, "@")
			rest := args[i+1:]
			if len(rest) > 0 && rest[0] == "--" {
				rest = rest[1:]
			}
			inv.Args = append(inv.Args, rest...)
			if inv.Gem == "" {
				return nil, fmt.Errorf("bad tool spec %q", spec)
			}
			return inv, nil
		}
	}

	return nil, errors.New("no tool given")
}

// Runner executes tool invocations.
type Runner struct {
	Cfg *config.Config
}

// Run resolves the interpreter and the tool environment, then replaces
// the process with the tool. It only returns on error.
func (r *Runner) Run(ctx context.Context, inv *Invocation) error {
	rubiesDir, err := config.RubiesDir(r.Cfg)
	if err != nil {
		return err
	}

	rubyVersion, err := r.ensureRuby(ctx, rubiesDir, inv.RubyRequest)
	if err != nil {
		return err
	}
	apiVersion := ruby.APIVersion(rubyVersion)

	env := &rubyenv.Environment{
		RubyPrefix: filepath.Join(rubiesDir, rubyVersion),
		APIVersion: apiVersion,
	}

	// Fast path: a user-installed copy of the tool wins when no
	// interpreter was pinned.
	if inv.RubyRequest == "" {
		if bin := userInstalledBinary(apiVersion, inv.Gem); bin != "" {
			logger.Debug("using user-installed tool", "path", bin)
			return rubyenv.ExecDirect(bin, inv.Args)
		}
	}

	toolsDir, err := config.ToolsDir(r.Cfg, apiVersion)
	if err != nil {
		return err
	}

	// Cached environment, keyed by gem-version.
	if envDir := cachedToolDir(toolsDir, inv.Gem, inv.Version); envDir != "" {
		if execPath := toolExecutable(envDir, inv.Gem); execPath != "" {
			env.EnvDir = envDir
			return env.Exec(execPath, inv.Args)
		}
	}

	// Miss: resolve and materialise, then exec.
	envDir, execPath, err := r.install(ctx, toolsDir, inv)
	if err != nil {
		return err
	}
	env.EnvDir = envDir
	return env.Exec(execPath, inv.Args)
}

// ensureRuby resolves the interpreter to use, installing one when
// nothing installed matches.
func (r *Runner) ensureRuby(ctx context.Context, rubiesDir, request string) (string, error) {
	installed := rubyinstall.Installed(rubiesDir)
	if v := rubyinstall.ResolvePrefix(installed, request); v != "" {
		return v, nil
	}

	version := request
	if version == "" {
		version = DefaultRubyVersion
	}
	if strings.Count(version, ".") < 2 {
		version = ruby.APIVersion(version)
	}

	logger.Info("installing ruby", "version", version)
	installer := rubyinstall.NewInstaller(rubiesDir)
	if err := installer.Install(ctx, version); err != nil {
		return "", err
	}
	return version, nil
}

// userInstalledBinary looks for the tool at the conventional per-user
// gem bin path.
func userInstalledBinary(apiVersion, gem string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(home, ".local", "share", "gem", "ruby", apiVersion, "bin", gem)
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return ""
	}
	return candidate
}

// cachedToolDir finds a complete cached environment for the tool:
// the exact gem-version directory, or the highest cached version when
// none was requested. Environments without the completion marker are
// invisible.
func cachedToolDir(toolsDir, gem, version string) string {
	if version != "" {
		dir := filepath.Join(toolsDir, gem+"-"+version)
		if geminstall.IsInstalled(dir) {
			return dir
		}
		return ""
	}

	entries, err := os.ReadDir(toolsDir)
	if err != nil {
		return ""
	}
	var best string
	var bestVersion gemver.Version
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), gem+"-") {
			continue
		}
		v, err := gemver.Parse(strings.TrimPrefix(entry.Name(), gem+"-"))
		if err != nil {
			continue
		}
		dir := filepath.Join(toolsDir, entry.Name())
		if !geminstall.IsInstalled(dir) {
			continue
		}
		if best == "" || v.Compare(bestVersion) > 0 {
			best, bestVersion = dir, v
		}
	}
	return best
}

// toolExecutable picks the executable to run from the tool gem's
// marker: the one named like the gem when present, the first listed
// otherwise.
func toolExecutable(envDir, gem string) string {
	gemsDir := filepath.Join(envDir, "gems")
	entries, err := os.ReadDir(gemsDir)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), gem+"-") {
			continue
		}
		execs := geminstall.ReadMarkerLines(filepath.Join(gemsDir, entry.Name(), geminstall.ExecutablesMarker))
		if len(execs) == 0 {
			return ""
		}
		chosen := execs[0]
		for _, e := range execs {
			if e == gem {
				chosen = e
				break
			}
		}
		binstub := filepath.Join(envDir, "bin", chosen)
		if _, err := os.Stat(binstub); err == nil {
			return binstub
		}
		return ""
	}
	return ""
}

// install resolves a single-root graph for the tool and materialises it
// into the version-keyed cache directory.
func (r *Runner) install(ctx context.Context, toolsDir string, inv *Invocation) (string, string, error) {
	client, err := compactindex.NewClient(resolver.DefaultSource, config.NewHTTPClient(0))
	if err != nil {
		return "", "", err
	}
	provider, err := compactindex.NewProvider(client, "", platform.Current())
	if err != nil {
		return "", "", err
	}

	// The tool version comes from the legacy JSON endpoint when the
	// invocation leaves it open; the solver still settles the full
	// graph against the compact index.
	pinned := inv.Version
	var checksumHint string
	if doc, err := registry.NewClient(resolver.DefaultSource).Gem(ctx, inv.Gem, inv.Version); err == nil {
		if pinned == "" {
			pinned = doc.Version
		}
		checksumHint = doc.Sha
	} else if pinned == "" {
		logger.Debug("registry lookup failed, resolving latest from index", "gem", inv.Gem, "error", err)
	}

	var constraints gemver.ConstraintSet
	if pinned != "" {
		constraints, err = gemver.ParseConstraintSet([]string{"= " + pinned})
		if err != nil {
			return "", "", err
		}
	}

	packages, err := solver.Solve(resolver.NewSolverSource(ctx, provider), []solver.Dependency{
		{Name: inv.Gem, Constraints: constraints},
	})
	if err != nil {
		return "", "", err
	}

	var toolVersion string
	for _, pkg := range packages {
		if pkg.Name == inv.Gem {
			toolVersion = pkg.Version.String()
		}
	}
	if toolVersion == "" {
		return "", "", fmt.Errorf("%s did not resolve", inv.Gem)
	}

	requests, err := resolver.RequestsFromPackages(ctx, provider, packages)
	if err != nil {
		return "", "", err
	}
	if checksumHint != "" {
		for i := range requests {
			if requests[i].Name != inv.Gem {
				continue
			}
			for j := range requests[i].Archives {
				if requests[i].Archives[j].Platform == "" && requests[i].Archives[j].Checksum == "" {
					requests[i].Archives[j].Checksum = checksumHint
				}
			}
		}
	}

	cacheDir, err := config.GemCacheDir(r.Cfg)
	if err != nil {
		return "", "", err
	}

	envDir := filepath.Join(toolsDir, inv.Gem+"-"+toolVersion)
	orchestrator := &geminstall.Orchestrator{
		CacheDir: cacheDir,
		Sources:  sources.NewManager([]sources.SourceConfig{{URL: resolver.DefaultSource}}, config.NewHTTPClient(0)),
		Workers:  4,
	}
	if err := orchestrator.Materialize(ctx, requests, envDir); err != nil {
		return "", "", err
	}

	execPath := toolExecutable(envDir, inv.Gem)
	if execPath == "" {
		return "", "", fmt.Errorf("%s ships no executable", inv.Gem)
	}
	return envDir, execPath, nil
}
