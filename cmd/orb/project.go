package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	gemlock "github.com/contriboss/gemfile-go/lockfile"
	"github.com/contriboss/orb/internal/compactindex"
	"github.com/contriboss/orb/internal/config"
	"github.com/contriboss/orb/internal/extensions"
	"github.com/contriboss/orb/internal/geminstall"
	"github.com/contriboss/orb/internal/platform"
	"github.com/contriboss/orb/internal/resolver"
	"github.com/contriboss/orb/internal/ruby"
	"github.com/contriboss/orb/internal/rubyenv"
	"github.com/contriboss/orb/internal/rubyinstall"
	"github.com/contriboss/orb/internal/runner"
	"github.com/contriboss/orb/internal/sources"
	"github.com/contriboss/orb/internal/solver"
)

// projectPaths bundles the per-project file locations.
type projectPaths struct {
	gemfile  string
	lockfile string
	vendor   string
}

func locateProject() projectPaths {
	gemfile := config.DefaultGemfilePath(nil)
	return projectPaths{
		gemfile:  gemfile,
		lockfile: config.DefaultLockfilePath(gemfile),
		vendor:   config.DefaultVendorDir(nil),
	}
}

func runLockCommand(args []string) error {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*verbose)

	paths := locateProject()
	if _, err := os.Stat(paths.gemfile); err != nil {
		return fmt.Errorf("no %s found", paths.gemfile)
	}

	rubyVersion := ruby.DetectVersion(paths.lockfile, paths.gemfile, runner.DefaultRubyVersion)

	res, err := resolver.Resolve(context.Background(), resolver.Options{
		GemfilePath: paths.gemfile,
		RubyVersion: rubyVersion,
	})
	if err != nil {
		var resErr *solver.ResolutionError
		if errors.As(err, &resErr) {
			// The explanation keeps its own paragraph layout.
			fmt.Fprintln(os.Stderr, resErr.Explanation)
			os.Exit(1)
		}
		return err
	}

	if err := resolver.WriteLockfile(res, paths.lockfile); err != nil {
		return err
	}

	fmt.Printf("Resolved %d gems and wrote %s\n", len(res.Packages), paths.lockfile)
	return nil
}

func runInstallCommand(args []string) error {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	workers := fs.Int("jobs", 4, "parallel download workers")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	skipExt := fs.Bool("skip-extensions", false, "skip native extension builds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*verbose)

	paths := locateProject()
	ctx := context.Background()

	if _, err := os.Stat(paths.lockfile); err != nil {
		if err := runLockCommand(nil); err != nil {
			return err
		}
	}

	lock, err := gemlock.ParseFile(paths.lockfile)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", paths.lockfile, err)
	}

	rubyVersion := ruby.DetectVersion(paths.lockfile, paths.gemfile, runner.DefaultRubyVersion)

	provider, err := defaultProvider(rubyVersion)
	if err != nil {
		return err
	}
	requests, err := resolver.RequestsFromLock(ctx, provider, lock.GemSpecs)
	if err != nil {
		return err
	}

	orchestrator, err := newOrchestrator(*workers)
	if err != nil {
		return err
	}
	if !*skipExt {
		orchestrator.BuildExtensions = extensionHook(rubyVersion, paths.vendor)
	}

	done := attachProgress(orchestrator, len(requests))
	err = orchestrator.Materialize(ctx, requests, paths.vendor)
	done()
	if err != nil {
		return err
	}

	fmt.Printf("Installed %d gems into %s\n", len(requests), paths.vendor)
	return nil
}

func runFetchCommand(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	workers := fs.Int("jobs", 4, "parallel download workers")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setupLogging(*verbose)

	paths := locateProject()
	ctx := context.Background()

	lock, err := gemlock.ParseFile(paths.lockfile)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", paths.lockfile, err)
	}

	provider, err := defaultProvider("")
	if err != nil {
		return err
	}
	requests, err := resolver.RequestsFromLock(ctx, provider, lock.GemSpecs)
	if err != nil {
		return err
	}

	orchestrator, err := newOrchestrator(*workers)
	if err != nil {
		return err
	}

	done := attachProgress(orchestrator, len(requests))
	err = orchestrator.Fetch(ctx, requests)
	done()
	if err != nil {
		return err
	}

	fmt.Printf("Fetched %d gem archives into %s\n", len(requests), orchestrator.CacheDir)
	return nil
}

func runCheckCommand(args []string) error {
	paths := locateProject()

	lock, err := gemlock.ParseFile(paths.lockfile)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", paths.lockfile, err)
	}

	if !geminstall.IsInstalled(paths.vendor) {
		return fmt.Errorf("environment %s is not complete, run `orb install`", paths.vendor)
	}

	var missing int
	for _, spec := range lock.GemSpecs {
		if _, err := os.Stat(geminstall.GemDir(paths.vendor, spec.Name, spec.Version)); err != nil {
			fmt.Fprintf(os.Stderr, "missing: %s-%s\n", spec.Name, spec.Version)
			missing++
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d gems missing, run `orb install`", missing)
	}

	fmt.Printf("The environment satisfies %s\n", paths.lockfile)
	return nil
}

func runExecCommand(args []string) error {
	if len(args) == 0 {
		return errors.New("exec needs a program to run")
	}

	paths := locateProject()
	env, err := projectEnvironment(paths)
	if err != nil {
		return err
	}

	program := args[0]
	rest := args[1:]

	// A binstub in the environment wins over PATH lookup.
	binstub := filepath.Join(paths.vendor, "bin", program)
	if _, err := os.Stat(binstub); err == nil {
		return env.Exec(binstub, rest)
	}

	resolved, err := exec.LookPath(program)
	if err != nil {
		return fmt.Errorf("program %s not found: %w", program, err)
	}
	return env.ExecProgram(resolved, rest)
}

// runShim is the argv[0] front: the binary invoked as ruby or irb
// behaves as that interpreter inside the project environment.
func runShim(name string, args []string) error {
	paths := locateProject()
	env, err := projectEnvironment(paths)
	if err != nil {
		return err
	}

	bin := filepath.Join(env.RubyPrefix, "bin", name)
	return env.ExecProgram(bin, args)
}

// projectEnvironment assembles the environment for the current project,
// picking the interpreter the project asks for.
func projectEnvironment(paths projectPaths) (*rubyenv.Environment, error) {
	rubiesDir, err := config.RubiesDir(nil)
	if err != nil {
		return nil, err
	}

	requested := ruby.DetectVersion(paths.lockfile, paths.gemfile, runner.DefaultRubyVersion)
	installed := rubyinstall.Installed(rubiesDir)
	resolved := rubyinstall.ResolvePrefix(installed, requested)
	if resolved == "" {
		resolved = rubyinstall.ResolvePrefix(installed, "")
	}
	if resolved == "" {
		return nil, fmt.Errorf("no Ruby installed, run `orb ruby install %s`", requested)
	}

	return &rubyenv.Environment{
		EnvDir:     paths.vendor,
		RubyPrefix: filepath.Join(rubiesDir, resolved),
		APIVersion: ruby.APIVersion(resolved),
	}, nil
}

func defaultProvider(rubyVersion string) (*compactindex.Provider, error) {
	client, err := compactindex.NewClient(resolver.DefaultSource, config.NewHTTPClient(0))
	if err != nil {
		return nil, err
	}
	return compactindex.NewProvider(client, rubyVersion, platform.Current())
}

func newOrchestrator(workers int) (*geminstall.Orchestrator, error) {
	cacheDir, err := config.GemCacheDir(nil)
	if err != nil {
		return nil, err
	}
	return &geminstall.Orchestrator{
		CacheDir: cacheDir,
		Sources:  sources.NewManager(gemSources(), config.NewHTTPClient(0)),
		Workers:  workers,
	}, nil
}

// gemSources returns the configured gem servers; ORB_MIRROR inserts a
// preferred mirror before the default source.
func gemSources() []sources.SourceConfig {
	configs := []sources.SourceConfig{}
	if mirror := os.Getenv("ORB_MIRROR"); mirror != "" {
		configs = append(configs, sources.SourceConfig{URL: mirror, Fallback: resolver.DefaultSource})
	}
	return append(configs, sources.SourceConfig{URL: resolver.DefaultSource})
}

// extensionHook wires the native builder into the orchestrator.
func extensionHook(rubyVersion, vendorDir string) func(context.Context, string, *geminstall.Metadata) error {
	return func(ctx context.Context, gemDir string, meta *geminstall.Metadata) error {
		rubiesDir, err := config.RubiesDir(nil)
		if err != nil {
			return err
		}

		rubyBinary := "ruby"
		var env *rubyenv.Environment
		if resolved := rubyinstall.ResolvePrefix(rubyinstall.Installed(rubiesDir), rubyVersion); resolved != "" {
			prefix := filepath.Join(rubiesDir, resolved)
			rubyBinary = filepath.Join(prefix, "bin", "ruby")
			env = &rubyenv.Environment{
				EnvDir:     vendorDir,
				RubyPrefix: prefix,
				APIVersion: ruby.APIVersion(resolved),
			}
		}

		builder := extensions.NewBuilder(&extensions.BuildConfig{
			RubyBinary: rubyBinary,
			Env:        env,
		})
		return builder.Build(ctx, gemDir, meta.Extensions)
	}
}
