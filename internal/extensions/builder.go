package extensions

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/contriboss/orb/internal/logger"
	"github.com/contriboss/orb/internal/rubyenv"
)

// BuildConfig configures the native builder.
type BuildConfig struct {
	RubyBinary string               // interpreter driving extconf
	Env        *rubyenv.Environment // supplies the child's search path
	Parallel   int                  // make -j level
	Verbose    bool
}

// NativeBuildError reports a failed configure/compile/install step.
type NativeBuildError struct {
	Gem  string
	Step string
	Err  error
}

func (e *NativeBuildError) Error() string {
	return fmt.Sprintf("native build of %s failed at %s: %v", e.Gem, e.Step, e.Err)
}

func (e *NativeBuildError) Unwrap() error { return e.Err }

// Builder compiles extensions for unpacked gems.
type Builder struct {
	config *BuildConfig
}

// NewBuilder creates a builder; nil config gets defaults.
func NewBuilder(config *BuildConfig) *Builder {
	if config == nil {
		config = &BuildConfig{}
	}
	if config.Parallel <= 0 {
		config.Parallel = runtime.NumCPU()
	}
	if config.RubyBinary == "" {
		config.RubyBinary = "ruby"
	}
	return &Builder{config: config}
}

// Build compiles every extconf extension of a gem in place. Gems
// installed from platform archives (prebuilt artefacts under lib/) are
// skipped. Each extension runs configure, make, and an install pass
// redirected into the gem's own lib directory.
func (b *Builder) Build(ctx context.Context, gemDir string, extensions []string) error {
	gemName := filepath.Base(gemDir)

	scripts := ConfigureScripts(extensions)
	if len(scripts) == 0 {
		return nil
	}
	if HasPrebuiltArtifacts(gemDir) {
		logger.Debug("skipping native build, prebuilt artefacts present", "gem", gemName)
		return nil
	}

	libDir, err := filepath.Abs(filepath.Join(gemDir, "lib"))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return err
	}

	for _, script := range scripts {
		scriptDir := filepath.Join(gemDir, filepath.Dir(script))
		scriptName := filepath.Base(script)

		logger.Debug("configuring extension", "gem", gemName, "script", script)
		if err := b.run(ctx, scriptDir, b.config.RubyBinary, scriptName); err != nil {
			return &NativeBuildError{Gem: gemName, Step: "configure", Err: err}
		}

		jobs := fmt.Sprintf("-j%d", b.config.Parallel)
		if err := b.run(ctx, scriptDir, "make", jobs); err != nil {
			return &NativeBuildError{Gem: gemName, Step: "make", Err: err}
		}

		// Steer the site-install variables into the gem's lib/ so the
		// compiled objects land next to the Ruby sources.
		installArgs := []string{
			"install",
			"sitearchdir=" + libDir,
			"sitelibdir=" + libDir,
		}
		if err := b.run(ctx, scriptDir, "make", installArgs...); err != nil {
			return &NativeBuildError{Gem: gemName, Step: "make install", Err: err}
		}
	}

	return nil
}

// run executes one build step. Stdout is redirected to stderr so build
// noise never contaminates the eventual tool's stdout.
func (b *Builder) run(ctx context.Context, dir, program string, args ...string) error {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if b.config.Env != nil {
		env, err := b.config.Env.Environ()
		if err != nil {
			return err
		}
		cmd.Env = env
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", program, args, err)
	}
	return nil
}
