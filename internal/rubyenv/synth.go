// Package rubyenv synthesises the interpreter's library search path for
// an environment directory, so resolved gems are loadable without a
// shared gem home, and replaces the current process with the target
// interpreter.
package rubyenv

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/contriboss/orb/internal/geminstall"
	"golang.org/x/sys/unix"
)

// Environment describes one runnable gem environment.
type Environment struct {
	EnvDir     string // directory holding gems/
	RubyPrefix string // interpreter installation prefix
	APIVersion string // interpreter API version, e.g. "3.4.0"
}

// support returns the directory for generated helper files.
func (e *Environment) support() string {
	return filepath.Join(e.EnvDir, ".orb")
}

// writeShims creates the shim directory that heads the search path. It
// shadows bundler/setup with a no-op so gems that require it
// unconditionally keep working under the search-path model.
func (e *Environment) writeShims() (string, error) {
	shimDir := filepath.Join(e.support(), "shims")
	if err := os.MkdirAll(filepath.Join(shimDir, "bundler"), 0o755); err != nil {
		return "", err
	}

	setup := "# Generated by orb. The environment is assembled through the\n" +
		"# library search path; bundler/setup has nothing left to do.\n"
	if err := os.WriteFile(filepath.Join(shimDir, "bundler", "setup.rb"), []byte(setup), 0o644); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(shimDir, "bundler.rb"), []byte(setup), 0o644); err != nil {
		return "", err
	}
	return shimDir, nil
}

// writePreload creates the file handed to the interpreter via RUBYOPT.
// It defines a private no-op gem() so activation calls in loaded code
// cannot fail.
func (e *Environment) writePreload() (string, error) {
	if err := os.MkdirAll(e.support(), 0o755); err != nil {
		return "", err
	}
	preload := "# Generated by orb.\n" +
		"def gem(name, *requirements)\n" +
		"end\n"
	path := filepath.Join(e.support(), "preload.rb")
	if err := os.WriteFile(path, []byte(preload), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// LoadPath assembles the ordered library search path: the shim
// directory, every gem's existing require paths, then the interpreter's
// standard library and its architecture directory.
func (e *Environment) LoadPath() ([]string, error) {
	shimDir, err := e.writeShims()
	if err != nil {
		return nil, err
	}
	paths := []string{shimDir}

	gemsDir := filepath.Join(e.EnvDir, "gems")
	entries, err := os.ReadDir(gemsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		gemDir := filepath.Join(gemsDir, name)
		requirePaths := geminstall.ReadMarkerLines(filepath.Join(gemDir, geminstall.RequirePathsMarker))
		if len(requirePaths) == 0 {
			requirePaths = []string{"lib"}
		}
		for _, rel := range requirePaths {
			dir := filepath.Join(gemDir, rel)
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				paths = append(paths, dir)
			}
		}
	}

	paths = append(paths, e.stdlibPaths()...)
	return paths, nil
}

// stdlibPaths locates the interpreter's own library directories: the
// versioned stdlib plus the first architecture subdirectory carrying
// rbconfig.rb.
func (e *Environment) stdlibPaths() []string {
	if e.RubyPrefix == "" {
		return nil
	}

	stdlib := filepath.Join(e.RubyPrefix, "lib", "ruby", e.APIVersion)
	out := []string{stdlib}

	entries, err := os.ReadDir(stdlib)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		archDir := filepath.Join(stdlib, entry.Name())
		if _, err := os.Stat(filepath.Join(archDir, "rbconfig.rb")); err == nil {
			out = append(out, archDir)
			break
		}
	}
	return out
}

// Environ builds the child environment: RUBYLIB with the synthesised
// search path, RUBYOPT preloading the gem() stub, and the runtime linker
// pointed at the interpreter's lib directory.
func (e *Environment) Environ() ([]string, error) {
	loadPath, err := e.LoadPath()
	if err != nil {
		return nil, err
	}
	preload, err := e.writePreload()
	if err != nil {
		return nil, err
	}

	env := os.Environ()
	env = setEnv(env, "RUBYLIB", strings.Join(loadPath, string(os.PathListSeparator)))
	env = setEnv(env, "RUBYOPT", "-r"+preload)

	if e.RubyPrefix != "" {
		libDir := filepath.Join(e.RubyPrefix, "lib")
		ldPath := libDir
		if existing := os.Getenv("LD_LIBRARY_PATH"); existing != "" {
			ldPath = libDir + string(os.PathListSeparator) + existing
		}
		env = setEnv(env, "LD_LIBRARY_PATH", ldPath)
	}

	return env, nil
}

// setEnv replaces or appends one key in an environ slice.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// RubyBinary returns the interpreter executable under the prefix.
func (e *Environment) RubyBinary() string {
	return filepath.Join(e.RubyPrefix, "bin", "ruby")
}

// Exec replaces the current process with the interpreter running the
// given script. On success it does not return; the child inherits all
// open descriptors.
func (e *Environment) Exec(script string, args []string) error {
	return e.ExecProgram(e.RubyBinary(), append([]string{script}, args...))
}

// ExecDirect replaces the current process with a program using the
// ambient environment, without synthesising a search path. Used for the
// user-installed fast path.
func ExecDirect(program string, args []string) error {
	if _, err := os.Stat(program); err != nil {
		return fmt.Errorf("program not found at %s: %w", program, err)
	}
	argv := append([]string{program}, args...)
	if err := unix.Exec(program, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", program, err)
	}
	return nil
}

// ExecProgram replaces the current process with an arbitrary program run
// inside the synthesised environment.
func (e *Environment) ExecProgram(program string, args []string) error {
	env, err := e.Environ()
	if err != nil {
		return err
	}

	if _, err := os.Stat(program); err != nil {
		return fmt.Errorf("interpreter not found at %s: %w", program, err)
	}

	argv := append([]string{program}, args...)
	if err := unix.Exec(program, argv, env); err != nil {
		return fmt.Errorf("exec %s: %w", program, err)
	}
	return nil
}
