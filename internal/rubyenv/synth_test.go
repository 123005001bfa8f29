package rubyenv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// scaffold builds an environment with two unpacked gems and a fake
// interpreter prefix.
func scaffold(t *testing.T) *Environment {
	t.Helper()
	envDir := t.TempDir()
	prefix := t.TempDir()

	for gem, requirePaths := range map[string][]string{
		"rack-3.1.12": {"lib"},
		"tilt-2.6.0":  {"lib", "ext"},
	} {
		gemDir := filepath.Join(envDir, "gems", gem)
		for _, rel := range requirePaths {
			if err := os.MkdirAll(filepath.Join(gemDir, rel), 0o755); err != nil {
				t.Fatal(err)
			}
		}
		marker := strings.Join(requirePaths, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(gemDir, ".require_paths"), []byte(marker), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	stdlib := filepath.Join(prefix, "lib", "ruby", "3.4.0")
	arch := filepath.Join(stdlib, "x86_64-linux")
	if err := os.MkdirAll(arch, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(arch, "rbconfig.rb"), []byte("module RbConfig; end\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	return &Environment{EnvDir: envDir, RubyPrefix: prefix, APIVersion: "3.4.0"}
}

func TestLoadPathOrder(t *testing.T) {
	env := scaffold(t)

	paths, err := env.LoadPath()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) < 5 {
		t.Fatalf("load path too short: %v", paths)
	}

	// Shims first, gems in the middle, stdlib then arch dir last.
	if !strings.HasSuffix(paths[0], filepath.Join(".orb", "shims")) {
		t.Errorf("first entry should be the shim dir, got %s", paths[0])
	}
	if !strings.HasSuffix(paths[1], filepath.Join("rack-3.1.12", "lib")) {
		t.Errorf("second entry should be rack's lib, got %s", paths[1])
	}
	last := paths[len(paths)-1]
	if !strings.HasSuffix(last, filepath.Join("3.4.0", "x86_64-linux")) {
		t.Errorf("last entry should be the arch dir, got %s", last)
	}
	stdlib := paths[len(paths)-2]
	if !strings.HasSuffix(stdlib, filepath.Join("ruby", "3.4.0")) {
		t.Errorf("stdlib dir misplaced: %v", paths)
	}
}

func TestLoadPathSkipsMissingRequireDirs(t *testing.T) {
	env := scaffold(t)

	// A gem declaring a require path that does not exist on disk.
	gemDir := filepath.Join(env.EnvDir, "gems", "weird-1.0.0")
	if err := os.MkdirAll(gemDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gemDir, ".require_paths"), []byte("nonexistent\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	paths, err := env.LoadPath()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range paths {
		if strings.Contains(p, "nonexistent") {
			t.Errorf("missing require dir made it onto the path: %s", p)
		}
	}
}

func TestShimShadowsBundlerSetup(t *testing.T) {
	env := scaffold(t)
	if _, err := env.LoadPath(); err != nil {
		t.Fatal(err)
	}

	shim := filepath.Join(env.EnvDir, ".orb", "shims", "bundler", "setup.rb")
	if _, err := os.Stat(shim); err != nil {
		t.Errorf("bundler/setup shim missing: %v", err)
	}
}

func TestEnvironSetsInterpreterVariables(t *testing.T) {
	env := scaffold(t)

	environ, err := env.Environ()
	if err != nil {
		t.Fatal(err)
	}

	var rubylib, rubyopt, ldpath string
	for _, kv := range environ {
		switch {
		case strings.HasPrefix(kv, "RUBYLIB="):
			rubylib = strings.TrimPrefix(kv, "RUBYLIB=")
		case strings.HasPrefix(kv, "RUBYOPT="):
			rubyopt = strings.TrimPrefix(kv, "RUBYOPT=")
		case strings.HasPrefix(kv, "LD_LIBRARY_PATH="):
			ldpath = strings.TrimPrefix(kv, "LD_LIBRARY_PATH=")
		}
	}

	if !strings.Contains(rubylib, "rack-3.1.12") {
		t.Errorf("RUBYLIB missing gem path: %s", rubylib)
	}
	if !strings.HasPrefix(rubyopt, "-r") || !strings.Contains(rubyopt, "preload.rb") {
		t.Errorf("RUBYOPT should preload the gem() stub: %s", rubyopt)
	}
	if !strings.HasPrefix(ldpath, env.RubyPrefix) {
		t.Errorf("LD_LIBRARY_PATH should lead with the interpreter lib dir: %s", ldpath)
	}

	preload, err := os.ReadFile(filepath.Join(env.EnvDir, ".orb", "preload.rb"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(preload), "def gem(name, *requirements)") {
		t.Errorf("preload stub content: %s", preload)
	}
}

func TestExecMissingInterpreter(t *testing.T) {
	env := scaffold(t)
	env.RubyPrefix = filepath.Join(env.RubyPrefix, "nope")

	if err := env.Exec("script.rb", nil); err == nil {
		t.Fatal("expected error for missing interpreter")
	}
}
