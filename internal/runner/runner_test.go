package runner

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Invocation
		wantErr bool
	}{
		{
			name: "bare_tool",
			args: []string{"rubocop"},
			want: Invocation{Gem: "rubocop"},
		},
		{
			name: "tool_with_version",
			args: []string{"rubocop@1.60.0"},
			want: Invocation{Gem: "rubocop", Version: "1.60.0"},
		},
		{
			name: "ruby_flag",
			args: []string{"--ruby", "3.3", "rspec"},
			want: Invocation{RubyRequest: "3.3", Gem: "rspec"},
		},
		{
			name: "ruby_flag_equals",
			args: []string{"--ruby=3.4.1", "rake"},
			want: Invocation{RubyRequest: "3.4.1", Gem: "rake"},
		},
		{
			name: "separator_and_args",
			args: []string{"rubocop", "--", "--version", "-a"},
			want: Invocation{Gem: "rubocop", Args: []string{"--version", "-a"}},
		},
		{
			name: "args_without_separator",
			args: []string{"rake", "test", "lint"},
			want: Invocation{Gem: "rake", Args: []string{"test", "lint"}},
		},
		{name: "empty", args: nil, wantErr: true},
		{name: "dangling_ruby", args: []string{"--ruby"}, wantErr: true},
		{name: "unknown_flag", args: []string{"--frobnicate", "x"}, wantErr: true},
		{name: "empty_gem", args: []string{"@1.0"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Gem != tt.want.Gem || got.Version != tt.want.Version || got.RubyRequest != tt.want.RubyRequest {
				t.Errorf("ParseArgs(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
			if len(got.Args) != len(tt.want.Args) {
				t.Errorf("args = %v, want %v", got.Args, tt.want.Args)
			}
		})
	}
}

// seedTool fabricates a cached tool environment.
func seedTool(t *testing.T, toolsDir, gem, version string, installed bool, execs ...string) string {
	t.Helper()
	envDir := filepath.Join(toolsDir, gem+"-"+version)
	gemDir := filepath.Join(envDir, "gems", gem+"-"+version)
	if err := os.MkdirAll(gemDir, 0o755); err != nil {
		t.Fatal(err)
	}

	var marker string
	for _, e := range execs {
		marker += e + "\n"
		binDir := filepath.Join(envDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(binDir, e), []byte("#!/usr/bin/env ruby\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(gemDir, ".executables"), []byte(marker), 0o644); err != nil {
		t.Fatal(err)
	}

	if installed {
		if err := os.WriteFile(filepath.Join(envDir, ".installed"), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return envDir
}

func TestCachedToolDir(t *testing.T) {
	toolsDir := t.TempDir()

	seedTool(t, toolsDir, "rubocop", "1.50.0", true, "rubocop")
	newest := seedTool(t, toolsDir, "rubocop", "1.60.0", true, "rubocop")
	seedTool(t, toolsDir, "rubocop", "1.99.0", false, "rubocop") // incomplete

	if got := cachedToolDir(toolsDir, "rubocop", ""); got != newest {
		t.Errorf("cachedToolDir = %q, want newest complete %q", got, newest)
	}

	if got := cachedToolDir(toolsDir, "rubocop", "1.50.0"); filepath.Base(got) != "rubocop-1.50.0" {
		t.Errorf("exact version lookup = %q", got)
	}

	// Incomplete environments are invisible.
	if got := cachedToolDir(toolsDir, "rubocop", "1.99.0"); got != "" {
		t.Errorf("incomplete environment should be invisible, got %q", got)
	}

	if got := cachedToolDir(toolsDir, "rspec", ""); got != "" {
		t.Errorf("unknown tool should miss, got %q", got)
	}
}

func TestToolExecutablePrefersGemName(t *testing.T) {
	toolsDir := t.TempDir()
	envDir := seedTool(t, toolsDir, "rubocop", "1.60.0", true, "cop-helper", "rubocop")

	got := toolExecutable(envDir, "rubocop")
	if filepath.Base(got) != "rubocop" {
		t.Errorf("toolExecutable = %q, want the gem-named executable", got)
	}
}

func TestToolExecutableFallsBackToFirst(t *testing.T) {
	toolsDir := t.TempDir()
	// Executable name differs from the gem name entirely.
	envDir := seedTool(t, toolsDir, "haml-lint", "0.60.0", true, "haml-lint-bin")

	got := toolExecutable(envDir, "haml-lint")
	if filepath.Base(got) != "haml-lint-bin" {
		t.Errorf("toolExecutable = %q, want first listed executable", got)
	}
}
