package ruby

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectVersionFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		rbenvVer string
		asdfVer  string
		expected string
	}{
		{name: "rbenv_priority", rbenvVer: "3.2.0", asdfVer: "3.3.0", expected: "3.2.0"},
		{name: "asdf_only", asdfVer: "3.3.0", expected: "3.3.0"},
		{name: "neither_set", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RBENV_VERSION", tt.rbenvVer)
			t.Setenv("ASDF_RUBY_VERSION", tt.asdfVer)

			if got := DetectVersionFromEnv(); got != tt.expected {
				t.Errorf("DetectVersionFromEnv() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"3.4.0", "3.4.0"},
		{">= 3.0.0", "3.0.0"},
		{"~> 3.3", "3.3"},
		{"3.2.2p53", "3.2.2"},
		{"ruby-3.2.0", "3.2.0"},
		{" 3.1.4 ", "3.1.4"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAPIVersion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"3.4.7", "3.4.0"},
		{"3.1", "3.1.0"},
		{"3", "3.0.0"},
	}
	for _, tt := range tests {
		if got := APIVersion(tt.in); got != tt.want {
			t.Errorf("APIVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectVersionFromRubyVersionFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".ruby-version"), []byte("  3.4.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := DetectVersionFromRubyVersionFile(dir); got != "3.4.1" {
		t.Errorf("got %q, want 3.4.1", got)
	}

	// Walks up from nested directories.
	nested := filepath.Join(dir, "app", "models")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if got := DetectVersionFromRubyVersionFile(nested); got != "3.4.1" {
		t.Errorf("walk-up got %q, want 3.4.1", got)
	}
}

func TestParseMiseToml(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name: "standard_format",
			content: `[tools]
ruby = "3.4.7"
go = "latest"`,
			expected: "3.4.7",
		},
		{
			name: "no_ruby",
			content: `[tools]
go = "latest"`,
			expected: "",
		},
		{
			name:     "empty_tools",
			content:  `[tools]`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpFile := filepath.Join(t.TempDir(), "mise.toml")
			if err := os.WriteFile(tmpFile, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if got := parseMiseToml(tmpFile); got != tt.expected {
				t.Errorf("parseMiseToml() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseToolVersions(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), ".tool-versions")
	content := "nodejs 20.0.0\nruby 3.3.5\n"
	if err := os.WriteFile(tmpFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := parseToolVersions(tmpFile); got != "3.3.5" {
		t.Errorf("parseToolVersions() = %q, want 3.3.5", got)
	}
}

func TestDetectVersionFromLockfile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "Gemfile.lock")
	content := "GEM\n  specs:\n\nRUBY VERSION\n   ruby 3.4.0p0\n\nBUNDLED WITH\n   2.7.2\n"
	if err := os.WriteFile(tmpFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := DetectVersionFromLockfile(tmpFile); got != "3.4.0" {
		t.Errorf("DetectVersionFromLockfile() = %q, want 3.4.0", got)
	}
}
