package extensions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestHasPrebuiltArtifacts(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  bool
	}{
		{name: "shared_object", files: []string{"lib/nokogiri/nokogiri.so"}, want: true},
		{name: "darwin_bundle", files: []string{"lib/ext/thing.bundle"}, want: true},
		{name: "pure_ruby", files: []string{"lib/rack.rb", "lib/rack/utils.rb"}, want: false},
		{name: "no_lib_dir", files: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gemDir := t.TempDir()
			for _, f := range tt.files {
				path := filepath.Join(gemDir, f)
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if got := HasPrebuiltArtifacts(gemDir); got != tt.want {
				t.Errorf("HasPrebuiltArtifacts = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigureScripts(t *testing.T) {
	extensions := []string{
		"ext/nokogiri/extconf.rb",
		"ext/java/build.xml",
		"Rakefile",
	}
	scripts := ConfigureScripts(extensions)
	if len(scripts) != 1 || scripts[0] != "ext/nokogiri/extconf.rb" {
		t.Errorf("ConfigureScripts = %v", scripts)
	}
}

func TestNeedsBuild(t *testing.T) {
	gemDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(gemDir, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}

	if !NeedsBuild(gemDir, []string{"ext/extconf.rb"}) {
		t.Error("source-only gem with extconf should need a build")
	}
	if NeedsBuild(gemDir, nil) {
		t.Error("gem without extensions never needs a build")
	}

	if err := os.WriteFile(filepath.Join(gemDir, "lib", "fast.so"), []byte("ELF"), 0o644); err != nil {
		t.Fatal(err)
	}
	if NeedsBuild(gemDir, []string{"ext/extconf.rb"}) {
		t.Error("prebuilt artefacts should suppress the build")
	}
}

func TestBuildSkipsPrebuilt(t *testing.T) {
	gemDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(gemDir, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gemDir, "lib", "native.so"), []byte("ELF"), 0o644); err != nil {
		t.Fatal(err)
	}

	// RubyBinary deliberately bogus: Build must return before running it.
	b := NewBuilder(&BuildConfig{RubyBinary: "/nonexistent/ruby"})
	if err := b.Build(context.Background(), gemDir, []string{"ext/extconf.rb"}); err != nil {
		t.Fatalf("prebuilt gem should skip the build: %v", err)
	}
}

func TestBuildFailureIsTyped(t *testing.T) {
	gemDir := t.TempDir()
	extDir := filepath.Join(gemDir, "ext")
	if err := os.MkdirAll(extDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(extDir, "extconf.rb"), []byte("exit 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(&BuildConfig{RubyBinary: "/nonexistent/ruby"})
	err := b.Build(context.Background(), gemDir, []string{"ext/extconf.rb"})
	if err == nil {
		t.Fatal("expected configure failure")
	}
	var buildErr *NativeBuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected *NativeBuildError, got %T", err)
	}
	if buildErr.Step != "configure" {
		t.Errorf("failed step = %q, want configure", buildErr.Step)
	}
}
