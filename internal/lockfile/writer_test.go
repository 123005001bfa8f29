package lockfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func sinatraLock() *Lockfile {
	return &Lockfile{
		Remote: "https://rubygems.org/",
		Specs: []Spec{
			{Name: "sinatra", Version: "4.1.1", Dependencies: []Dependency{
				{Name: "tilt", Constraints: []string{"~> 2.0"}},
				{Name: "rack", Constraints: []string{">= 3.0.0", "< 4"}},
				{Name: "mustermann", Constraints: []string{"~> 3.0"}},
			}},
			{Name: "rack", Version: "3.1.12"},
			{Name: "tilt", Version: "2.6.0"},
			{Name: "ruby2_keywords", Version: "0.0.5"},
			{Name: "mustermann", Version: "3.0.3", Dependencies: []Dependency{
				{Name: "ruby2_keywords", Constraints: []string{"~> 0.0.1"}},
			}},
		},
		Platforms:   []string{"ruby"},
		Roots:       []Root{{Name: "sinatra", Constraints: []string{"~> 4.0"}}},
		BundledWith: "2.7.2",
	}
}

const wantSinatra = `GEM
  remote: https://rubygems.org/
  specs:
    mustermann (3.0.3)
      ruby2_keywords (~> 0.0.1)
    rack (3.1.12)
    ruby2_keywords (0.0.5)
    sinatra (4.1.1)
      mustermann (~> 3.0)
      rack (>= 3.0.0, < 4)
      tilt (~> 2.0)
    tilt (2.6.0)

PLATFORMS
  ruby

DEPENDENCIES
  sinatra (~> 4.0)

BUNDLED WITH
   2.7.2
`

func TestRenderByteExact(t *testing.T) {
	got := Render(sinatraLock())
	if string(got) != wantSinatra {
		t.Errorf("rendered lockfile mismatch:\n--- got ---\n%s\n--- want ---\n%s", got, wantSinatra)
	}
}

func TestRenderDeterministic(t *testing.T) {
	a := Render(sinatraLock())
	b := Render(sinatraLock())
	if !bytes.Equal(a, b) {
		t.Error("identical input produced different bytes")
	}
}

func TestRenderSourceOverrideBang(t *testing.T) {
	lock := sinatraLock()
	lock.Roots = append(lock.Roots, Root{Name: "internal-gem", Constraints: []string{">= 0"}, SourceOverridden: true})
	out := string(Render(lock))
	if !bytes.Contains([]byte(out), []byte("  internal-gem (>= 0)!\n")) {
		t.Errorf("source-overridden root should carry a bang:\n%s", out)
	}
}

func TestRenderPlatformSuffix(t *testing.T) {
	lock := &Lockfile{
		Remote: "https://rubygems.org/",
		Specs: []Spec{
			{Name: "nokogiri", Version: "1.16.0", Platform: "x86_64-linux"},
		},
		Platforms:   []string{"ruby", "x86_64-linux"},
		Roots:       []Root{{Name: "nokogiri"}},
		BundledWith: "2.7.2",
	}
	out := string(Render(lock))
	if !bytes.Contains([]byte(out), []byte("    nokogiri (1.16.0-x86_64-linux)\n")) {
		t.Errorf("platform suffix missing:\n%s", out)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Gemfile.lock")

	if err := WriteFile(sinatraLock(), path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != wantSinatra {
		t.Error("written file differs from rendered bytes")
	}

	// No temp droppings left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the lockfile in %s, found %d entries", dir, len(entries))
	}
}
