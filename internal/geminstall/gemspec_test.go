package geminstall

import (
	"testing"
)

const sampleMetadata = `--- !ruby/object:Gem::Specification
name: mustermann
version: !ruby/object:Gem::Version
  version: 3.0.3
platform: ruby
authors:
- Konstantin Haase
- Zachary Scott
bindir: bin
executables: []
extensions: []
require_paths:
- lib
summary: Your personal string matching expert.
required_ruby_version: !ruby/object:Gem::Requirement
  requirements:
  - - ">="
    - !ruby/object:Gem::Version
      version: '2.6.0'
dependencies:
- !ruby/object:Gem::Dependency
  name: ruby2_keywords
  requirement: !ruby/object:Gem::Requirement
    requirements:
    - - "~>"
      - !ruby/object:Gem::Version
        version: 0.0.1
  type: :runtime
  prerelease: false
- !ruby/object:Gem::Dependency
  name: rspec
  requirement: !ruby/object:Gem::Requirement
    requirements:
    - - ">="
      - !ruby/object:Gem::Version
        version: '3.0'
  type: :development
unknown_future_key: tolerated
`

func TestParseMetadata(t *testing.T) {
	meta, err := ParseMetadata([]byte(sampleMetadata))
	if err != nil {
		t.Fatal(err)
	}

	if meta.Name != "mustermann" {
		t.Errorf("name = %q", meta.Name)
	}
	if meta.Version.String() != "3.0.3" {
		t.Errorf("version = %q", meta.Version)
	}
	if len(meta.Authors) != 2 {
		t.Errorf("authors = %v", meta.Authors)
	}
	if len(meta.RequirePaths) != 1 || meta.RequirePaths[0] != "lib" {
		t.Errorf("require_paths = %v", meta.RequirePaths)
	}
	if got := meta.RequiredRubyVersion.Constraints; len(got) != 1 || got[0] != ">= 2.6.0" {
		t.Errorf("required_ruby_version = %v", got)
	}

	if len(meta.Dependencies) != 2 {
		t.Fatalf("dependencies = %v", meta.Dependencies)
	}
	runtime := meta.Dependencies[0]
	if runtime.Name != "ruby2_keywords" || !runtime.Runtime() {
		t.Errorf("runtime dep = %+v", runtime)
	}
	if got := runtime.Requirement.Constraints; len(got) != 1 || got[0] != "~> 0.0.1" {
		t.Errorf("runtime requirement = %v", got)
	}
	if dev := meta.Dependencies[1]; dev.Runtime() {
		t.Errorf("rspec should be a development dependency: %+v", dev)
	}
}

func TestParseMetadataDefaults(t *testing.T) {
	meta, err := ParseMetadata([]byte("name: tiny\nauthor: Solo Dev\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.RequirePaths) != 1 || meta.RequirePaths[0] != "lib" {
		t.Errorf("default require_paths = %v", meta.RequirePaths)
	}
	if meta.Bindir != "bin" {
		t.Errorf("default bindir = %q", meta.Bindir)
	}
	if len(meta.Authors) != 1 || meta.Authors[0] != "Solo Dev" {
		t.Errorf("single author fallback = %v", meta.Authors)
	}
}

func TestParseMetadataStringRequirement(t *testing.T) {
	meta, err := ParseMetadata([]byte("name: x\nrequired_ruby_version: '>= 3.0'\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := meta.RequiredRubyVersion.Constraints; len(got) != 1 || got[0] != ">= 3.0" {
		t.Errorf("string requirement = %v", got)
	}
}
