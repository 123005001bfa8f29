package geminstall

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata is the parsed gem metadata document. Unknown keys are
// tolerated and ignored; Ruby-specific YAML tags are stripped before
// unmarshalling.
type Metadata struct {
	Name                string           `yaml:"name"`
	Version             versionField     `yaml:"version"`
	Authors             []string         `yaml:"authors"`
	Author              string           `yaml:"author"`
	Summary             string           `yaml:"summary"`
	Description         string           `yaml:"description"`
	Platform            string           `yaml:"platform"`
	Bindir              string           `yaml:"bindir"`
	RequirePaths        []string         `yaml:"require_paths"`
	Executables         []string         `yaml:"executables"`
	Extensions          []string         `yaml:"extensions"`
	RequiredRubyVersion requirementField `yaml:"required_ruby_version"`
	Dependencies        []MetadataDep    `yaml:"dependencies"`
}

// MetadataDep is one dependency entry of the metadata document.
type MetadataDep struct {
	Name        string           `yaml:"name"`
	Requirement requirementField `yaml:"requirement"`
	Type        string           `yaml:"type"` // ":runtime" or ":development"
}

// Runtime reports whether the dependency is needed at run time.
func (d MetadataDep) Runtime() bool {
	return d.Type == "" || strings.Contains(d.Type, "runtime")
}

// versionField handles both nested and simple version formats
// After stripping Ruby tags, "version: !ruby/object:Gem::Version\n  version: 2.7.3"
// becomes "version:\n  version: 2.7.3" (nested map)
type versionField struct {
	Version string `yaml:"version"`
}

// UnmarshalYAML allows versionField to accept both string and nested object
func (v *versionField) UnmarshalYAML(node *yaml.Node) error {
	var simpleVersion string
	if err := node.Decode(&simpleVersion); err == nil && simpleVersion != "" {
		v.Version = simpleVersion
		return nil
	}

	var nested struct {
		Version string `yaml:"version"`
	}
	if err := node.Decode(&nested); err == nil && nested.Version != "" {
		v.Version = nested.Version
		return nil
	}

	return nil
}

// String returns the version string for convenience
func (v versionField) String() string {
	return v.Version
}

// requirementField decodes Gem::Requirement structures into constraint
// strings. After tag stripping the YAML looks like:
//
//	requirements:
//	- - "~>"
//	  - version: 0.0.1
type requirementField struct {
	Constraints []string
}

func (r *requirementField) UnmarshalYAML(node *yaml.Node) error {
	// Plain string form: ">= 2.7.0"
	var simple string
	if err := node.Decode(&simple); err == nil && simple != "" {
		r.Constraints = []string{simple}
		return nil
	}

	var nested struct {
		Requirements [][]yaml.Node `yaml:"requirements"`
	}
	if err := node.Decode(&nested); err != nil {
		return nil // tolerate unknown shapes
	}

	for _, pair := range nested.Requirements {
		if len(pair) < 2 {
			continue
		}
		var op string
		if err := pair[0].Decode(&op); err != nil {
			continue
		}
		var version versionField
		if err := pair[1].Decode(&version); err != nil || version.Version == "" {
			continue
		}
		r.Constraints = append(r.Constraints, fmt.Sprintf("%s %s", op, version.Version))
	}
	return nil
}

var rubyTagPattern = regexp.MustCompile(`!ruby/object:[A-Za-z:]+`)

// stripRubyYAMLTags removes Ruby-specific YAML tags that gopkg.in/yaml.v3 can't parse
// Simple approach: just remove all Ruby tags and let YAML parser handle the structure
func stripRubyYAMLTags(data []byte) []byte {
	return rubyTagPattern.ReplaceAll(data, []byte(""))
}

// ParseMetadata parses a gem metadata document.
func ParseMetadata(metadataYAML []byte) (*Metadata, error) {
	cleaned := stripRubyYAMLTags(metadataYAML)

	var meta Metadata
	if err := yaml.Unmarshal(cleaned, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse gem metadata: %w", err)
	}

	if len(meta.Authors) == 0 && meta.Author != "" {
		meta.Authors = []string{meta.Author}
	}
	if len(meta.RequirePaths) == 0 {
		meta.RequirePaths = []string{"lib"}
	}
	if meta.Bindir == "" {
		meta.Bindir = "bin"
	}
	return &meta, nil
}
