package compactindex

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/contriboss/orb/internal/gemver"
)

// Dependency is one requirement of a version entry.
type Dependency struct {
	Name        string
	Constraints gemver.ConstraintSet
}

// VersionEntry is a single line of a per-gem info file.
type VersionEntry struct {
	Version      gemver.Version
	Platform     string // empty for pure (all-platform) archives
	Dependencies []Dependency
	Checksum     string // SHA-256 of the archive, lowercase hex
	Ruby         gemver.ConstraintSet // required interpreter version, if any
	Rubygems     gemver.ConstraintSet // required tool version, if any
}

// ParseError reports a malformed info line. Parse failures are terminal.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("compact index line %d: %v (%q)", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseInfoFile parses a compact index info file from disk.
func ParseInfoFile(path string) ([]VersionEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open info file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ParseInfo(file)
}

// ParseInfo parses a compact index info document.
//
// Format, one line per version after the "---" separator:
//
//	version[-platform] [dep:cs[,dep:cs...]]|checksum:hex[,ruby:cs][,rubygems:cs]
//
// Constraints inside one set are joined with "&". Everything before the
// separator is preamble and silently discarded. Unknown post-pipe keys are
// tolerated.
func ParseInfo(r io.Reader) ([]VersionEntry, error) {
	var entries []VersionEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	headerPassed := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			continue
		}

		if !headerPassed {
			if strings.HasPrefix(line, "---") {
				headerPassed = true
			}
			continue
		}

		entry, err := parseVersionLine(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Err: err}
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading info document: %w", err)
	}

	return entries, nil
}

func parseVersionLine(line string) (VersionEntry, error) {
	head, rest, found := strings.Cut(line, " ")
	if !found {
		return VersionEntry{}, fmt.Errorf("missing dependency section")
	}

	versionStr, platform := splitPlatform(head)
	version, err := gemver.Parse(versionStr)
	if err != nil {
		return VersionEntry{}, err
	}

	entry := VersionEntry{Version: version, Platform: platform}

	depsSection, metaSection, found := strings.Cut(rest, "|")
	if !found {
		return VersionEntry{}, fmt.Errorf("missing metadata pipe")
	}

	if deps := strings.TrimSpace(depsSection); deps != "" {
		for _, pair := range strings.Split(deps, ",") {
			name, cs, ok := strings.Cut(pair, ":")
			if !ok {
				return VersionEntry{}, fmt.Errorf("bad dependency %q", pair)
			}
			set, err := gemver.ParseConstraintSetString(cs, "&")
			if err != nil {
				return VersionEntry{}, fmt.Errorf("dependency %q: %w", name, err)
			}
			entry.Dependencies = append(entry.Dependencies, Dependency{Name: name, Constraints: set})
		}
	}

	for _, pair := range strings.Split(metaSection, ",") {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		switch key {
		case "checksum":
			entry.Checksum = value
		case "ruby":
			set, err := gemver.ParseConstraintSetString(value, "&")
			if err != nil {
				return VersionEntry{}, fmt.Errorf("ruby requirement: %w", err)
			}
			entry.Ruby = set
		case "rubygems":
			set, err := gemver.ParseConstraintSetString(value, "&")
			if err != nil {
				return VersionEntry{}, fmt.Errorf("rubygems requirement: %w", err)
			}
			entry.Rubygems = set
		default:
			// Unknown keys are ignored.
		}
	}

	return entry, nil
}

// splitPlatform splits "3.1.4-arm64-darwin" into version and platform.
// A dash starts the platform tag only when the next character is a
// lowercase letter; "1.0-2" stays a version.
func splitPlatform(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '-' && i+1 < len(s) && s[i+1] >= 'a' && s[i+1] <= 'z' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}
