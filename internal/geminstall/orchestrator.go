// Package geminstall materialises resolved gems into an environment
// directory: it diffs the lock against what is already unpacked, drives
// the bounded parallel downloader, verifies archives by SHA-256, streams
// the payload out of each archive, and writes the per-gem marker files.
// The env-root .installed marker lands only after every gem is in place.
package geminstall

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/contriboss/orb/internal/gemarchive"
	"github.com/contriboss/orb/internal/logger"
	"github.com/contriboss/orb/internal/sources"
	"golang.org/x/sync/errgroup"
)

// InstalledMarker is the env-root file whose presence is the only
// authoritative signal that an environment is complete.
const InstalledMarker = ".installed"

// Marker files written into each gems/<name>-<version>/ directory.
const (
	RequirePathsMarker = ".require_paths"
	ExecutablesMarker  = ".executables"
)

// GemRequest names one gem to materialise. Archives lists the candidate
// archive variants in falling platform preference: each entry carries the
// platform tag ("" for pure) and the expected SHA-256.
type GemRequest struct {
	Name     string
	Version  string
	Archives []ArchiveCandidate
}

// ArchiveCandidate is one downloadable variant of a gem version.
type ArchiveCandidate struct {
	Platform string
	Checksum string // lowercase hex SHA-256, empty when unknown
}

// HashMismatchError reports an archive whose content hash does not match
// the registry record. The offending file is unlinked; there is no
// silent retry.
type HashMismatchError struct {
	Name     string
	Version  string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s-%s: expected %s, got %s",
		e.Name, e.Version, e.Expected, e.Actual)
}

// Orchestrator drives acquisition into one environment directory.
type Orchestrator struct {
	CacheDir string           // content-addressed .gem archive cache
	Sources  *sources.Manager // download transport
	Workers  int              // parallel download bound

	// BuildExtensions, when set, runs after a gem with extension
	// sources is unpacked. The native builder is wired in here.
	BuildExtensions func(ctx context.Context, gemDir string, meta *Metadata) error

	// OnEvent, when set, receives progress notifications.
	OnEvent func(Event)
}

// Event is one progress notification.
type Event struct {
	Kind string // "fetched", "cached", "unpacked"
	Gem  string
}

func (o *Orchestrator) emit(kind, gem string) {
	if o.OnEvent != nil {
		o.OnEvent(Event{Kind: kind, Gem: gem})
	}
}

// FullName renders name-version.
func (r GemRequest) FullName() string {
	return r.Name + "-" + r.Version
}

func archiveFileName(r GemRequest, platform string) string {
	if platform == "" {
		return r.FullName() + ".gem"
	}
	return r.FullName() + "-" + platform + ".gem"
}

// GemDir returns the unpack directory of a gem inside an environment.
func GemDir(envDir, name, version string) string {
	return filepath.Join(envDir, "gems", fmt.Sprintf("%s-%s", name, version))
}

// IsInstalled reports whether an environment carries the completion
// marker. Partial environments are invisible to the runner.
func IsInstalled(envDir string) bool {
	_, err := os.Stat(filepath.Join(envDir, InstalledMarker))
	return err == nil
}

// Materialize brings envDir up to date with the requested gems and
// writes the .installed marker. Any failure leaves the marker absent so
// a retry recomputes extraction while reusing cached archives.
func (o *Orchestrator) Materialize(ctx context.Context, requests []GemRequest, envDir string) error {
	if err := os.MkdirAll(o.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(envDir, "gems"), 0o755); err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}

	// The .installed marker never survives a mutation in progress.
	_ = os.Remove(filepath.Join(envDir, InstalledMarker))

	var missing []GemRequest
	for _, req := range requests {
		if _, err := os.Stat(GemDir(envDir, req.Name, req.Version)); err != nil {
			missing = append(missing, req)
		}
	}

	archives, err := o.download(ctx, missing)
	if err != nil {
		return err
	}

	for _, req := range missing {
		if err := o.unpack(ctx, req, archives[req.FullName()], envDir); err != nil {
			return err
		}
		o.emit("unpacked", req.FullName())
	}

	marker := filepath.Join(envDir, InstalledMarker)
	f, err := os.Create(marker)
	if err != nil {
		return fmt.Errorf("failed to write completion marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Fetch downloads and verifies archives into the cache without
// unpacking anything. Used by the fetch command to warm the cache.
func (o *Orchestrator) Fetch(ctx context.Context, requests []GemRequest) error {
	if err := os.MkdirAll(o.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive cache: %w", err)
	}
	_, err := o.download(ctx, requests)
	return err
}

// download fetches every missing archive with a bounded worker pool.
// Workers never cancel each other: each request has its own result slot
// and all slots are inspected before this returns, so every failure is
// visible in one pass.
func (o *Orchestrator) download(ctx context.Context, missing []GemRequest) (map[string]string, error) {
	workers := o.Workers
	if workers <= 0 {
		workers = 4
	}

	paths := make([]string, len(missing))
	errs := make([]error, len(missing))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, req := range missing {
		g.Go(func() error {
			path, err := o.fetchOne(ctx, req)
			paths[i] = path
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(missing))
	var firstErr error
	for i, req := range missing {
		if errs[i] != nil {
			logger.Error("fetch failed", "gem", req.FullName(), "error", errs[i])
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		out[req.FullName()] = paths[i]
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// fetchOne acquires one gem archive, trying platform variants from most
// to least specific. A 404 moves on to the next variant; any other
// failure is terminal. The returned path is the verified cache file.
func (o *Orchestrator) fetchOne(ctx context.Context, req GemRequest) (string, error) {
	candidates := req.Archives
	if len(candidates) == 0 {
		candidates = []ArchiveCandidate{{}}
	}

	var lastErr error
	for _, candidate := range candidates {
		fileName := archiveFileName(req, candidate.Platform)
		cachePath := filepath.Join(o.CacheDir, fileName)

		if info, err := os.Stat(cachePath); err == nil && info.Size() > 0 {
			if err := o.verify(cachePath, req, candidate); err != nil {
				return "", err
			}
			o.emit("cached", req.FullName())
			return cachePath, nil
		}

		if err := o.downloadTo(ctx, fileName, cachePath); err != nil {
			if sources.IsNotFound(err) {
				lastErr = err
				continue // next, less specific platform
			}
			return "", err
		}

		if err := o.verify(cachePath, req, candidate); err != nil {
			return "", err
		}
		o.emit("fetched", req.FullName())
		return cachePath, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("no archive found for %s: %w", req.FullName(), lastErr)
	}
	return "", fmt.Errorf("no archive candidates for %s", req.FullName())
}

// downloadTo writes the archive to a temp file next to the final path
// and renames on success; concurrent downloaders race harmlessly since
// every winner is content-verified.
func (o *Orchestrator) downloadTo(ctx context.Context, fileName, cachePath string) error {
	tempFile, err := os.CreateTemp(filepath.Dir(cachePath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() { _ = os.Remove(tempPath) }()

	if err := o.Sources.DownloadGem(ctx, fileName, tempFile); err != nil {
		_ = tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	return os.Rename(tempPath, cachePath)
}

// verify compares the archive's SHA-256 with the registry record. On
// mismatch the file is unlinked and a HashMismatchError returned.
func (o *Orchestrator) verify(path string, req GemRequest, candidate ArchiveCandidate) error {
	if candidate.Checksum == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}

	actual := fmt.Sprintf("%x", h.Sum(nil))
	if !strings.EqualFold(actual, candidate.Checksum) {
		_ = os.Remove(path)
		return &HashMismatchError{
			Name:     req.Name,
			Version:  req.Version,
			Expected: strings.ToLower(candidate.Checksum),
			Actual:   actual,
		}
	}
	return nil
}

// unpack streams the payload out of the archive into the gem directory,
// writes the marker files and binstubs, and builds native extensions
// when the metadata lists any.
func (o *Orchestrator) unpack(ctx context.Context, req GemRequest, archivePath, envDir string) error {
	if archivePath == "" {
		return fmt.Errorf("no archive for %s", req.FullName())
	}

	// Pull data.tar.gz into a scratch file first so a corrupt archive
	// never leaves a half-written gem directory.
	scratch, err := os.CreateTemp(os.TempDir(), "orb-data-*.tar.gz")
	if err != nil {
		return err
	}
	scratchPath := scratch.Name()
	defer func() { _ = os.Remove(scratchPath) }()

	if err := gemarchive.StreamEntry(archivePath, "data.tar.gz", scratch); err != nil {
		_ = scratch.Close()
		return fmt.Errorf("failed to read payload of %s: %w", req.FullName(), err)
	}
	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		_ = scratch.Close()
		return err
	}

	gemDir := GemDir(envDir, req.Name, req.Version)
	if err := gemarchive.ExtractTarGz(scratch, gemDir, gemarchive.ExtractOptions{}); err != nil {
		_ = scratch.Close()
		_ = os.RemoveAll(gemDir)
		return fmt.Errorf("failed to extract %s: %w", req.FullName(), err)
	}
	_ = scratch.Close()

	metadataYAML, err := gemarchive.ReadMetadata(archivePath)
	if err != nil {
		return err
	}
	meta, err := ParseMetadata(metadataYAML)
	if err != nil {
		return err
	}

	if err := writeMarkers(gemDir, meta); err != nil {
		return err
	}
	if err := writeBinstubs(envDir, gemDir, meta); err != nil {
		return err
	}

	if len(meta.Extensions) > 0 && o.BuildExtensions != nil {
		if err := o.BuildExtensions(ctx, gemDir, meta); err != nil {
			return fmt.Errorf("native build failed for %s: %w", req.FullName(), err)
		}
	}

	return nil
}

// writeMarkers records the require paths and executables of a gem as
// newline-terminated marker files next to the payload.
func writeMarkers(gemDir string, meta *Metadata) error {
	requirePaths := meta.RequirePaths
	if len(requirePaths) == 0 {
		requirePaths = []string{"lib"}
	}
	if err := writeLines(filepath.Join(gemDir, RequirePathsMarker), requirePaths); err != nil {
		return err
	}
	return writeLines(filepath.Join(gemDir, ExecutablesMarker), meta.Executables)
}

func writeLines(path string, lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// ReadMarkerLines reads a newline-terminated marker file; a missing file
// yields nil.
func ReadMarkerLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
