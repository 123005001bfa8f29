package geminstall

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/contriboss/orb/internal/sources"
	"github.com/klauspost/compress/gzip"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func tarBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// buildGemArchive assembles a minimal .gem: metadata.gz + data.tar.gz in
// an outer tar.
func buildGemArchive(t *testing.T, name, version string, payload map[string]string) []byte {
	t.Helper()
	metadata := fmt.Sprintf("name: %s\nversion: %q\nrequire_paths:\n- lib\n", name, version)
	data := gzipBytes(t, tarBytes(t, payload))
	return tarBytes(t, map[string]string{
		"metadata.gz": string(gzipBytes(t, []byte(metadata))),
		"data.tar.gz": string(data),
	})
}

func sha256hex(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// gemServer serves .gem files under /downloads/<file>.
func gemServer(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/downloads/")
		body, ok := files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOrchestrator(t *testing.T, srv *httptest.Server) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		CacheDir: filepath.Join(t.TempDir(), "cache"),
		Sources:  sources.NewManager([]sources.SourceConfig{{URL: srv.URL}}, srv.Client()),
		Workers:  4,
	}
}

func TestMaterialize(t *testing.T) {
	rackGem := buildGemArchive(t, "rack", "3.1.12", map[string]string{"lib/rack.rb": "module Rack; end\n"})
	tiltGem := buildGemArchive(t, "tilt", "2.6.0", map[string]string{"lib/tilt.rb": "module Tilt; end\n"})

	srv := gemServer(t, map[string][]byte{
		"rack-3.1.12.gem": rackGem,
		"tilt-2.6.0.gem":  tiltGem,
	})
	o := newOrchestrator(t, srv)

	envDir := t.TempDir()
	requests := []GemRequest{
		{Name: "rack", Version: "3.1.12", Archives: []ArchiveCandidate{{Checksum: sha256hex(rackGem)}}},
		{Name: "tilt", Version: "2.6.0", Archives: []ArchiveCandidate{{Checksum: sha256hex(tiltGem)}}},
	}

	if err := o.Materialize(context.Background(), requests, envDir); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(envDir, "gems", "rack-3.1.12", "lib", "rack.rb")); err != nil {
		t.Errorf("rack payload missing: %v", err)
	}

	paths := ReadMarkerLines(filepath.Join(envDir, "gems", "rack-3.1.12", RequirePathsMarker))
	if len(paths) != 1 || paths[0] != "lib" {
		t.Errorf(".require_paths = %v", paths)
	}

	if !IsInstalled(envDir) {
		t.Error("completion marker missing after successful materialisation")
	}
}

func TestMaterializeHashMismatch(t *testing.T) {
	rackGem := buildGemArchive(t, "rack", "3.1.12", map[string]string{"lib/rack.rb": "x"})
	srv := gemServer(t, map[string][]byte{"rack-3.1.12.gem": rackGem})
	o := newOrchestrator(t, srv)

	envDir := t.TempDir()
	requests := []GemRequest{
		{Name: "rack", Version: "3.1.12", Archives: []ArchiveCandidate{{Checksum: strings.Repeat("0", 64)}}},
	}

	err := o.Materialize(context.Background(), requests, envDir)
	var mismatch *HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected HashMismatchError, got %v", err)
	}
	if mismatch.Name != "rack" {
		t.Errorf("mismatch gem = %s", mismatch.Name)
	}

	// The poisoned archive must be unlinked so a retry can re-download.
	if _, statErr := os.Stat(filepath.Join(o.CacheDir, "rack-3.1.12.gem")); statErr == nil {
		t.Error("mismatching archive still in cache")
	}
	if IsInstalled(envDir) {
		t.Error("environment must not be marked installed after a failure")
	}
}

func TestMaterializePlatformFallback(t *testing.T) {
	pure := buildGemArchive(t, "nokogiri", "1.16.0", map[string]string{"lib/nokogiri.rb": "x"})
	// Only the pure archive exists; the platform variant 404s.
	srv := gemServer(t, map[string][]byte{"nokogiri-1.16.0.gem": pure})
	o := newOrchestrator(t, srv)

	envDir := t.TempDir()
	requests := []GemRequest{
		{Name: "nokogiri", Version: "1.16.0", Archives: []ArchiveCandidate{
			{Platform: "x86_64-linux", Checksum: strings.Repeat("1", 64)},
			{Checksum: sha256hex(pure)},
		}},
	}

	if err := o.Materialize(context.Background(), requests, envDir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(envDir, "gems", "nokogiri-1.16.0", "lib", "nokogiri.rb")); err != nil {
		t.Errorf("fallback archive not unpacked: %v", err)
	}
}

func TestMaterializeSkipsPresentGems(t *testing.T) {
	srv := gemServer(t, nil) // serving nothing: a fetch would fail
	o := newOrchestrator(t, srv)

	envDir := t.TempDir()
	gemDir := GemDir(envDir, "rack", "3.1.12")
	if err := os.MkdirAll(gemDir, 0o755); err != nil {
		t.Fatal(err)
	}

	requests := []GemRequest{{Name: "rack", Version: "3.1.12"}}
	if err := o.Materialize(context.Background(), requests, envDir); err != nil {
		t.Fatalf("present gem should not be fetched: %v", err)
	}
	if !IsInstalled(envDir) {
		t.Error("marker missing")
	}
}

func TestMaterializeReusesCachedArchive(t *testing.T) {
	rackGem := buildGemArchive(t, "rack", "3.1.12", map[string]string{"lib/rack.rb": "x"})

	// Seed the cache, then serve nothing: the download would fail if
	// attempted.
	o := newOrchestrator(t, gemServer(t, nil))
	if err := os.MkdirAll(o.CacheDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(o.CacheDir, "rack-3.1.12.gem"), rackGem, 0o644); err != nil {
		t.Fatal(err)
	}

	envDir := t.TempDir()
	requests := []GemRequest{
		{Name: "rack", Version: "3.1.12", Archives: []ArchiveCandidate{{Checksum: sha256hex(rackGem)}}},
	}
	if err := o.Materialize(context.Background(), requests, envDir); err != nil {
		t.Fatal(err)
	}
}

func TestMaterializeWritesExecutableMarkers(t *testing.T) {
	metadata := "name: rake\nversion: \"13.3.0\"\nrequire_paths:\n- lib\nexecutables:\n- rake\nbindir: exe\n"
	data := gzipBytes(t, tarBytes(t, map[string]string{
		"lib/rake.rb": "module Rake; end\n",
		"exe/rake":    "#!/usr/bin/env ruby\nputs :rake\n",
	}))
	gem := tarBytes(t, map[string]string{
		"metadata.gz": string(gzipBytes(t, []byte(metadata))),
		"data.tar.gz": string(data),
	})

	srv := gemServer(t, map[string][]byte{"rake-13.3.0.gem": gem})
	o := newOrchestrator(t, srv)

	envDir := t.TempDir()
	requests := []GemRequest{{Name: "rake", Version: "13.3.0"}}
	if err := o.Materialize(context.Background(), requests, envDir); err != nil {
		t.Fatal(err)
	}

	execs := ReadMarkerLines(filepath.Join(GemDir(envDir, "rake", "13.3.0"), ExecutablesMarker))
	if len(execs) != 1 || execs[0] != "rake" {
		t.Errorf(".executables = %v", execs)
	}

	binstub, err := os.ReadFile(filepath.Join(envDir, "bin", "rake"))
	if err != nil {
		t.Fatalf("binstub missing: %v", err)
	}
	if !strings.Contains(string(binstub), "#!/usr/bin/env ruby") {
		t.Errorf("binstub content: %q", binstub)
	}
}
