package rubyinstall

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/contriboss/orb/internal/config"
	"github.com/contriboss/orb/internal/gemarchive"
	"github.com/contriboss/orb/internal/logger"
	"github.com/contriboss/orb/internal/platform"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// DefaultMirror hosts prebuilt portable interpreter archives laid out as
// <mirror>/<version>/ruby-<version>-<platform>.tar.(xz|gz).
const DefaultMirror = "https://rubies.contriboss.com"

// lockWaitCeiling bounds the advisory-lock wait.
const lockWaitCeiling = 45 * time.Second

// ErrLockTimeout reports that another installation held the lock past
// the ceiling.
var ErrLockTimeout = errors.New("timed out waiting for interpreter install lock")

// Installer downloads and unpacks interpreters.
type Installer struct {
	RubiesDir string
	Mirror    string
	Client    *http.Client
	Host      platform.Descriptor
}

// NewInstaller builds an installer over the rubies directory.
func NewInstaller(rubiesDir string) *Installer {
	mirror := os.Getenv("ORB_RUBY_MIRROR")
	if mirror == "" {
		mirror = DefaultMirror
	}
	return &Installer{
		RubiesDir: rubiesDir,
		Mirror:    mirror,
		Client:    config.NewHTTPClient(0),
		Host:      platform.Current(),
	}
}

// PrefixFor returns the installation prefix of a version.
func (i *Installer) PrefixFor(version string) string {
	return filepath.Join(i.RubiesDir, version)
}

// Install fetches and unpacks one interpreter version. Mutations of the
// rubies directory are guarded by an exclusive advisory file lock with
// exponential backoff; a concurrent install of the same version is
// detected after the lock is held and treated as success.
func (i *Installer) Install(ctx context.Context, version string) error {
	if err := os.MkdirAll(i.RubiesDir, 0o755); err != nil {
		return err
	}

	unlock, err := acquireLock(filepath.Join(i.RubiesDir, ".lock"))
	if err != nil {
		return err
	}
	defer unlock()

	prefix := i.PrefixFor(version)
	if _, err := os.Stat(filepath.Join(prefix, "bin", "ruby")); err == nil {
		return nil // someone else finished while we waited
	}

	archivePath, compression, err := i.download(ctx, version)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(archivePath) }()

	// Unpack next to the final location, rename when complete.
	staging, err := os.MkdirTemp(i.RubiesDir, ".staging-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := i.unpack(archivePath, compression, staging); err != nil {
		return fmt.Errorf("failed to unpack ruby %s: %w", version, err)
	}

	_ = os.RemoveAll(prefix)
	if err := os.Rename(staging, prefix); err != nil {
		return fmt.Errorf("failed to move ruby %s into place: %w", version, err)
	}

	logger.Info("installed ruby", "version", version, "prefix", prefix)
	return nil
}

// download tries the xz archive first, then gzip. The archive lands in a
// temp file; its SHA-256 is checked when the mirror publishes one.
func (i *Installer) download(ctx context.Context, version string) (string, string, error) {
	var lastErr error
	for _, compression := range []string{"xz", "gz"} {
		name := fmt.Sprintf("ruby-%s-%s.tar.%s", version, i.Host.Gem, compression)
		url := fmt.Sprintf("%s/%s/%s", i.Mirror, version, name)

		path, err := i.fetch(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}

		if err := i.checkDigest(ctx, url+".sha256", path); err != nil {
			_ = os.Remove(path)
			return "", "", err
		}
		return path, compression, nil
	}
	return "", "", fmt.Errorf("no interpreter archive for ruby %s (%s): %w", version, i.Host.Gem, lastErr)
}

func (i *Installer) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := i.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	tmp, err := os.CreateTemp(config.TempDir(), "orb-ruby-*.tar")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// checkDigest verifies the archive against the mirror's published
// SHA-256, when there is one. A missing digest file is not an error.
func (i *Installer) checkDigest(ctx context.Context, digestURL, archivePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, digestURL, nil)
	if err != nil {
		return err
	}
	resp, err := i.Client.Do(req)
	if err != nil {
		return nil // digest unavailable, tolerated
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return err
	}
	expected := strings.Fields(strings.TrimSpace(string(body)))
	if len(expected) == 0 {
		return nil
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	actual := fmt.Sprintf("%x", h.Sum(nil))
	if !strings.EqualFold(actual, expected[0]) {
		return fmt.Errorf("interpreter archive checksum mismatch: expected %s, got %s", expected[0], actual)
	}
	return nil
}

// unpack extracts the archive into dest, stripping the leading
// ruby-<version> component.
func (i *Installer) unpack(archivePath, compression, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	opts := gemarchive.ExtractOptions{StripComponents: 1}

	switch compression {
	case "xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return err
		}
		return gemarchive.ExtractTar(xr, dest, opts)
	case "gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer func() { _ = gz.Close() }()
		return gemarchive.ExtractTar(gz, dest, opts)
	}
	return fmt.Errorf("unknown compression %q", compression)
}

// acquireLock takes an exclusive flock, retrying with exponential
// backoff up to the ceiling.
func acquireLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	delay := 100 * time.Millisecond
	deadline := time.Now().Add(lockWaitCeiling)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return func() {
				_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
				_ = f.Close()
			}, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			_ = f.Close()
			return nil, err
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, ErrLockTimeout
		}
		time.Sleep(delay)
		if delay < 5*time.Second {
			delay *= 2
		}
	}
}
