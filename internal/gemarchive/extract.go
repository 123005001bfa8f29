package gemarchive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// DefaultMaxEntrySize caps a single extracted entry.
const DefaultMaxEntrySize = 100 << 20 // 100 MiB

// ErrUnsafePath marks entries that would escape the destination root.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// ErrEntryTooLarge marks entries over the configured ceiling.
var ErrEntryTooLarge = errors.New("archive entry exceeds size limit")

// ExtractOptions tunes extraction.
type ExtractOptions struct {
	// StripComponents removes this many leading path components from
	// every entry, like tar --strip-components.
	StripComponents int

	// MaxEntrySize caps a single entry; zero means DefaultMaxEntrySize.
	MaxEntrySize int64
}

// ExtractTarGz streams a gzip-compressed tar from r into destDir.
//
// Safety contract, checked per entry after stripping:
//   - absolute paths and ".." components are rejected
//   - hard links, devices and FIFOs are rejected
//   - symlink targets must stay inside destDir
//   - entries above the size ceiling are rejected
//
// File modes come from the header OR-ed with 0600 and are applied after
// the content is fully written; directories are created 0755.
func ExtractTarGz(r io.Reader, destDir string, opts ExtractOptions) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()

	return extractTar(gz, destDir, opts)
}

// ExtractTar streams an uncompressed tar (interpreter tarballs arrive
// through an outer decompressor) into destDir under the same contract.
func ExtractTar(r io.Reader, destDir string, opts ExtractOptions) error {
	return extractTar(r, destDir, opts)
}

func extractTar(r io.Reader, destDir string, opts ExtractOptions) error {
	maxSize := opts.MaxEntrySize
	if maxSize <= 0 {
		maxSize = DefaultMaxEntrySize
	}

	cache := newDirCache()
	tr := tar.NewReader(r)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %v", ErrUnsafePath, err)
		}
		if err != nil {
			return fmt.Errorf("malformed archive: %w", err)
		}

		name, ok := stripComponents(header.Name, opts.StripComponents)
		if !ok {
			continue
		}

		if err := checkEntryPath(name); err != nil {
			return fmt.Errorf("%w: %q", err, header.Name)
		}

		targetPath := filepath.Join(destDir, filepath.FromSlash(name))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := cache.Ensure(targetPath, 0o755); err != nil {
				return err
			}

		case tar.TypeReg:
			if header.Size > maxSize {
				return fmt.Errorf("%w: %q is %d bytes", ErrEntryTooLarge, header.Name, header.Size)
			}
			if err := cache.Ensure(filepath.Dir(targetPath), 0o755); err != nil {
				return err
			}
			if err := writeFileFromReader(targetPath, tr, header, maxSize); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := checkSymlinkTarget(name, header.Linkname); err != nil {
				return fmt.Errorf("%w: %q -> %q", err, header.Name, header.Linkname)
			}
			if err := cache.Ensure(filepath.Dir(targetPath), 0o755); err != nil {
				return err
			}
			// Symlinks don't recurse, a plain Remove is enough.
			if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
				return err
			}
			if err := os.Symlink(header.Linkname, targetPath); err != nil {
				return err
			}

		case tar.TypeLink, tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
			return fmt.Errorf("%w: %q has disallowed type %q", ErrUnsafePath, header.Name, header.Typeflag)

		default:
			// Extended headers and unknown types are skipped.
		}
	}
}

// stripComponents drops n leading path components; entries with fewer
// components vanish, like tar --strip-components.
func stripComponents(name string, n int) (string, bool) {
	clean := strings.TrimPrefix(name, "./")
	if n <= 0 {
		return clean, clean != ""
	}
	parts := strings.Split(clean, "/")
	if len(parts) <= n {
		return "", false
	}
	rest := strings.Join(parts[n:], "/")
	return rest, rest != ""
}

// checkEntryPath rejects absolute entries and any ".." component.
func checkEntryPath(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnsafePath)
	}
	if strings.HasPrefix(name, "/") {
		return ErrUnsafePath
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return ErrUnsafePath
		}
	}
	return nil
}

// checkSymlinkTarget rejects absolute targets and relative targets that
// resolve above the destination root when followed from the symlink's
// parent directory.
func checkSymlinkTarget(entryName, target string) error {
	if target == "" || strings.HasPrefix(target, "/") {
		return ErrUnsafePath
	}

	resolved := filepath.ToSlash(filepath.Join(filepath.Dir(entryName), target))
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return ErrUnsafePath
	}
	return nil
}

func writeFileFromReader(path string, r io.Reader, header *tar.Header, maxSize int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	bufp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufp)

	// One extra byte past the ceiling proves oversize without trusting
	// the header.
	n, err := io.CopyBuffer(f, io.LimitReader(r, maxSize+1), *bufp)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	if n > maxSize {
		_ = os.Remove(path)
		return fmt.Errorf("%w: %q", ErrEntryTooLarge, header.Name)
	}

	// Guarantee owner read/write whatever the archive says; the mode is
	// applied only after the content landed.
	mode := header.FileInfo().Mode().Perm() | 0o600
	return os.Chmod(path, mode)
}

// dirCache tracks created directories to avoid redundant MkdirAll syscalls
type dirCache struct {
	seen map[string]struct{}
	mu   sync.Mutex
}

func newDirCache() *dirCache {
	return &dirCache{seen: make(map[string]struct{}, 256)}
}

func (dc *dirCache) mark(path string) {
	if path == "" || path == "." {
		return
	}
	dc.seen[path] = struct{}{}
	parent := filepath.Dir(path)
	if parent != path && parent != "." {
		dc.mark(parent)
	}
}

func (dc *dirCache) Ensure(path string, mode os.FileMode) error {
	if path == "" || path == "." {
		return nil
	}

	dc.mu.Lock()
	_, exists := dc.seen[path]
	dc.mu.Unlock()

	if exists {
		return nil
	}

	if err := os.MkdirAll(path, mode); err != nil {
		return err
	}

	dc.mu.Lock()
	dc.mark(path)
	dc.mu.Unlock()

	return nil
}

// Buffer pool for file writes - reduces allocations and increases write size
var copyBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 128<<10) // 128 KB buffer
		return &buf
	},
}
