package compactindex

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/contriboss/orb/internal/config"
)

// ErrGemNotFound marks a 404 for a gem's info document. The resolver
// treats it as an empty version list rather than a failure.
var ErrGemNotFound = errors.New("gem not found in index")

// Client fetches compact index documents over HTTP and maintains a
// Bundler-compatible on-disk cache with ETag and Range revalidation.
type Client struct {
	baseURL    string
	cacheDir   string
	httpClient *http.Client
}

// NewClient creates a compact index client for a gem server.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	cacheDir, err := CachePathFor(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compute cache path: %w", err)
	}

	if err := EnsureCacheDirectories(cacheDir); err != nil {
		return nil, fmt.Errorf("failed to create cache directories: %w", err)
	}

	if httpClient == nil {
		httpClient = config.NewHTTPClient(0)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		cacheDir:   cacheDir,
		httpClient: httpClient,
	}, nil
}

// GetGemInfo fetches, caches and parses the info document for one gem.
func (c *Client) GetGemInfo(ctx context.Context, gemName string) ([]VersionEntry, error) {
	localPath := InfoPathFor(c.cacheDir, gemName)
	remotePath := fmt.Sprintf("/info/%s", gemName)

	if err := c.updateFile(ctx, localPath, remotePath); err != nil {
		if errors.Is(err, ErrGemNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrGemNotFound, gemName)
		}
		return nil, fmt.Errorf("failed to update info file for %s: %w", gemName, err)
	}

	return ParseInfoFile(localPath)
}

// updateFile revalidates a local cache file using ETag and Range headers.
// Files fresher than an hour are served from cache without a request.
func (c *Client) updateFile(ctx context.Context, localPath, remotePath string) error {
	localInfo, localErr := os.Stat(localPath)

	if localErr == nil && localInfo.Size() > 0 {
		if time.Since(localInfo.ModTime()) < 1*time.Hour {
			return nil
		}
	}

	url := c.baseURL + remotePath
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if localErr == nil && localInfo.Size() > 0 {
		if etag, err := fileMD5(localPath); err == nil {
			req.Header.Set("If-None-Match", fmt.Sprintf(`"%s"`, etag))
		}

		// Overlap the range by one byte so the server never sees an
		// empty range request.
		rangeStart := localInfo.Size() - 1
		if rangeStart < 0 {
			rangeStart = 0
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rangeStart))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return ErrGemNotFound
	case http.StatusOK, http.StatusPartialContent:
	default:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusPartialContent {
		return appendToFile(localPath, content)
	}

	return writeFileAtomic(localPath, content)
}

// writeFileAtomic writes content via a temp file and rename.
func writeFileAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// appendToFile appends a Range response, dropping the overlapping byte.
func appendToFile(path string, content []byte) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file for append: %w", err)
	}
	defer func() { _ = file.Close() }()

	if len(content) > 1 {
		content = content[1:]
	} else {
		return nil
	}

	if _, err := file.Write(content); err != nil {
		return fmt.Errorf("failed to append to file: %w", err)
	}

	return nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// BaseURL returns the gem server this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CacheDir returns the cache directory being used.
func (c *Client) CacheDir() string {
	return c.cacheDir
}
