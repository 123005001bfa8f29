// Package sources downloads gem archives from one or more gem servers,
// with credential extraction from source URLs and mirror fallback for
// retryable failures.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/contriboss/orb/internal/logger"
)

// Authentication holds authentication information extracted from URLs
type Authentication struct {
	Username string
	Password string
	Token    string
}

// Source represents a gem source with optional fallback mirror
type Source struct {
	URL          string
	FallbackURL  string
	auth         *Authentication
	fallbackAuth *Authentication
}

// extractAuth extracts authentication from URL and returns clean URL and auth
func extractAuth(sourceURL string) (string, *Authentication) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return sourceURL, nil
	}

	if parsed.User == nil {
		return sourceURL, nil
	}

	auth := &Authentication{}
	username := parsed.User.Username()
	password, hasPassword := parsed.User.Password()

	// Token auth is encoded as token:@ or token:x-oauth-basic@
	if username != "" && (!hasPassword || password == "" || password == "x-oauth-basic") {
		auth.Token = username
	} else {
		auth.Username = username
		auth.Password = password
	}

	parsed.User = nil
	return parsed.String(), auth
}

// NewSource creates a new Source with authentication extraction
func NewSource(url, fallback string) *Source {
	cleanURL, auth := extractAuth(url)
	cleanFallback, fallbackAuth := extractAuth(fallback)

	return &Source{
		URL:          strings.TrimSuffix(cleanURL, "/"),
		FallbackURL:  strings.TrimSuffix(cleanFallback, "/"),
		auth:         auth,
		fallbackAuth: fallbackAuth,
	}
}

// SourceConfig represents a source configuration
type SourceConfig struct {
	URL      string
	Fallback string
}

// Manager manages multiple gem sources with fallback support
type Manager struct {
	sources []*Source
	client  *http.Client
	mu      sync.RWMutex
}

// NewManager creates a new source manager
func NewManager(sourceConfigs []SourceConfig, client *http.Client) *Manager {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	sources := make([]*Source, 0, len(sourceConfigs))
	for _, config := range sourceConfigs {
		sources = append(sources, NewSource(config.URL, config.Fallback))
	}

	return &Manager{
		sources: sources,
		client:  client,
	}
}

// DownloadGem downloads a gem archive by file name ("rack-3.1.12.gem")
// from the configured sources, falling back to mirrors on retryable
// failures. Not-found and auth failures stop the chain immediately.
func (m *Manager) DownloadGem(ctx context.Context, gemFile string, writer io.Writer) error {
	if len(m.sources) == 0 {
		return errors.New("no gem sources configured")
	}

	var lastErr error

	for _, source := range m.sources {
		downloadURL := fmt.Sprintf("%s/downloads/%s", source.URL, gemFile)
		err := m.download(ctx, downloadURL, source.auth, writer)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryableError(err) && source.FallbackURL != "" {
			fallbackURL := fmt.Sprintf("%s/downloads/%s", source.FallbackURL, gemFile)
			logger.Warn("primary source failed, trying fallback", "source", source.URL, "fallback", source.FallbackURL)

			if err = m.download(ctx, fallbackURL, source.fallbackAuth, writer); err == nil {
				return nil
			}
			lastErr = err
		}

		if !isRetryableError(err) {
			return err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("all sources failed: %w", lastErr)
	}

	return errors.New("no sources available")
}

func (m *Manager) download(ctx context.Context, url string, auth *Authentication, writer io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if auth != nil {
		if auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+auth.Token)
		} else if auth.Username != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	_, err = io.Copy(writer, resp.Body)
	return err
}

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err is an HTTP 404 (or 410) response.
// The acquisition engine uses this for platform archive fallback.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusGone
	}
	return false
}

// isRetryableError determines if an error should trigger a fallback
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if strings.Contains(err.Error(), "network error") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "timeout") {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests:
			return true
		case http.StatusNotFound,
			http.StatusGone,
			http.StatusUnauthorized,
			http.StatusForbidden:
			return false
		default:
			return httpErr.StatusCode >= 500
		}
	}

	return false
}
