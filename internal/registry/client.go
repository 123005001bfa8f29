// Package registry speaks the legacy per-gem JSON API. The resolver
// never touches it; only ephemeral single-gem lookups do.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/contriboss/orb/internal/config"
	rubygems "github.com/contriboss/rubygems-client-go"
)

// Dependency is one requirement from the JSON document.
type Dependency struct {
	Name         string `json:"name"`
	Requirements string `json:"requirements"`
}

// GemDocument is the per-gem JSON payload, at least the fields the
// runner needs: exact version, archive digest and URI, dependency map.
type GemDocument struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Sha          string `json:"sha"`
	GemURI       string `json:"gem_uri"`
	Dependencies struct {
		Runtime     []Dependency `json:"runtime"`
		Development []Dependency `json:"development"`
	} `json:"dependencies"`
}

// Client wraps the rubygems API for single-gem lookups.
type Client struct {
	api        *rubygems.Client
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a registry client for a gem server.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://rubygems.org"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		api:        rubygems.NewClientWithBaseURL(baseURL + "/api/v1"),
		baseURL:    baseURL,
		httpClient: config.NewHTTPClient(0),
	}
}

// Versions lists all published versions of a gem, as reported by the
// API (newest first).
func (c *Client) Versions(ctx context.Context, name string) ([]string, error) {
	_ = ctx // the underlying client manages its own requests
	versions, err := c.api.GetGemVersions(name)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", name, err)
	}
	return versions, nil
}

// Gem fetches the JSON document of a gem's latest (or given) version.
func (c *Client) Gem(ctx context.Context, name, version string) (*GemDocument, error) {
	url := fmt.Sprintf("%s/api/v1/gems/%s.json", c.baseURL, name)
	if version != "" {
		url = fmt.Sprintf("%s/api/v2/rubygems/%s/versions/%s.json", c.baseURL, name, version)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var doc GemDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("bad registry document for %s: %w", name, err)
	}
	if doc.Name == "" {
		doc.Name = name
	}
	return &doc, nil
}
