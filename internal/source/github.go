// Package source provides the content sources a build reads module trees
// from: the GitHub contents API, repository zipballs and local file systems.
package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xekr/packsmith/internal/domain"
)

// DefaultAPIURL is the GitHub REST API root
const DefaultAPIURL = "https://api.github.com"

// DefaultTimeout is the default HTTP timeout for API requests
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent identifies requests made by the build engine
const DefaultUserAgent = "github.com/xekr/packsmith"

const (
	// maxContentSize bounds a single contents API response
	maxContentSize = 10 * 1024 * 1024
	// defaultMaxArchiveSize bounds a downloaded zipball
	defaultMaxArchiveSize = 256 * 1024 * 1024
)

// ClientConfig holds configuration for the GitHub client
type ClientConfig struct {
	// APIURL is the GitHub API root, overridable for GitHub Enterprise and tests
	APIURL string
	// Token is sent as a bearer token when set
	Token string
	// UserAgent is sent with every request
	UserAgent string
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// MaxArchiveSize bounds zipball downloads in bytes
	MaxArchiveSize int64
}

// DefaultConfig returns a ClientConfig with default values
func DefaultConfig() ClientConfig {
	return ClientConfig{
		APIURL:         DefaultAPIURL,
		UserAgent:      DefaultUserAgent,
		Timeout:        DefaultTimeout,
		MaxArchiveSize: defaultMaxArchiveSize,
	}
}

// Client talks to the GitHub repository contents API
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a new GitHub client with the given configuration
func NewClient(config ClientConfig) *Client {
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	config.APIURL = strings.TrimRight(config.APIURL, "/")
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxArchiveSize == 0 {
		config.MaxArchiveSize = defaultMaxArchiveSize
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// contentItem is one object of a contents API response
type contentItem struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	DownloadURL string `json:"download_url"`
}

// Contents fetches a directory listing or a file at p in repo at ref (empty ref = default branch)
func (c *Client) Contents(ctx context.Context, repo, ref, p string) (*domain.Listing, error) {
	body, err := c.get(ctx, c.contentsURL(repo, ref, p), "application/vnd.github+json", maxContentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", p, err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, domain.UnexpectedContentShape(p)
	}

	switch trimmed[0] {
	case '[':
		var items []contentItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to parse listing of %s: %w", p, err)
		}
		listing := &domain.Listing{Path: p, IsDir: true, Entries: make([]domain.Entry, 0, len(items))}
		for _, it := range items {
			entryType := domain.EntryFile
			if it.Type == "dir" {
				entryType = domain.EntryDir
			}
			listing.Entries = append(listing.Entries, domain.Entry{Name: it.Name, Path: it.Path, Type: entryType})
		}
		return listing, nil

	case '{':
		var it contentItem
		if err := json.Unmarshal(trimmed, &it); err != nil {
			return nil, fmt.Errorf("failed to parse content of %s: %w", p, err)
		}
		if it.Type != "file" {
			return nil, domain.UnexpectedContentShape(p)
		}
		content, err := c.decodeContent(ctx, it)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", it.Path, err)
		}
		return &domain.Listing{Path: it.Path, File: &domain.File{Name: it.Name, Path: it.Path, Content: content}}, nil
	}

	return nil, domain.UnexpectedContentShape(p)
}

// decodeContent decodes inline base64 content, falling back to the raw download
// URL for files the contents API does not inline
func (c *Client) decodeContent(ctx context.Context, it contentItem) ([]byte, error) {
	switch it.Encoding {
	case "base64":
		cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(it.Content)
		return base64.StdEncoding.DecodeString(cleaned)
	case "", "none":
		if it.DownloadURL == "" {
			return []byte(it.Content), nil
		}
		return c.get(ctx, it.DownloadURL, "application/vnd.github.v3.raw", maxContentSize*10)
	}
	return nil, fmt.Errorf("unsupported encoding %q", it.Encoding)
}

// Zipball downloads the repository archive at ref
func (c *Client) Zipball(ctx context.Context, repo, ref string) ([]byte, error) {
	u := fmt.Sprintf("%s/repos/%s/zipball", c.config.APIURL, repo)
	if ref != "" {
		u += "/" + url.PathEscape(ref)
	}
	body, err := c.get(ctx, u, "application/vnd.github+json", c.config.MaxArchiveSize)
	if err != nil {
		return nil, fmt.Errorf("failed to download archive of %s: %w", repo, err)
	}
	return body, nil
}

// IsAvailable checks if the API root answers
func (c *Client) IsAvailable(ctx context.Context) bool {
	shortCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.get(shortCtx, c.config.APIURL+"/", "application/vnd.github+json", maxContentSize)
	return err == nil
}

// HealthCheck reports whether GitHub is reachable
func (c *Client) HealthCheck(ctx context.Context) domain.HealthStatus {
	status := domain.HealthStatus{
		Status:    domain.HealthStatusHealthy,
		Timestamp: time.Now(),
		Details:   map[string]any{"api_url": c.config.APIURL},
	}
	if !c.IsAvailable(ctx) {
		// Builds from uploaded archives still work without GitHub
		status.Status = domain.HealthStatusDegraded
		status.Message = "GitHub API unreachable"
	}
	return status
}

func (c *Client) contentsURL(repo, ref, p string) string {
	segments := strings.Split(domain.CleanPath(p), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := fmt.Sprintf("%s/repos/%s/contents/%s", c.config.APIURL, repo, strings.Join(segments, "/"))
	if ref != "" {
		u += "?ref=" + url.QueryEscape(ref)
	}
	return u
}

func (c *Client) get(ctx context.Context, u, accept string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrRepoUnavailable, "Repository request failed", http.StatusServiceUnavailable, err, nil)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, domain.NewAppError(domain.ErrTooLarge, "Response exceeds size limit", http.StatusRequestEntityTooLarge, map[string]any{"limit": limit})
	}
	return body, nil
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewAppError(domain.ErrNotFound, "Repository content not found", http.StatusNotFound, map[string]any{"url": resp.Request.URL.String()})
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return domain.NewAppError(domain.ErrRateLimit, "GitHub rate limit exceeded", http.StatusTooManyRequests, map[string]any{
			"reset": resp.Header.Get("X-RateLimit-Reset"),
		})
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return domain.NewAppError(domain.ErrRepoUnavailable, fmt.Sprintf("GitHub answered HTTP %d", resp.StatusCode), http.StatusServiceUnavailable, nil)
	}
	return fmt.Errorf("unexpected HTTP %d", resp.StatusCode)
}

// RepoSource is a ContentSource backed by one repository at one ref
type RepoSource struct {
	client *Client
	repo   string
	ref    string
}

// NewRepoSource creates a source reading repo ("owner/name") at ref
func NewRepoSource(client *Client, repo, ref string) *RepoSource {
	return &RepoSource{client: client, repo: repo, ref: ref}
}

// Fetch implements domain.ContentSource
func (s *RepoSource) Fetch(ctx context.Context, p string) (*domain.Listing, error) {
	return s.client.Contents(ctx, s.repo, s.ref, p)
}

// Archive downloads the repository zipball and opens it as a source
func (s *RepoSource) Archive(ctx context.Context) (*FSSource, error) {
	data, err := s.client.Zipball(ctx, s.repo, s.ref)
	if err != nil {
		return nil, err
	}
	return NewArchiveSource(data, true)
}
