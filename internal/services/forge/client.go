package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultRequestTimeout = 5 * time.Minute

// Config captures the runtime settings required to talk to the forge.
type Config struct {
	BaseURL        string
	Token          string
	Owner          string
	Repo           string
	TimeoutSeconds int
}

// Client calls the forge releases API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option adjusts how a Client is built.
type Option func(*Client)

// WithHTTPClient swaps in a caller-owned HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient constructs a forge client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultRequestTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Token:   strings.TrimSpace(cfg.Token),
			Owner:   strings.TrimSpace(cfg.Owner),
			Repo:    strings.TrimSpace(cfg.Repo),
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return client
}

// ReleaseRequest describes the release entry to create.
type ReleaseRequest struct {
	TagName    string
	Name       string
	Body       string
	Prerelease bool
}

// Release mirrors the release document returned by the forge.
type Release struct {
	ID         int64  `json:"id"`
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Prerelease bool   `json:"prerelease"`
	UploadURL  string `json:"upload_url"`
	HTMLURL    string `json:"html_url"`
}

// CreateRelease creates a release entry for the tag. The body is raw
// Markdown; the forge renders it.
func (c *Client) CreateRelease(ctx context.Context, req ReleaseRequest) (Release, error) {
	var release Release
	if strings.TrimSpace(req.TagName) == "" {
		return release, errors.New("forge release: tag name required")
	}
	if c.cfg.Owner == "" || c.cfg.Repo == "" {
		return release, errors.New("forge release: owner and repo required")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "repos", c.cfg.Owner, c.cfg.Repo, "releases")
	if err != nil {
		return release, fmt.Errorf("forge release: build url: %w", err)
	}
	payload := map[string]any{
		"tag_name":   strings.TrimSpace(req.TagName),
		"name":       strings.TrimSpace(req.Name),
		"body":       req.Body,
		"prerelease": req.Prerelease,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return release, fmt.Errorf("forge release: encode request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return release, fmt.Errorf("forge release: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/vnd.github+json")
	c.authorize(request)

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return release, fmt.Errorf("forge release: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return release, fmt.Errorf("forge release: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return release, fmt.Errorf("forge release: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &release); err != nil {
		return release, fmt.Errorf("forge release: decode response: %w", err)
	}
	if release.ID == 0 {
		return release, errors.New("forge release: response carried no release id")
	}
	return release, nil
}

// UploadAsset attaches a file to an existing release. The forge's
// hypermedia upload URL is used when present; otherwise the assets
// endpoint is derived from the release ID.
func (c *Client) UploadAsset(ctx context.Context, release Release, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("forge asset: file path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("forge asset: open file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("forge asset: stat file: %w", err)
	}

	endpoint, err := c.assetEndpoint(release, filepath.Base(path))
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, file)
	if err != nil {
		return fmt.Errorf("forge asset: build request: %w", err)
	}
	request.ContentLength = info.Size()
	request.Header.Set("Content-Type", "application/octet-stream")
	c.authorize(request)

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("forge asset: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("forge asset: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// HealthCheck verifies the configured repository is reachable with the
// configured token.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.Owner == "" || c.cfg.Repo == "" {
		return errors.New("forge health: owner and repo required")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "repos", c.cfg.Owner, c.cfg.Repo)
	if err != nil {
		return fmt.Errorf("forge health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("forge health: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forge health: request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("forge health: http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) assetEndpoint(release Release, name string) (string, error) {
	if uploadURL := strings.TrimSpace(release.UploadURL); uploadURL != "" {
		// Hypermedia template: .../assets{?name,label}
		if idx := strings.Index(uploadURL, "{"); idx >= 0 {
			uploadURL = uploadURL[:idx]
		}
		return uploadURL + "?name=" + url.QueryEscape(name), nil
	}
	if release.ID == 0 {
		return "", errors.New("forge asset: release has neither upload url nor id")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "repos", c.cfg.Owner, c.cfg.Repo, "releases", strconv.FormatInt(release.ID, 10), "assets")
	if err != nil {
		return "", fmt.Errorf("forge asset: build url: %w", err)
	}
	return endpoint + "?name=" + url.QueryEscape(name), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}
