package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 2 * time.Minute

	// SignatureSuffix is appended to the artifact name for the detached
	// signature file.
	SignatureSuffix = ".sig"
)

// Config captures the runtime settings required to talk to the signer.
type Config struct {
	BaseURL        string
	Token          string
	TimeoutSeconds int
}

// Client calls the artifact signing service.
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

// NewClient constructs a signer client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultRequestTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Token:   strings.TrimSpace(cfg.Token),
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

// Sign uploads the artifact and writes the detached signature next to
// it, returning the signature path.
func (c *Client) Sign(ctx context.Context, artifactPath string) (string, error) {
	artifactPath = strings.TrimSpace(artifactPath)
	if artifactPath == "" {
		return "", errors.New("signer sign: artifact path required")
	}
	file, err := os.Open(artifactPath)
	if err != nil {
		return "", fmt.Errorf("signer sign: open artifact: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("artifact", filepath.Base(artifactPath))
	if err != nil {
		return "", fmt.Errorf("signer sign: create file field: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("signer sign: copy artifact: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("signer sign: close multipart writer: %w", err)
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/sign")
	if err != nil {
		return "", fmt.Errorf("signer sign: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("signer sign: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("signer sign: request failed: %w", err)
	}
	defer resp.Body.Close()
	signature, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("signer sign: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("signer sign: http %d: %s", resp.StatusCode, strings.TrimSpace(string(signature)))
	}
	if len(bytes.TrimSpace(signature)) == 0 {
		return "", errors.New("signer sign: service returned an empty signature")
	}

	sigPath := artifactPath + SignatureSuffix
	dir := filepath.Dir(sigPath)
	tmp, err := os.CreateTemp(dir, ".sig-*")
	if err != nil {
		return "", fmt.Errorf("signer sign: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(signature); err != nil {
		tmp.Close()
		return "", fmt.Errorf("signer sign: write signature: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("signer sign: close signature: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("signer sign: set signature mode: %w", err)
	}
	if err := os.Rename(tmpName, sigPath); err != nil {
		return "", fmt.Errorf("signer sign: place signature: %w", err)
	}
	return sigPath, nil
}

// HealthCheck verifies the signer API answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/health")
	if err != nil {
		return fmt.Errorf("signer health: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("signer health: build request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signer health: request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("signer health: http %d", resp.StatusCode)
	}
	return nil
}
