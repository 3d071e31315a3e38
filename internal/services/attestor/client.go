// Package attestor wraps the external provenance generator that turns a
// build's hash manifest into a signed in-toto attestation bundle.
package attestor

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
	"strings"
	"time"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultWaitTimeout    = 15 * time.Minute
	defaultRequestTimeout = 30 * time.Second
)

// Terminal attestation states reported by the attestor API.
const (
	AttestationCompleted = "completed"
	AttestationFailed    = "failed"
)

// Config captures the runtime settings required to talk to the attestor.
type Config struct {
	BaseURL             string
	Token               string
	PollIntervalSeconds int
	TimeoutSeconds      int
}

// Client calls the attestation generator HTTP API.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	pollInterval time.Duration
	waitTimeout  time.Duration
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

// WithPollInterval overrides how often Wait polls the attestation.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithWaitTimeout overrides the overall Wait deadline.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.waitTimeout = timeout
		}
	}
}

// NewClient constructs an attestor client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	client := &Client{
		cfg: Config{
			BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Token:   strings.TrimSpace(cfg.Token),
		},
		httpClient:   &http.Client{Timeout: defaultRequestTimeout},
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
	}
	if cfg.PollIntervalSeconds > 0 {
		client.pollInterval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	}
	if cfg.TimeoutSeconds > 0 {
		client.waitTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return client
}

// GenerateRequest describes the subject of the attestation.
type GenerateRequest struct {
	Package      string
	Version      string
	SourceRef    string
	HashManifest string
}

// Attestation mirrors the attestation document returned by the API.
type Attestation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Terminal reports whether the attestation reached a final state.
func (a Attestation) Terminal() bool {
	return a.Status == AttestationCompleted || a.Status == AttestationFailed
}

// Generate submits a hash manifest for attestation and returns the
// attestation ID.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Package) == "" || strings.TrimSpace(req.Version) == "" {
		return "", errors.New("attestor generate: package and version required")
	}
	if strings.TrimSpace(req.SourceRef) == "" {
		return "", errors.New("attestor generate: source ref required")
	}
	if strings.TrimSpace(req.HashManifest) == "" {
		return "", errors.New("attestor generate: hash manifest required")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/attestations")
	if err != nil {
		return "", fmt.Errorf("attestor generate: build url: %w", err)
	}
	payload := map[string]string{
		"package":    strings.TrimSpace(req.Package),
		"version":    strings.TrimSpace(req.Version),
		"source_ref": strings.TrimSpace(req.SourceRef),
		"hashes":     strings.TrimSpace(req.HashManifest),
	}
	var parsed struct {
		AttestationID string `json:"attestation_id"`
	}
	if err := c.postJSON(ctx, "attestor generate", endpoint, payload, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.AttestationID) == "" {
		return "", errors.New("attestor generate: response carried no attestation id")
	}
	return parsed.AttestationID, nil
}

// Wait polls the attestation until it reaches a terminal state or the
// wait timeout elapses.
func (c *Client) Wait(ctx context.Context, id string) (Attestation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Attestation{}, errors.New("attestor wait: attestation id required")
	}
	deadline := time.Now().Add(c.waitTimeout)
	var lastErr error
	for {
		attestation, err := c.fetch(ctx, id)
		if err != nil {
			lastErr = err
		} else if attestation.Terminal() {
			return attestation, nil
		}

		if time.Now().After(deadline) {
			if lastErr != nil {
				return Attestation{}, fmt.Errorf("attestor wait: attestation %s not finished after %s: last poll error: %w", id, c.waitTimeout, lastErr)
			}
			return Attestation{}, fmt.Errorf("attestor wait: attestation %s not finished after %s", id, c.waitTimeout)
		}
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Attestation{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Download streams the provenance bundle for a completed attestation to
// dest, written via a temp file and rename.
func (c *Client) Download(ctx context.Context, id, dest string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("attestor download: attestation id required")
	}
	if strings.TrimSpace(dest) == "" {
		return errors.New("attestor download: destination required")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/attestations", id, "bundle")
	if err != nil {
		return fmt.Errorf("attestor download: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("attestor download: build request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("attestor download: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("attestor download: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("attestor download: create destination dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".bundle-*")
	if err != nil {
		return fmt.Errorf("attestor download: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("attestor download: write bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("attestor download: close bundle: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("attestor download: place bundle: %w", err)
	}
	return nil
}

// HealthCheck verifies the attestor API answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/health")
	if err != nil {
		return fmt.Errorf("attestor health: build url: %w", err)
	}
	var parsed struct{}
	return c.getJSON(ctx, "attestor health", endpoint, &parsed)
}

func (c *Client) fetch(ctx context.Context, id string) (Attestation, error) {
	var attestation Attestation
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/attestations", id)
	if err != nil {
		return attestation, fmt.Errorf("attestor fetch: build url: %w", err)
	}
	if err := c.getJSON(ctx, "attestor fetch", endpoint, &attestation); err != nil {
		return attestation, err
	}
	return attestation, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	c.authorize(req)
	return c.doJSON(op, req, out)
}

func (c *Client) postJSON(ctx context.Context, op, endpoint string, in, out any) error {
	encoded, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.doJSON(op, req, out)
}

func (c *Client) doJSON(op string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s: http %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
