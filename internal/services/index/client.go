package index

import (
	"bytes"
	"context"
	"encoding/json"
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
	defaultRequestTimeout = 5 * time.Minute
	mintTokenPath         = "/oidc/mint-token"
	uploadPath            = "/legacy/"
	uploadTokenUser       = "__token__"
)

// Config captures the runtime settings required to talk to the index.
type Config struct {
	BaseURL        string
	TimeoutSeconds int
}

// Client calls the package index upload API.
type Client struct {
	baseURL    string
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

// NewClient constructs a package index client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultRequestTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
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

// MintUploadToken exchanges an OIDC identity token for a short-lived
// upload token.
func (c *Client) MintUploadToken(ctx context.Context, identityToken string) (string, error) {
	identityToken = strings.TrimSpace(identityToken)
	if identityToken == "" {
		return "", errors.New("index mint-token: identity token required")
	}
	endpoint, err := url.JoinPath(c.baseURL, mintTokenPath)
	if err != nil {
		return "", fmt.Errorf("index mint-token: build url: %w", err)
	}
	encoded, err := json.Marshal(map[string]string{"token": identityToken})
	if err != nil {
		return "", fmt.Errorf("index mint-token: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("index mint-token: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("index mint-token: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("index mint-token: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("index mint-token: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("index mint-token: decode response: %w", err)
	}
	if strings.TrimSpace(parsed.Token) == "" {
		return "", errors.New("index mint-token: response carried no upload token")
	}
	return parsed.Token, nil
}

// UploadRequest describes one distribution file to push.
type UploadRequest struct {
	Path    string
	Name    string
	Version string
	Digest  string
}

// UploadResult reports the outcome of a single file upload.
type UploadResult struct {
	Filename      string
	AlreadyExists bool
}

// Upload pushes one distribution file through the legacy upload
// endpoint. Duplicate-file rejections count as success so a retried
// publish can skip files that already landed.
func (c *Client) Upload(ctx context.Context, token string, req UploadRequest) (UploadResult, error) {
	var result UploadResult
	token = strings.TrimSpace(token)
	if token == "" {
		return result, errors.New("index upload: upload token required")
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return result, errors.New("index upload: file path required")
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Version) == "" {
		return result, errors.New("index upload: name and version required")
	}
	if strings.TrimSpace(req.Digest) == "" {
		return result, errors.New("index upload: sha256 digest required")
	}
	filename := filepath.Base(path)
	result.Filename = filename
	filetype, pyversion, err := classifyDistribution(filename)
	if err != nil {
		return result, err
	}

	file, err := os.Open(path)
	if err != nil {
		return result, fmt.Errorf("index upload: open distribution: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := [][2]string{
		{":action", "file_upload"},
		{"protocol_version", "1"},
		{"name", strings.TrimSpace(req.Name)},
		{"version", strings.TrimSpace(req.Version)},
		{"filetype", filetype},
		{"pyversion", pyversion},
		{"metadata_version", "2.1"},
		{"sha256_digest", strings.TrimSpace(req.Digest)},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return result, fmt.Errorf("index upload: write field %s: %w", field[0], err)
		}
	}
	part, err := writer.CreateFormFile("content", filename)
	if err != nil {
		return result, fmt.Errorf("index upload: create file field: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return result, fmt.Errorf("index upload: copy distribution: %w", err)
	}
	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("index upload: close multipart writer: %w", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, uploadPath)
	if err != nil {
		return result, fmt.Errorf("index upload: build url: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return result, fmt.Errorf("index upload: build request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.SetBasicAuth(uploadTokenUser, token)

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return result, fmt.Errorf("index upload: request failed: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return result, fmt.Errorf("index upload: read response: %w", err)
	}
	if isDuplicateUpload(resp.StatusCode, payload) {
		result.AlreadyExists = true
		return result, nil
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return result, fmt.Errorf("index upload: http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return result, nil
}

// HealthCheck verifies the index endpoint answers at all. The legacy
// upload root rejects GETs, so any response below 500 counts.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("index health: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("index health: request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("index health: http %d", resp.StatusCode)
	}
	return nil
}

func classifyDistribution(filename string) (filetype, pyversion string, err error) {
	switch {
	case strings.HasSuffix(filename, ".whl"):
		return "bdist_wheel", wheelPythonTag(filename), nil
	case strings.HasSuffix(filename, ".tar.gz"):
		return "sdist", "source", nil
	default:
		return "", "", fmt.Errorf("index upload: %s is not a wheel or sdist", filename)
	}
}

// wheelPythonTag pulls the python tag out of a wheel filename
// (name-version[-build]-python-abi-platform.whl).
func wheelPythonTag(filename string) string {
	stem := strings.TrimSuffix(filename, ".whl")
	parts := strings.Split(stem, "-")
	if len(parts) >= 5 {
		return parts[len(parts)-3]
	}
	return "py3"
}

func isDuplicateUpload(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	if status == http.StatusBadRequest {
		return strings.Contains(strings.ToLower(string(body)), "already exists")
	}
	return false
}
