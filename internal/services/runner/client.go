package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultWaitTimeout    = 30 * time.Minute
	defaultRequestTimeout = 30 * time.Second
)

// Terminal run states reported by the runner API.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Config captures the runtime settings required to talk to the runner.
type Config struct {
	BaseURL             string
	Token               string
	Pipeline            string
	PollIntervalSeconds int
	TimeoutSeconds      int
}

// Client calls the pipeline runner HTTP API.
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

// WithPollInterval overrides how often Wait polls the run.
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

// NewClient constructs a runner client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	client := &Client{
		cfg: Config{
			BaseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Token:    strings.TrimSpace(cfg.Token),
			Pipeline: strings.TrimSpace(cfg.Pipeline),
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

// DispatchRequest describes the pipeline run to start.
type DispatchRequest struct {
	Pipeline string
	Ref      string
	Package  string
	Version  string
}

// Run mirrors the run document returned by the runner API.
type Run struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// Terminal reports whether the run reached a final state.
func (r Run) Terminal() bool {
	switch r.Status {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Artifact is one build output the run uploaded.
type Artifact struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Dispatch starts a pipeline run and returns its ID.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	pipeline := strings.TrimSpace(req.Pipeline)
	if pipeline == "" {
		pipeline = c.cfg.Pipeline
	}
	if pipeline == "" {
		return "", errors.New("runner dispatch: pipeline required")
	}
	if strings.TrimSpace(req.Ref) == "" {
		return "", errors.New("runner dispatch: ref required")
	}
	if strings.TrimSpace(req.Package) == "" || strings.TrimSpace(req.Version) == "" {
		return "", errors.New("runner dispatch: package and version required")
	}

	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/pipelines", pipeline, "dispatch")
	if err != nil {
		return "", fmt.Errorf("runner dispatch: build url: %w", err)
	}
	payload := dispatchPayload{
		Ref: strings.TrimSpace(req.Ref),
		Inputs: map[string]string{
			"package": strings.TrimSpace(req.Package),
			"version": strings.TrimSpace(req.Version),
		},
	}
	var parsed struct {
		RunID string `json:"run_id"`
	}
	if err := c.postJSON(ctx, "runner dispatch", endpoint, payload, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.RunID) == "" {
		return "", errors.New("runner dispatch: response carried no run id")
	}
	return parsed.RunID, nil
}

// Run fetches the current state of a pipeline run.
func (c *Client) Run(ctx context.Context, runID string) (Run, error) {
	var run Run
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return run, errors.New("runner run: run id required")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/runs", runID)
	if err != nil {
		return run, fmt.Errorf("runner run: build url: %w", err)
	}
	if err := c.getJSON(ctx, "runner run", endpoint, &run); err != nil {
		return run, err
	}
	return run, nil
}

// Wait polls the run until it reaches a terminal state or the wait
// timeout elapses. Transient poll errors are tolerated until the
// deadline; the terminal run is returned as-is, including failures.
func (c *Client) Wait(ctx context.Context, runID string) (Run, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Run{}, errors.New("runner wait: run id required")
	}
	deadline := time.Now().Add(c.waitTimeout)
	var lastErr error
	for {
		run, err := c.Run(ctx, runID)
		if err != nil {
			lastErr = err
		} else if run.Terminal() {
			return run, nil
		}

		if time.Now().After(deadline) {
			if lastErr != nil {
				return Run{}, fmt.Errorf("runner wait: run %s not finished after %s: last poll error: %w", runID, c.waitTimeout, lastErr)
			}
			return Run{}, fmt.Errorf("runner wait: run %s not finished after %s", runID, c.waitTimeout)
		}
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Run{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Hashes fetches the base64-encoded sha256sum manifest the run produced.
func (c *Client) Hashes(ctx context.Context, runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", errors.New("runner hashes: run id required")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/runs", runID, "hashes")
	if err != nil {
		return "", fmt.Errorf("runner hashes: build url: %w", err)
	}
	var parsed struct {
		Hashes string `json:"hashes"`
	}
	if err := c.getJSON(ctx, "runner hashes", endpoint, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.Hashes) == "" {
		return "", fmt.Errorf("runner hashes: run %s produced no hash manifest", runID)
	}
	return parsed.Hashes, nil
}

// Artifacts lists the build outputs the run uploaded.
func (c *Client) Artifacts(ctx context.Context, runID string) ([]Artifact, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("runner artifacts: run id required")
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/runs", runID, "artifacts")
	if err != nil {
		return nil, fmt.Errorf("runner artifacts: build url: %w", err)
	}
	var parsed struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	if err := c.getJSON(ctx, "runner artifacts", endpoint, &parsed); err != nil {
		return nil, err
	}
	for _, artifact := range parsed.Artifacts {
		if strings.TrimSpace(artifact.Name) == "" || strings.TrimSpace(artifact.URL) == "" {
			return nil, fmt.Errorf("runner artifacts: run %s listed an artifact without name or url", runID)
		}
	}
	return parsed.Artifacts, nil
}

// Download opens an artifact URL for streaming. The caller closes the
// returned reader.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("runner download: url required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("runner download: build request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runner download: request failed: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("runner download: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

// HealthCheck verifies the runner API answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "/api/v1/health")
	if err != nil {
		return fmt.Errorf("runner health: build url: %w", err)
	}
	var parsed struct{}
	return c.getJSON(ctx, "runner health", endpoint, &parsed)
}

type dispatchPayload struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs"`
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
