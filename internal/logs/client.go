package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"capstan/internal/api"
)

// ErrAPIUnavailable marks failures reaching the daemon's HTTP API so the CLI
// can fall back to direct file reads.
var ErrAPIUnavailable = errors.New("log API unavailable")

// TailClient fetches daemon log lines over the HTTP API.
type TailClient struct {
	base  *url.URL
	token string
	http  *http.Client
}

// TailQuery mirrors TailOptions for the wire. Wait travels as milliseconds.
type TailQuery struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   int64
}

// NewTailClient builds a client for the daemon API bind address. An empty
// bind yields a nil client, which Fetch reports as unavailable. The token
// is sent as a bearer credential when the API requires one.
func NewTailClient(bind, token string) (*TailClient, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	u, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""

	return &TailClient{
		base:  u,
		token: strings.TrimSpace(token),
		// No timeout; follow mode blocks waiting for lines until the caller cancels.
		http: &http.Client{},
	}, nil
}

// Fetch requests log lines starting at the query offset.
func (c *TailClient) Fetch(ctx context.Context, q TailQuery) (api.LogTailResponse, error) {
	if c == nil {
		return api.LogTailResponse{}, ErrAPIUnavailable
	}

	values := url.Values{}
	values.Set("offset", strconv.FormatInt(q.Offset, 10))
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		values.Set("follow", "1")
	}
	if q.Wait > 0 {
		values.Set("wait", strconv.FormatInt(q.Wait, 10))
	}

	endpoint := c.base.ResolveReference(&url.URL{Path: "/api/logs", RawQuery: values.Encode()})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return api.LogTailResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return api.LogTailResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return api.LogTailResponse{}, fmt.Errorf("api logs returned status %d", resp.StatusCode)
	}

	var payload api.LogTailResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return api.LogTailResponse{}, err
	}
	return payload, nil
}

// IsAPIUnavailable reports whether an error means the daemon API could not
// be reached, as opposed to the API answering with a failure. Transport
// errors surface as net.OpError somewhere in the chain; url.Error unwraps.
func IsAPIUnavailable(err error) bool {
	if errors.Is(err, ErrAPIUnavailable) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
