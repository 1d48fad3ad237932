// Package client provides a shared Go client for the graftd HTTP API,
// so the unix socket plumbing lives in one place instead of per-binary
// boilerplate.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to graftd over a unix socket.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client connected to the graftd unix socket at socketPath.
func New(socketPath string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					d.Timeout = 5 * time.Second
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 0, // image pulls have no sensible cap
		},
		baseURL: "http://graftd",
	}
}

// --- Graft state ---

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.doJSON(ctx, "GET", "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Plan returns the mounts the current module set would produce.
func (c *Client) Plan(ctx context.Context) (*Plan, error) {
	var out Plan
	if err := c.doJSON(ctx, "GET", "/v1/plan", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mount asks the daemon to realize the current module set. A partially
// failed run is returned alongside its error so callers can show what
// did mount.
func (c *Client) Mount(ctx context.Context) (*Run, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/mount", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request POST /v1/mount: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var run Run
	if resp.StatusCode < 400 {
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, err
		}
		return &run, nil
	}
	if json.Unmarshal(data, &run) == nil && run.ID != 0 {
		return &run, &APIError{StatusCode: resp.StatusCode, Message: run.Error}
	}
	return nil, errorFromBody(resp.StatusCode, data)
}

// Unmount reverts the live graft.
func (c *Client) Unmount(ctx context.Context) error {
	return c.doJSON(ctx, "POST", "/v1/unmount", nil, nil)
}

// Runs lists recent runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	path := "/v1/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []Run
	if err := c.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Run returns a single run by id.
func (c *Client) Run(ctx context.Context, id int64) (*Run, error) {
	var out Run
	if err := c.doJSON(ctx, "GET", "/v1/runs/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Modules ---

// Modules lists installed modules in priority order.
func (c *Client) Modules(ctx context.Context) ([]Module, error) {
	var out []Module
	if err := c.doJSON(ctx, "GET", "/v1/modules", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Install installs a module from a local archive path or an OCI image
// reference.
func (c *Client) Install(ctx context.Context, source string) (*InstallResult, error) {
	body := map[string]string{"source": source}
	var out InstallResult
	if err := c.doJSON(ctx, "POST", "/v1/modules", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Enable clears a module's disable marker.
func (c *Client) Enable(ctx context.Context, id string) error {
	return c.doJSON(ctx, "POST", "/v1/modules/"+url.PathEscape(id)+"/enable", nil, nil)
}

// Disable sets a module's disable marker.
func (c *Client) Disable(ctx context.Context, id string) error {
	return c.doJSON(ctx, "POST", "/v1/modules/"+url.PathEscape(id)+"/disable", nil, nil)
}

// Remove flags a module for deletion at the next mount.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.doJSON(ctx, "DELETE", "/v1/modules/"+url.PathEscape(id), nil, nil)
}

// --- Trust ---

// Trust pins the signing certificate of the archive at path and returns
// its fingerprint.
func (c *Client) Trust(ctx context.Context, path string) (string, error) {
	body := map[string]string{"path": path}
	var out struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := c.doJSON(ctx, "POST", "/v1/trust", body, &out); err != nil {
		return "", err
	}
	return out.Fingerprint, nil
}

// Trusted returns the pinned certificate fingerprint, "" when none.
func (c *Client) Trusted(ctx context.Context) (string, error) {
	var out struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := c.doJSON(ctx, "GET", "/v1/trust", nil, &out); err != nil {
		return "", err
	}
	return out.Fingerprint, nil
}

// --- Maintenance ---

// Sweep prunes retained archives and cached images no installed module
// references.
func (c *Client) Sweep(ctx context.Context) (*SweepResult, error) {
	var res SweepResult
	if err := c.doJSON(ctx, "POST", "/v1/gc", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- Internal helpers ---

// doJSON makes a JSON request and decodes the JSON response into result.
// If body is non-nil, it's encoded as JSON. If result is nil, the
// response body is discarded.
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	resp, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// doRaw makes an HTTP request and returns the raw response.
// Caller is responsible for closing resp.Body.
func (c *Client) doRaw(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, errorFromBody(resp.StatusCode, data)
	}
	return resp, nil
}

// errorFromBody unwraps the daemon's error envelope.
func errorFromBody(status int, data []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(data))}
}
