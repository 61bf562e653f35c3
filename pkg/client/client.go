// Package client talks to a node's API as its controller.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaynode/relaynode/pkg/errors"
	"github.com/relaynode/relaynode/pkg/history"
	"github.com/relaynode/relaynode/pkg/updater"
)

// DefaultTimeout bounds calls that do not wait on the core or downloads.
const DefaultTimeout = 30 * time.Second

// Status mirrors the node's status answer.
type Status struct {
	Connected   bool   `json:"connected"`
	Started     bool   `json:"started"`
	CoreVersion string `json:"core_version"`
	NodeVersion string `json:"node_version"`
	State       string `json:"state"`
	SessionID   string `json:"session_id,omitempty"`
}

// Client is a controller-side API client. Calls are bounded by Timeout
// through their context; log streams only by the caller's context.
type Client struct {
	base    string
	http    *http.Client
	Timeout time.Duration
}

// New creates a client for the node at base (https://host:port). tlsConfig
// carries the controller certificate; nil dials without one.
func New(base string, tlsConfig *tls.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Transport: transport},
		Timeout: DefaultTimeout,
	}
}

type sessionBody struct {
	SessionID string `json:"session_id"`
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	return &out, c.post(ctx, "/", nil, &out)
}

// Connect takes ownership of the node. The returned status carries the token.
func (c *Client) Connect(ctx context.Context) (*Status, error) {
	var out Status
	return &out, c.post(ctx, "/connect", nil, &out)
}

func (c *Client) Disconnect(ctx context.Context) (*Status, error) {
	var out Status
	return &out, c.post(ctx, "/disconnect", nil, &out)
}

func (c *Client) Ping(ctx context.Context, token string) error {
	return c.post(ctx, "/ping", sessionBody{token}, nil)
}

// Start starts the core with config, waiting for the node's readiness verdict.
func (c *Client) Start(ctx context.Context, token, config string) (*Status, error) {
	var out Status
	body := map[string]string{"session_id": token, "config": config}
	return &out, c.post(ctx, "/start", body, &out)
}

func (c *Client) Stop(ctx context.Context, token string) (*Status, error) {
	var out Status
	return &out, c.post(ctx, "/stop", sessionBody{token}, &out)
}

// UpdateCore installs a core release. Downloads may take minutes, so only
// ctx bounds the call.
func (c *Client) UpdateCore(ctx context.Context, version string) (*updater.CoreResult, error) {
	var out updater.CoreResult
	body := map[string]string{"version": version}
	return &out, c.do(ctx, "/update_core", body, &out)
}

// UpdateHistory lists recent updates, newest first.
func (c *Client) UpdateHistory(ctx context.Context, token string, limit int) ([]history.Entry, error) {
	var out struct {
		Entries []history.Entry `json:"entries"`
	}
	body := map[string]any{"session_id": token, "limit": limit}
	if err := c.post(ctx, "/update_history", body, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	return c.do(ctx, path, in, out)
}

func (c *Client) do(ctx context.Context, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError rebuilds the node's APIError, keeping the HTTP status.
func decodeError(status int, data []byte) *errors.APIError {
	var apiErr errors.APIError
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Type == "" {
		apiErr = errors.APIError{Type: errors.ErrorTypeInternal, Detail: strings.TrimSpace(string(data))}
	}
	apiErr.Code = status
	return &apiErr
}
