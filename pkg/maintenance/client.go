// Package maintenance talks to the local maintenance agent and runs the node
// management CLI on its behalf.
package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/relaynode/relaynode/pkg/errors"
)

const (
	RestartTimeout = 300 * time.Second
	UpdateTimeout  = 900 * time.Second

	maxResponseSize = 16 << 20
)

// BaseURL builds the agent address. An empty host means the agent is not
// configured; a zero port is left out.
func BaseURL(scheme, host string, port int) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	scheme = strings.TrimSpace(scheme)
	if scheme == "" {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: host}
	if port > 0 {
		u.Host = bracketHost(host) + ":" + strconv.Itoa(port)
	}
	return u.String()
}

func bracketHost(host string) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}

// Client forwards restart and update requests to the maintenance agent.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string) *Client {
	return &Client{base: strings.TrimRight(base, "/"), http: &http.Client{}}
}

// Configured reports whether an agent address is known.
func (c *Client) Configured() bool {
	return c != nil && c.base != ""
}

// Restart asks the agent to restart the node service.
func (c *Client) Restart(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "/restart", RestartTimeout)
}

// Update asks the agent to update the node service.
func (c *Client) Update(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "/update", UpdateTimeout)
}

func (c *Client) call(ctx context.Context, path string, timeout time.Duration) (json.RawMessage, error) {
	if !c.Configured() {
		return nil, errors.NewServiceUnavailableError("Node maintenance service is not configured on this node.")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := c.base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return nil, errors.NewUpstreamFetchError(fmt.Sprintf("Unable to reach node maintenance service: %v", err))
	}
	slog.Info("calling maintenance service", slog.String("url", target), slog.Duration("timeout", timeout))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewUpstreamFetchError(fmt.Sprintf("Unable to reach node maintenance service: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.NewUpstreamFetchError(fmt.Sprintf("Unable to reach node maintenance service: %v", err))
	}

	data := decodeBody(body)
	if resp.StatusCode >= http.StatusBadRequest {
		slog.Warn("maintenance service failed", slog.String("url", target), slog.Int("status", resp.StatusCode))
		return nil, errors.NewUpstreamError(resp.StatusCode, upstreamDetail(data))
	}
	return data, nil
}

// decodeBody returns body when it is JSON, or {"detail": <text>} otherwise.
func decodeBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	text := string(body)
	if text == "" {
		text = "Node maintenance service returned invalid response."
	}
	out, _ := json.Marshal(map[string]string{"detail": text})
	return out
}

// upstreamDetail picks the "detail" member of an object body, or the whole
// body otherwise.
func upstreamDetail(data json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		if detail, ok := obj["detail"]; ok {
			return detail
		}
	}
	return data
}
