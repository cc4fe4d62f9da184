// Package agenthttp provides the HTTP client for deployed agent runtimes.
package agenthttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/resilience"
)

// Client invokes deployed agents over HTTP. Replies may arrive as SSE
// streams; Invoke collapses them into a single body before returning.
type Client struct {
	registry   *agent.Registry
	httpClient *http.Client
	breakers   *resilience.Group
	logger     *slog.Logger
}

// invokeRequest is the JSON body posted to an agent endpoint.
type invokeRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

// NewClient creates an invoker backed by the given registry.
// No client-level timeout: agents run long; callers bound work via ctx.
func NewClient(reg *agent.Registry, log *slog.Logger) *Client {
	return &Client{
		registry: reg,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log,
	}
}

// SetBreakers attaches per-agent circuit breakers to outgoing calls.
func (c *Client) SetBreakers(g *resilience.Group) {
	c.breakers = g
}

// Invoke posts the prompt to the agent's endpoint and returns the collapsed
// reply body. The session id rides along for cross-agent correlation.
func (c *Client) Invoke(ctx context.Context, agentID, prompt, sessionID string) (string, error) {
	target, ok := c.registry.Lookup(agentID)
	if !ok {
		return "", fmt.Errorf("Unknown agent: %s. Available: %s", agentID, strings.Join(c.registry.IDs(), ", ")) //nolint:staticcheck // ST1005: message surfaces verbatim in events
	}

	c.logger.Info("invoking remote agent", "agent", agentID, "endpoint", target.Endpoint, "session_id", sessionID)

	body, err := json.Marshal(invokeRequest{Prompt: prompt, SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("marshal invoke request: %w", err)
	}

	var result string
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Session-Id", sessionID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("agent endpoint error %d: %s", resp.StatusCode, string(data))
		}

		if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
			result, err = collapseSSE(resp.Body)
			return err
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		result = string(data)
		return nil
	}

	if c.breakers != nil {
		err = c.breakers.For(agentID).Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return "", fmt.Errorf("Agent '%s' invocation failed: %w", agentID, err) //nolint:staticcheck // ST1005: message surfaces verbatim in events
	}
	return result, nil
}

// collapseSSE joins the data payloads of an SSE stream with newlines.
func collapseSSE(r io.Reader) (string, error) {
	var parts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "data: "); ok {
			parts = append(parts, after)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read event stream: %w", err)
	}
	return strings.Join(parts, "\n"), nil
}
