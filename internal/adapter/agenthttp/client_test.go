package agenthttp_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/peerjakobsen/agentify-release/internal/adapter/agenthttp"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/resilience"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T, endpoint string) *agent.Registry {
	t.Helper()
	reg, err := agent.Parse([]byte(`
agents:
  - id: researcher
    name: Researcher
    endpoint: ` + endpoint + `
  - id: analyst
    name: Analyst
    endpoint: ` + endpoint + `
`))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	return reg
}

func TestInvokeJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var body struct {
			Prompt    string `json:"prompt"`
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Prompt != "analyze this" {
			t.Fatalf("unexpected prompt: %q", body.Prompt)
		}
		if body.SessionID != "sess-1" {
			t.Fatalf("unexpected session id: %q", body.SessionID)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"analysis complete"}`))
	}))
	defer srv.Close()

	client := agenthttp.NewClient(testRegistry(t, srv.URL), testLogger())
	raw, err := client.Invoke(context.Background(), "researcher", "analyze this", "sess-1")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if raw != `{"response":"analysis complete"}` {
		t.Fatalf("unexpected body: %q", raw)
	}
}

func TestInvokeCollapsesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: first chunk\n\ndata: second chunk\n\nevent: done\n"))
	}))
	defer srv.Close()

	client := agenthttp.NewClient(testRegistry(t, srv.URL), testLogger())
	raw, err := client.Invoke(context.Background(), "researcher", "p", "sess-1")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if raw != "first chunk\nsecond chunk" {
		t.Fatalf("unexpected collapsed stream: %q", raw)
	}
}

func TestInvokeUnknownAgent(t *testing.T) {
	client := agenthttp.NewClient(testRegistry(t, "http://unused"), testLogger())
	_, err := client.Invoke(context.Background(), "ghost", "p", "sess-1")
	if err == nil {
		t.Fatal("expected error for unknown agent")
	}
	if !strings.Contains(err.Error(), "Unknown agent: ghost") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "analyst, researcher") {
		t.Fatalf("expected available agents in error, got: %v", err)
	}
}

func TestInvokeEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("runtime exploded"))
	}))
	defer srv.Close()

	client := agenthttp.NewClient(testRegistry(t, srv.URL), testLogger())
	_, err := client.Invoke(context.Background(), "analyst", "p", "sess-1")
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "Agent 'analyst' invocation failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInvokeBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := agenthttp.NewClient(testRegistry(t, srv.URL), testLogger())
	client.SetBreakers(resilience.NewGroup(2, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := client.Invoke(context.Background(), "researcher", "p", "s"); err == nil {
			t.Fatal("expected error")
		}
	}

	_, err := client.Invoke(context.Background(), "researcher", "p", "s")
	if err == nil || !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Fatalf("expected open circuit, got %v", err)
	}

	// Other agents are unaffected by the tripped endpoint.
	_, err = client.Invoke(context.Background(), "analyst", "p", "s")
	if err == nil || strings.Contains(err.Error(), "circuit breaker is open") {
		t.Fatalf("expected analyst's own error, got %v", err)
	}
}

func TestInvokeContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// cancel r.Context() when the client disconnects; otherwise
		// srv.Close() deadlocks waiting on this handler.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := agenthttp.NewClient(testRegistry(t, srv.URL), testLogger())
	_, err := client.Invoke(ctx, "researcher", "p", "s")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
