package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	aghttp "github.com/peerjakobsen/agentify-release/internal/adapter/http"
	agotel "github.com/peerjakobsen/agentify-release/internal/adapter/otel"
	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/port/eventstore"
	"github.com/peerjakobsen/agentify-release/internal/port/memory"
	"github.com/peerjakobsen/agentify-release/internal/service"
)

const registryYAML = `
agents:
  - id: triage
    name: Triage
    description: Routes incoming work
  - id: analyst
    name: Analyst
graph:
  entry_agent: triage
  static_routes:
    triage: ""
swarm:
  entry_agent: triage
workflows:
  review:
    tasks:
      solo:
        agent: triage
`

// stubInvoker answers every agent with the same reply.
type stubInvoker struct{ reply string }

func (s *stubInvoker) Invoke(context.Context, string, string, string) (string, error) {
	return s.reply, nil
}

// recordSink captures emitted events by type.
type recordSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordSink) Emit(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) count(t event.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.EventType == t {
			n++
		}
	}
	return n
}

func (s *recordSink) first(t event.Type) (event.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.EventType == t {
			return ev, true
		}
	}
	return event.Event{}, false
}

// fakeEventStore serves canned pages and records the queries it saw.
type fakeEventStore struct {
	mu         sync.Mutex
	page       *eventstore.Page
	toolEvents []event.Event
	summary    *eventstore.Summary
	err        error

	gotWorkflow string
	gotCursor   string
	gotLimit    int
}

func (f *fakeEventStore) Append(context.Context, *event.Event) error { return nil }

func (f *fakeEventStore) ListByWorkflow(_ context.Context, workflowID, cursor string, limit int) (*eventstore.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotWorkflow, f.gotCursor, f.gotLimit = workflowID, cursor, limit
	if f.err != nil {
		return nil, f.err
	}
	if f.page != nil {
		return f.page, nil
	}
	return &eventstore.Page{}, nil
}

func (f *fakeEventStore) ListToolEvents(_ context.Context, workflowID string) ([]event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotWorkflow = workflowID
	return f.toolEvents, f.err
}

func (f *fakeEventStore) Summarize(_ context.Context, workflowID string) (*eventstore.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotWorkflow = workflowID
	return f.summary, f.err
}

// fakeMemory serves canned session entries.
type fakeMemory struct{ entries []memory.Entry }

func (f *fakeMemory) StoreTurn(context.Context, string, string, string) error { return nil }

func (f *fakeMemory) Search(context.Context, string, string) ([]memory.Entry, error) {
	return f.entries, nil
}

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

type brokerStub struct{ connected bool }

func (b brokerStub) IsConnected() bool { return b.connected }

type testEnv struct {
	router chi.Router
	store  *fakeEventStore
	sink   *recordSink
	turns  *service.TurnService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := agent.Parse([]byte(registryYAML))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	metrics, err := agotel.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	cfg := config.Defaults().Routing
	inv := &stubInvoker{reply: `{"response": "done"}`}
	sink := &recordSink{}
	emitter := service.NewEmitter(logger, sink)

	router := service.NewRouter(reg.Graph, cfg, nil, logger)
	resolver := service.NewHandoffResolver(reg, cfg, nil, logger)
	pool := service.NewPool(2)
	graph := service.NewGraphService(reg, inv, router, emitter, metrics, cfg, logger)
	swarm := service.NewSwarmService(reg, inv, resolver, emitter, metrics, pool, cfg, logger)
	workflow := service.NewWorkflowService(reg, inv, emitter, metrics, pool, cfg, logger)
	turns := service.NewTurnService(graph, swarm, workflow, reg, logger)

	store := &fakeEventStore{}
	h := &aghttp.Handlers{
		Turns:    turns,
		Registry: reg,
		Events:   store,
		Memory:   service.NewMemoryService(&fakeMemory{entries: []memory.Entry{{AgentID: "triage", Content: "contract is signed"}}}, nil, logger),
		Emitter:  emitter,
		Broker:   brokerStub{connected: true},
	}

	r := chi.NewRouter()
	aghttp.MountRoutes(r, h)
	return &testEnv{router: r, store: store, sink: sink, turns: turns}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestLaunchTurnAccepted(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/turns/graph",
		`{"prompt": "analyze the contract", "workflow_id": "wf-http-1", "turn_number": 1}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		WorkflowID string `json:"workflow_id"`
		SessionID  string `json:"session_id"`
		TraceID    string `json:"trace_id"`
		TurnNumber int    `json:"turn_number"`
		Status     string `json:"status"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.WorkflowID != "wf-http-1" {
		t.Errorf("workflow_id = %q, want wf-http-1", resp.WorkflowID)
	}
	if resp.SessionID == "" {
		t.Error("expected a session_id")
	}
	if len(resp.TraceID) != 32 {
		t.Errorf("trace_id = %q, want 32 hex chars", resp.TraceID)
	}
	if resp.TurnNumber != 1 {
		t.Errorf("turn_number = %d, want 1", resp.TurnNumber)
	}
	if resp.Status != "started" {
		t.Errorf("status = %q, want started", resp.Status)
	}

	// The turn itself runs detached; wait for it and check it finished.
	if err := env.turns.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := env.sink.count(event.TypeWorkflowComplete); got != 1 {
		t.Errorf("workflow_complete events = %d, want 1", got)
	}
}

func TestLaunchTurnUnknownPattern(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/turns/ring",
		`{"prompt": "analyze", "workflow_id": "wf-1", "turn_number": 1}`)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "unknown orchestration pattern") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if got := env.sink.count(event.TypeWorkflowError); got != 0 {
		t.Errorf("rejected launch emitted %d error events", got)
	}
}

func TestLaunchTurnValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]string{
		"empty prompt":  `{"prompt": "", "workflow_id": "wf-1", "turn_number": 1}`,
		"no workflow":   `{"prompt": "analyze", "workflow_id": "", "turn_number": 1}`,
		"negative turn": `{"prompt": "analyze", "workflow_id": "wf-1", "turn_number": -3}`,
		"bad trace":     `{"prompt": "analyze", "workflow_id": "wf-1", "turn_number": 1, "trace_id": "xyz"}`,
		"bad context":   `{"prompt": "analyze", "workflow_id": "wf-1", "turn_number": 1, "conversation_context": "[1,2]"}`,
		"not even json": `{nope`,
	}
	for name, body := range cases {
		w := env.do(t, "POST", "/api/v1/turns/workflow", body)
		if w.Code != http.StatusBadRequest && w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 4xx, got %d: %s", name, w.Code, w.Body.String())
		}
	}
}

func TestLaunchTurnUnknownWorkflowDefinition(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/turns/workflow",
		`{"prompt": "analyze", "workflow_id": "wf-1", "turn_number": 1, "workflow": "nonexistent"}`)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLaunchTurnBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)

	huge := `{"prompt": "` + strings.Repeat("x", 1<<20) + `", "workflow_id": "wf-1", "turn_number": 1}`
	w := env.do(t, "POST", "/api/v1/turns/graph", huge)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestListWorkflowEventsPaging(t *testing.T) {
	env := newTestEnv(t)
	env.store.page = &eventstore.Page{
		Events:  []event.Event{{EventType: event.TypeNodeStart, Timestamp: 17, WorkflowID: "wf-9"}},
		Cursor:  "42",
		HasMore: true,
	}

	w := env.do(t, "GET", "/api/v1/workflows/wf-9/events?cursor=abc&limit=2", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if env.store.gotWorkflow != "wf-9" || env.store.gotCursor != "abc" || env.store.gotLimit != 2 {
		t.Errorf("store saw (%q, %q, %d), want (wf-9, abc, 2)",
			env.store.gotWorkflow, env.store.gotCursor, env.store.gotLimit)
	}

	var page eventstore.Page
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if !page.HasMore || page.Cursor != "42" || len(page.Events) != 1 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestListWorkflowEventsLimitHandling(t *testing.T) {
	env := newTestEnv(t)

	for _, bad := range []string{"0", "-5", "many"} {
		w := env.do(t, "GET", "/api/v1/workflows/wf-1/events?limit="+bad, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", bad, w.Code)
		}
	}

	// Oversized limits are clamped, not rejected.
	w := env.do(t, "GET", "/api/v1/workflows/wf-1/events?limit=5000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if env.store.gotLimit != 1000 {
		t.Errorf("store saw limit %d, want 1000", env.store.gotLimit)
	}
}

func TestListWorkflowToolsEmpty(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/workflows/wf-1/tools", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// Absent telemetry is an empty list, not null.
	if !strings.Contains(w.Body.String(), `"events":[]`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestWorkflowStatus(t *testing.T) {
	env := newTestEnv(t)
	env.store.summary = &eventstore.Summary{
		WorkflowID:    "wf-9",
		Status:        "completed",
		EventCounts:   map[string]int{"workflow_complete": 1},
		AgentsInvoked: []string{"triage"},
	}

	w := env.do(t, "GET", "/api/v1/workflows/wf-9/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary eventstore.Summary
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	if summary.Status != "completed" || summary.WorkflowID != "wf-9" {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestWorkflowStatusNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/workflows/ghost/status", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "workflow not found") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestListAgents(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/agents", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Agents []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"agents"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(resp.Agents))
	}
	if resp.Agents[0].ID != "triage" || resp.Agents[0].Name != "Triage" {
		t.Errorf("unexpected first agent: %+v", resp.Agents[0])
	}
}

func TestSearchMemory(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/sessions/sess-1/memory?q=contract", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		SessionID string         `json:"session_id"`
		Entries   []memory.Entry `json:"entries"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "sess-1" {
		t.Errorf("session_id = %q, want sess-1", resp.SessionID)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Content != "contract is signed" {
		t.Errorf("unexpected entries: %+v", resp.Entries)
	}
}

func TestSearchMemoryQueryTooLong(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/sessions/sess-1/memory?q="+strings.Repeat("q", 2001), "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestIngestEventAccepted(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/events",
		`{"event_type": "tool_started", "workflow_id": "wf-1", "agent": "triage", "tool_name": "web_search"}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	ev, ok := env.sink.first(event.TypeToolStarted)
	if !ok {
		t.Fatal("tool_started never reached the sink")
	}
	if ev.ToolName != "web_search" || ev.Agent != "triage" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Timestamp <= 0 {
		t.Error("expected the ingest path to stamp a timestamp")
	}
}

func TestIngestEventRejectsNonToolTypes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/events",
		`{"event_type": "workflow_complete", "workflow_id": "wf-1"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := env.sink.count(event.TypeWorkflowComplete); got != 0 {
		t.Errorf("rejected event reached the sink %d times", got)
	}
}

func TestIngestEventRequiresWorkflowID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/events", `{"event_type": "tool_completed"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHealthzOK(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/healthz", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestHealthzDegraded(t *testing.T) {
	h := &aghttp.Handlers{
		DB:     pingStub{err: errors.New("connection refused")},
		Broker: brokerStub{connected: false},
	}

	r := chi.NewRouter()
	aghttp.MountRoutes(r, h)

	req := httptest.NewRequest("GET", "/healthz", http.NoBody)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"postgres":"unreachable"`) || !strings.Contains(body, `"nats":"disconnected"`) {
		t.Errorf("unexpected body: %s", body)
	}
}
