package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/port/eventstore"
	"github.com/peerjakobsen/agentify-release/internal/port/memory"
	"github.com/peerjakobsen/agentify-release/internal/service"
)

const (
	defaultEventPageSize = 100
	maxEventPageSize     = 1000
	maxQueryLength       = 2000
)

// Pinger reports backing-store liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerStatus reports event-broker liveness.
type BrokerStatus interface {
	IsConnected() bool
}

// Handlers bundles the services the HTTP API exposes.
type Handlers struct {
	Turns    *service.TurnService
	Registry *agent.Registry
	Events   eventstore.Store
	Memory   *service.MemoryService
	Emitter  *service.Emitter
	DB       Pinger
	Broker   BrokerStatus
}

// ---------------------------------------------------------------------------
// Turns
// ---------------------------------------------------------------------------

type launchResponse struct {
	WorkflowID string `json:"workflow_id"`
	SessionID  string `json:"session_id"`
	TraceID    string `json:"trace_id"`
	TurnNumber int    `json:"turn_number"`
	Status     string `json:"status"`
}

// LaunchTurn handles POST /api/v1/turns/{pattern}. The turn runs detached
// from this request; 202 means accepted, not finished. Progress arrives on
// the event stream.
func (h *Handlers) LaunchTurn(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.TurnRequest](w, r)
	if !ok {
		return
	}
	req.Pattern = urlParam(r, "pattern")

	sess, err := h.Turns.Launch(r.Context(), req)
	if err != nil {
		writeLaunchError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, launchResponse{
		WorkflowID: sess.WorkflowID,
		SessionID:  sess.SessionID,
		TraceID:    sess.TraceID,
		TurnNumber: sess.TurnNumber,
		Status:     "started",
	})
}

// ---------------------------------------------------------------------------
// Workflow event streams
// ---------------------------------------------------------------------------

// ListWorkflowEvents handles GET /api/v1/workflows/{id}/events with cursor
// pagination.
func (h *Handlers) ListWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	workflowID := urlParam(r, "id")
	cursor := r.URL.Query().Get("cursor")

	limit := defaultEventPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxEventPageSize {
			n = maxEventPageSize
		}
		limit = n
	}

	page, err := h.Events.ListByWorkflow(r.Context(), workflowID, cursor, limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if page.Events == nil {
		page.Events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, page)
}

type toolEventsResponse struct {
	WorkflowID string        `json:"workflow_id"`
	Events     []event.Event `json:"events"`
}

// ListWorkflowTools handles GET /api/v1/workflows/{id}/tools, returning the
// tool telemetry agents reported during the workflow.
func (h *Handlers) ListWorkflowTools(w http.ResponseWriter, r *http.Request) {
	workflowID := urlParam(r, "id")

	events, err := h.Events.ListToolEvents(r.Context(), workflowID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, toolEventsResponse{WorkflowID: workflowID, Events: events})
}

// WorkflowStatus handles GET /api/v1/workflows/{id}/status.
func (h *Handlers) WorkflowStatus(w http.ResponseWriter, r *http.Request) {
	workflowID := urlParam(r, "id")

	summary, err := h.Events.Summarize(r.Context(), workflowID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// agentView is the public shape of a registry entry. Endpoints stay private
// to the daemon.
type agentView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
}

type agentListResponse struct {
	Agents []agentView `json:"agents"`
}

// ListAgents handles GET /api/v1/agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	views := make([]agentView, 0, len(h.Registry.Agents))
	for _, a := range h.Registry.Agents {
		views = append(views, agentView{
			ID:          a.ID,
			Name:        a.Name,
			Description: a.Description,
			Type:        a.Type,
		})
	}
	writeJSON(w, http.StatusOK, agentListResponse{Agents: views})
}

// ---------------------------------------------------------------------------
// Session memory
// ---------------------------------------------------------------------------

type memorySearchResponse struct {
	SessionID string         `json:"session_id"`
	Query     string         `json:"query"`
	Entries   []memory.Entry `json:"entries"`
}

// SearchMemory handles GET /api/v1/sessions/{id}/memory?q=.
func (h *Handlers) SearchMemory(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	query := r.URL.Query().Get("q")
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query too long")
		return
	}

	entries := h.Memory.SearchContext(r.Context(), sessionID, query)
	if entries == nil {
		entries = []memory.Entry{}
	}
	writeJSON(w, http.StatusOK, memorySearchResponse{
		SessionID: sessionID,
		Query:     query,
		Entries:   entries,
	})
}

// ---------------------------------------------------------------------------
// External event ingestion
// ---------------------------------------------------------------------------

type acceptedResponse struct {
	Status string `json:"status"`
}

// IngestEvent handles POST /api/v1/events. Deployed agents report tool usage
// here; the events join the workflow's stream alongside the orchestrator's
// own.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := readJSON[event.Event](w, r)
	if !ok {
		return
	}

	switch ev.EventType {
	case event.TypeToolStarted, event.TypeToolCompleted, event.TypeToolError:
	default:
		writeError(w, http.StatusBadRequest, "event_type must be a tool event")
		return
	}
	if ev.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}
	if ev.Timestamp <= 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	h.Emitter.Emit(r.Context(), ev)
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres"`
	NATS     string `json:"nats"`
}

// Healthz reports liveness of the daemon and its backing services. A nil
// checker skips that probe.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Postgres: "ok", NATS: "ok"}
	status := http.StatusOK

	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			resp.Postgres = "unreachable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if h.Broker != nil && !h.Broker.IsConnected() {
		resp.NATS = "disconnected"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
