package a2a

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/peerjakobsen/agentify-release/internal/port/eventstore"
)

// LaunchFunc starts an orchestration turn for the named skill and returns
// the workflow id the turn runs under.
type LaunchFunc func(ctx context.Context, skill string, input map[string]any) (string, error)

// Handler serves the A2A protocol endpoints: the discovery card and a thin
// task surface mapping tasks onto orchestration turns.
type Handler struct {
	baseURL string
	launch  LaunchFunc
	events  eventstore.Store

	mu    sync.RWMutex
	tasks map[string]string // task id -> workflow id
}

// NewHandler creates an A2A handler.
func NewHandler(baseURL string, launch LaunchFunc, events eventstore.Store) *Handler {
	return &Handler{
		baseURL: baseURL,
		launch:  launch,
		events:  events,
		tasks:   make(map[string]string),
	}
}

// MountRoutes registers A2A routes on the given chi router.
// These are mounted at the root level, not under /api/v1.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/.well-known/agent.json", h.handleAgentCard)
	r.Post("/a2a/tasks", h.handleCreateTask)
	r.Get("/a2a/tasks/{id}", h.handleGetTask)
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	card := BuildAgentCard(h.baseURL)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, `{"error":"id is required"}`, http.StatusBadRequest)
		return
	}
	switch req.Skill {
	case "graph", "swarm", "workflow":
	default:
		http.Error(w, `{"error":"unknown skill"}`, http.StatusBadRequest)
		return
	}

	workflowID, err := h.launch(r.Context(), req.Skill, req.Input)
	if err != nil {
		http.Error(w, `{"error":`+jsonQuote(err.Error())+`}`, http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.tasks[req.ID] = workflowID
	h.mu.Unlock()

	slog.Info("a2a task created", "id", req.ID, "skill", req.Skill, "workflow_id", workflowID)

	resp := &TaskResponse{
		ID:     req.ID,
		Status: "queued",
		Output: map[string]any{"workflow_id": workflowID},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.mu.RLock()
	workflowID, ok := h.tasks[id]
	h.mu.RUnlock()

	if !ok {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		return
	}

	resp := &TaskResponse{ID: id, Status: "running", Output: map[string]any{"workflow_id": workflowID}}
	if summary, err := h.events.Summarize(r.Context(), workflowID); err == nil && summary != nil {
		switch summary.Status {
		case "completed", "failed":
			resp.Status = summary.Status
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
