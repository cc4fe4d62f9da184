package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
	"github.com/peerjakobsen/agentify-release/internal/domain/taskgraph"
	"github.com/peerjakobsen/agentify-release/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeLaunchError maps turn-launch failures onto HTTP statuses. Validation
// problems are the caller's fault; everything else is ours.
func writeLaunchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownPattern),
		errors.Is(err, agent.ErrUnknownWorkflow):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrEmptyWorkflowID),
		errors.Is(err, session.ErrInvalidTraceID),
		errors.Is(err, session.ErrInvalidTurn),
		errors.Is(err, session.ErrEmptyPrompt),
		errors.Is(err, session.ErrBadConversation),
		errors.Is(err, taskgraph.ErrEmpty),
		errors.Is(err, taskgraph.ErrUnknownDependency),
		errors.Is(err, taskgraph.ErrCycle):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
