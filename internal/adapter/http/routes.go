package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"service":"agentify","version":"0.1.0"}`))
		})

		// Turns
		r.Post("/turns/{pattern}", h.LaunchTurn)

		// Agents
		r.Get("/agents", h.ListAgents)

		// Workflow event streams
		r.Get("/workflows/{id}/events", h.ListWorkflowEvents)
		r.Get("/workflows/{id}/tools", h.ListWorkflowTools)
		r.Get("/workflows/{id}/status", h.WorkflowStatus)

		// Session memory
		r.Get("/sessions/{id}/memory", h.SearchMemory)

		// Tool telemetry reported by deployed agents
		r.Post("/events", h.IngestEvent)
	})
}
