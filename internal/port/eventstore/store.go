// Package eventstore defines the port interface for the append-only
// persistence of orchestration events.
package eventstore

import (
	"context"

	"github.com/peerjakobsen/agentify-release/internal/domain/event"
)

// Page is a cursor-paginated slice of a workflow's event stream.
type Page struct {
	Events  []event.Event `json:"events"`
	Cursor  string        `json:"cursor"`
	HasMore bool          `json:"has_more"`
}

// Summary aggregates one workflow's event stream for status queries.
type Summary struct {
	WorkflowID     string         `json:"workflow_id"`
	Status         string         `json:"status"`
	EventCounts    map[string]int `json:"event_counts"`
	AgentsInvoked  []string       `json:"agents_invoked"`
	FirstTimestamp int64          `json:"first_timestamp"`
	LastTimestamp  int64          `json:"last_timestamp"`
}

// Store is the port interface for appending and loading workflow events.
type Store interface {
	// Append persists one event.
	Append(ctx context.Context, ev *event.Event) error

	// ListByWorkflow returns a workflow's events in emission order,
	// cursor-paginated.
	ListByWorkflow(ctx context.Context, workflowID string, cursor string, limit int) (*Page, error)

	// ListToolEvents returns a workflow's tool usage events in emission
	// order.
	ListToolEvents(ctx context.Context, workflowID string) ([]event.Event, error)

	// Summarize aggregates a workflow's stream into a status summary.
	Summarize(ctx context.Context, workflowID string) (*Summary, error)
}
