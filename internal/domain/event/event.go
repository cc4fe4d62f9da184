// Package event defines the ordered, append-only records the orchestrator
// emits for every state transition.
package event

import (
	"errors"
	"time"

	"github.com/peerjakobsen/agentify-release/internal/domain/session"
)

// Type identifies one kind of orchestration event.
type Type string

const (
	TypeGraphStructure    Type = "graph_structure"
	TypeNodeStart         Type = "node_start"
	TypeNodeStop          Type = "node_stop"
	TypeParallelNodeStart Type = "parallel_node_start"
	TypeParallelNodeStop  Type = "parallel_node_stop"
	TypeConvergenceReady  Type = "convergence_ready"
	TypeRouterDecision    Type = "router_decision"
	TypeWorkflowComplete  Type = "workflow_complete"
	TypeWorkflowError     Type = "workflow_error"
	TypeToolStarted       Type = "tool_started"
	TypeToolCompleted     Type = "tool_completed"
	TypeToolError         Type = "tool_error"
)

// Status values carried by node and workflow events.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusStarted   = "started"
)

var (
	ErrMissingType  = errors.New("event type is required")
	ErrBadTimestamp = errors.New("event timestamp must be a positive epoch-ms integer")
)

// Node is one vertex of the structure announcement emitted at turn start.
type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Edge is one possible transition in the structure announcement.
type Edge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition"`
}

// Structure describes the agent topology of a turn for downstream viewers.
type Structure struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Event is a flat record of one state transition. EventType and a positive
// Timestamp are mandatory; everything else is type-specific.
type Event struct {
	EventType  Type   `json:"event_type"`
	Timestamp  int64  `json:"timestamp"`
	SessionID  string `json:"session_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
	TurnNumber int    `json:"turn_number,omitempty"`

	NodeID        string `json:"node_id,omitempty"`
	NodeName      string `json:"node_name,omitempty"`
	FromAgent     string `json:"from_agent,omitempty"`
	HandoffPrompt string `json:"handoff_prompt,omitempty"`
	Status        string `json:"status,omitempty"`
	Response      string `json:"response,omitempty"`
	Error         string `json:"error,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`

	NodeIDs        []string `json:"node_ids,omitempty"`
	NodeNames      []string `json:"node_names,omitempty"`
	CompletedCount int      `json:"completed_count,omitempty"`
	TotalCount     int      `json:"total_count,omitempty"`

	ConvergenceNode string   `json:"convergence_node,omitempty"`
	CompletedAgents []string `json:"completed_agents,omitempty"`

	FinalAgent string `json:"final_agent,omitempty"`
	FailedTask string `json:"failed_task,omitempty"`

	RouterModel     string `json:"router_model,omitempty"`
	NextAgent       string `json:"next_agent,omitempty"`
	DurationMs      int64  `json:"duration_ms,omitempty"`
	AgentSuggestion string `json:"agent_suggestion,omitempty"`

	Agent    string `json:"agent,omitempty"`
	ToolName string `json:"tool_name,omitempty"`

	Graph *Structure `json:"graph,omitempty"`
}

// New stamps a record of the given type with the current time and the turn's
// correlation fields.
func New(t Type, sess *session.Context) Event {
	ev := Event{
		EventType: t,
		Timestamp: time.Now().UnixMilli(),
	}
	if sess != nil {
		ev.SessionID = sess.SessionID
		ev.WorkflowID = sess.WorkflowID
		ev.TraceID = sess.TraceID
		ev.TurnNumber = sess.TurnNumber
	}
	return ev
}

// Validate enforces the mandatory field pair. Malformed events are dropped
// by the emitter rather than corrupting the stream.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return ErrMissingType
	}
	if e.Timestamp <= 0 {
		return ErrBadTimestamp
	}
	return nil
}
