// Package session defines the immutable per-turn orchestration context.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrEmptyWorkflowID = errors.New("workflow id is required")
	ErrInvalidTraceID  = errors.New("trace id must be exactly 32 lowercase hex characters")
	ErrInvalidTurn     = errors.New("turn number must be >= 1")
	ErrEmptyPrompt     = errors.New("prompt is required")
	ErrBadConversation = errors.New("invalid conversation context")
)

// Turn is one prior exchange in a multi-turn conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the optional caller-supplied context from earlier turns.
type Conversation struct {
	EntryAgent string `json:"entry_agent"`
	Turns      []Turn `json:"turns"`
}

// Context identifies a single orchestration turn. It is built once by New
// and never mutated; every component reads it by value or pointer.
type Context struct {
	WorkflowID string
	TraceID    string
	TurnNumber int
	SessionID  string
	Prompt     string
	History    []Turn
	EntryAgent string
}

// New validates the turn inputs and mints a session id. Validation happens
// here, before any agent is invoked; a failed turn produces no events.
func New(workflowID, traceID string, turnNumber int, prompt string) (*Context, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, ErrEmptyWorkflowID
	}
	if !ValidTraceID(traceID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTraceID, traceID)
	}
	if turnNumber < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTurn, turnNumber)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	return &Context{
		WorkflowID: workflowID,
		TraceID:    traceID,
		TurnNumber: turnNumber,
		SessionID:  uuid.NewString(),
		Prompt:     prompt,
	}, nil
}

// ValidTraceID reports whether s is exactly 32 lowercase hex characters.
func ValidTraceID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ParseConversation parses the optional JSON conversation context. The
// payload must be a JSON object with an entry_agent field and a turns array.
func ParseConversation(raw string) (*Conversation, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrBadConversation, err)
	}
	if _, ok := probe["entry_agent"]; !ok {
		return nil, fmt.Errorf("%w: missing entry_agent field", ErrBadConversation)
	}
	turnsRaw, ok := probe["turns"]
	if !ok {
		return nil, fmt.Errorf("%w: missing turns array", ErrBadConversation)
	}
	var turns []Turn
	if err := json.Unmarshal(turnsRaw, &turns); err != nil {
		return nil, fmt.Errorf("%w: turns must be an array: %v", ErrBadConversation, err)
	}

	var conv Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConversation, err)
	}
	return &conv, nil
}

// WithConversation returns a copy of c carrying the parsed history and
// entry agent. The receiver is not modified.
func (c *Context) WithConversation(conv *Conversation) *Context {
	out := *c
	if conv != nil {
		out.EntryAgent = conv.EntryAgent
		out.History = conv.Turns
	}
	return &out
}

// PromptWithHistory renders the first prompt of the turn. With prior turns
// present it embeds them under a conversation banner; otherwise it returns
// the prompt unchanged. Only human and entry_agent turns are replayed.
func (c *Context) PromptWithHistory() string {
	var lines []string
	for _, t := range c.History {
		switch t.Role {
		case "human":
			lines = append(lines, "Human: "+t.Content)
		case "entry_agent":
			lines = append(lines, "Assistant: "+t.Content)
		}
	}
	if len(lines) == 0 {
		return c.Prompt
	}

	return fmt.Sprintf(`Previous conversation:
%s

Current message from human: %s

Continue the conversation naturally, remembering the context from previous messages.`,
		strings.Join(lines, "\n"), c.Prompt)
}
