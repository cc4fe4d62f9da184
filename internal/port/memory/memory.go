// Package memory defines the port for the cross-agent memory shared within
// one orchestration session.
package memory

import (
	"context"
	"time"
)

// Entry is one stored piece of session context.
type Entry struct {
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds per-session context that agents share across handoffs.
// Entries live under a session namespace and never leak across sessions.
type Store interface {
	// StoreTurn records what an agent contributed to the session.
	StoreTurn(ctx context.Context, sessionID, agentID, content string) error

	// Search returns entries from the session whose content matches the
	// query, oldest first.
	Search(ctx context.Context, sessionID, query string) ([]Entry, error)
}
