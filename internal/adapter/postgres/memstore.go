package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerjakobsen/agentify-release/internal/port/memory"
)

// MemoryStore persists conversation turns in the memory_turns table, one
// namespace per session.
type MemoryStore struct {
	pool *pgxpool.Pool
}

// NewMemoryStore creates a memory store over the given pool.
func NewMemoryStore(pool *pgxpool.Pool) *MemoryStore {
	return &MemoryStore{pool: pool}
}

// memoryNamespace scopes turns to one session's conversation context.
func memoryNamespace(sessionID string) string {
	return "/workflow/" + sessionID + "/context"
}

// StoreTurn appends one agent response to the session's conversation memory.
func (s *MemoryStore) StoreTurn(ctx context.Context, sessionID, agentID, content string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_turns (namespace, agent_id, content)
		VALUES ($1, $2, $3)`,
		memoryNamespace(sessionID), agentID, content,
	)
	if err != nil {
		return fmt.Errorf("store turn: %w", err)
	}
	return nil
}

// Search returns the session's stored turns matching the query, oldest
// first. An empty query returns every turn in the namespace.
func (s *MemoryStore) Search(ctx context.Context, sessionID, query string) ([]memory.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, content, created_at
		FROM memory_turns
		WHERE namespace = $1
		  AND ($2 = '' OR content ILIKE '%' || $2 || '%')
		ORDER BY id ASC`,
		memoryNamespace(sessionID), query,
	)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var entries []memory.Entry
	for rows.Next() {
		var e memory.Entry
		if err := rows.Scan(&e.AgentID, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory entries: %w", err)
	}
	return entries, nil
}
