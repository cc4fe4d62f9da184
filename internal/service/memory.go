package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/peerjakobsen/agentify-release/internal/port/cache"
	"github.com/peerjakobsen/agentify-release/internal/port/memory"
)

const memoryCacheTTL = 30 * time.Second

// MemoryService fronts the cross-agent memory store with a read-through
// cache. A store outage degrades to empty context; it never fails a turn.
type MemoryService struct {
	store  memory.Store
	cache  cache.Cache
	logger *slog.Logger
}

// NewMemoryService creates the memory service. cache may be nil to read
// through to the store on every call.
func NewMemoryService(store memory.Store, c cache.Cache, logger *slog.Logger) *MemoryService {
	return &MemoryService{store: store, cache: c, logger: logger}
}

// RecordTurn stores what an agent contributed to the session and invalidates
// the session's cached full read. Store failures are logged and swallowed.
// Safe to call on a nil service; memory is optional.
func (m *MemoryService) RecordTurn(ctx context.Context, sessionID, agentID, content string) {
	if m == nil || m.store == nil {
		return
	}
	if err := m.store.StoreTurn(ctx, sessionID, agentID, content); err != nil {
		m.logger.Warn("memory store failed",
			"session_id", sessionID, "agent", agentID, "error", err)
		return
	}
	if m.cache != nil {
		if err := m.cache.Delete(ctx, memoryCacheKey(sessionID, "")); err != nil {
			m.logger.Debug("memory cache invalidation failed", "session_id", sessionID, "error", err)
		}
	}
}

// SearchContext returns session entries matching query, oldest first. Store
// errors degrade to an empty result with a warning.
func (m *MemoryService) SearchContext(ctx context.Context, sessionID, query string) []memory.Entry {
	if m == nil || m.store == nil {
		return nil
	}

	key := memoryCacheKey(sessionID, query)
	if m.cache != nil {
		if data, ok, err := m.cache.Get(ctx, key); err == nil && ok {
			var entries []memory.Entry
			if err := json.Unmarshal(data, &entries); err == nil {
				return entries
			}
		}
	}

	entries, err := m.store.Search(ctx, sessionID, query)
	if err != nil {
		m.logger.Warn("memory search failed, continuing without context",
			"session_id", sessionID, "error", err)
		return nil
	}

	if m.cache != nil {
		if data, err := json.Marshal(entries); err == nil {
			if err := m.cache.Set(ctx, key, data, memoryCacheTTL); err != nil {
				m.logger.Debug("memory cache write failed", "session_id", sessionID, "error", err)
			}
		}
	}
	return entries
}

func memoryCacheKey(sessionID, query string) string {
	return "memory:" + sessionID + ":" + query
}
