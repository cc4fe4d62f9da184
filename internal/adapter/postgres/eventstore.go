package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/port/eventstore"
)

const defaultPageSize = 50

// EventStore persists workflow events in the events table. Each row keeps the
// correlation fields in typed columns for querying and the full event as a
// JSONB payload. Rows carry an expiry stamp and are skipped once expired, so
// reads never see records the prune loop has not deleted yet.
type EventStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewEventStore creates an event store over the given pool. Events expire
// ttl after being appended; a non-positive ttl keeps them forever.
func NewEventStore(pool *pgxpool.Pool, ttl time.Duration) *EventStore {
	return &EventStore{pool: pool, ttl: ttl}
}

// Append persists one event.
func (s *EventStore) Append(ctx context.Context, ev *event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Tool usage events identify the acting agent in the agent field
	// rather than node_id.
	nodeID := ev.NodeID
	if nodeID == "" {
		nodeID = ev.Agent
	}

	var expiresAt any
	if s.ttl > 0 {
		expiresAt = time.Now().Add(s.ttl)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (event_type, ts, session_id, workflow_id, trace_id, turn_number, node_id, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(ev.EventType), ev.Timestamp, ev.SessionID, ev.WorkflowID,
		ev.TraceID, ev.TurnNumber, nodeID, payload, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListByWorkflow returns one page of a workflow's events in emission order.
// The cursor is the opaque value from the previous page; empty starts from
// the beginning.
func (s *EventStore) ListByWorkflow(ctx context.Context, workflowID, cursor string, limit int) (*eventstore.Page, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	var afterID int64
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		afterID = id
	}

	// Fetch one extra row to detect whether another page exists.
	rows, err := s.pool.Query(ctx, `
		SELECT id, payload
		FROM events
		WHERE workflow_id = $1
		  AND id > $2
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY id ASC
		LIMIT $3`,
		workflowID, afterID, limit+1,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var (
		events []event.Event
		ids    []int64
	)
	for rows.Next() {
		var (
			id      int64
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev event.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event %d: %w", id, err)
		}
		events = append(events, ev)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	page := &eventstore.Page{Events: events}
	if len(events) > limit {
		page.Events = events[:limit]
		page.HasMore = true
		page.Cursor = strconv.FormatInt(ids[limit-1], 10)
	} else if len(events) > 0 {
		page.Cursor = strconv.FormatInt(ids[len(ids)-1], 10)
	}
	return page, nil
}

// ListToolEvents returns a workflow's tool usage events in emission order.
func (s *EventStore) ListToolEvents(ctx context.Context, workflowID string) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload
		FROM events
		WHERE workflow_id = $1
		  AND event_type = ANY($2)
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY id ASC`,
		workflowID,
		[]string{string(event.TypeToolStarted), string(event.TypeToolCompleted), string(event.TypeToolError)},
	)
	if err != nil {
		return nil, fmt.Errorf("list tool events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan tool event: %w", err)
		}
		var ev event.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal tool event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool events: %w", err)
	}
	return events, nil
}

// Summarize aggregates a workflow's stream into a status summary. It returns
// nil when the workflow has no recorded events.
func (s *EventStore) Summarize(ctx context.Context, workflowID string) (*eventstore.Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_type, COUNT(*)
		FROM events
		WHERE workflow_id = $1
		  AND (expires_at IS NULL OR expires_at > now())
		GROUP BY event_type`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	total := 0
	for rows.Next() {
		var (
			eventType string
			count     int
		)
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[eventType] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	summary := &eventstore.Summary{
		WorkflowID:  workflowID,
		Status:      "running",
		EventCounts: counts,
	}
	if counts[string(event.TypeWorkflowError)] > 0 {
		summary.Status = event.StatusFailed
	} else if counts[string(event.TypeWorkflowComplete)] > 0 {
		summary.Status = event.StatusCompleted
	}

	agentRows, err := s.pool.Query(ctx, `
		SELECT DISTINCT node_id
		FROM events
		WHERE workflow_id = $1
		  AND node_id <> ''
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY node_id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("list workflow agents: %w", err)
	}
	defer agentRows.Close()

	for agentRows.Next() {
		var agent string
		if err := agentRows.Scan(&agent); err != nil {
			return nil, fmt.Errorf("scan workflow agent: %w", err)
		}
		summary.AgentsInvoked = append(summary.AgentsInvoked, agent)
	}
	if err := agentRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow agents: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(MIN(ts), 0), COALESCE(MAX(ts), 0)
		FROM events
		WHERE workflow_id = $1
		  AND (expires_at IS NULL OR expires_at > now())`,
		workflowID,
	).Scan(&summary.FirstTimestamp, &summary.LastTimestamp)
	if err != nil {
		return nil, fmt.Errorf("workflow timestamps: %w", err)
	}

	return summary, nil
}

// DeleteExpired removes events whose expiry stamp has passed and reports how
// many rows were deleted. The daemon runs this on a timer.
func (s *EventStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM events
		WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	return tag.RowsAffected(), nil
}
