package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerjakobsen/agentify-release/internal/adapter/postgres"
	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/port/keystore"
)

// setupPool connects to the database named by DATABASE_URL, runs all
// migrations, and returns a ready pool. The pool is closed via t.Cleanup.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

func appendEvent(t *testing.T, store *postgres.EventStore, ev event.Event) {
	t.Helper()
	if err := store.Append(context.Background(), &ev); err != nil {
		t.Fatalf("append event: %v", err)
	}
}

func TestEventStorePagination(t *testing.T) {
	store := postgres.NewEventStore(setupPool(t), time.Hour)
	workflowID := uuid.NewString()

	for i := 1; i <= 5; i++ {
		appendEvent(t, store, event.Event{
			EventType:  event.TypeNodeStart,
			Timestamp:  int64(1000 + i),
			WorkflowID: workflowID,
			NodeID:     "researcher",
			TurnNumber: i,
		})
	}

	ctx := context.Background()

	page, err := store.ListByWorkflow(ctx, workflowID, "", 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page.Events) != 2 || !page.HasMore {
		t.Fatalf("first page: got %d events, hasMore=%v", len(page.Events), page.HasMore)
	}
	if page.Events[0].TurnNumber != 1 || page.Events[1].TurnNumber != 2 {
		t.Fatalf("first page out of order: %+v", page.Events)
	}

	page, err = store.ListByWorkflow(ctx, workflowID, page.Cursor, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(page.Events) != 2 || !page.HasMore {
		t.Fatalf("second page: got %d events, hasMore=%v", len(page.Events), page.HasMore)
	}
	if page.Events[0].TurnNumber != 3 {
		t.Fatalf("second page started at turn %d", page.Events[0].TurnNumber)
	}

	page, err = store.ListByWorkflow(ctx, workflowID, page.Cursor, 2)
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(page.Events) != 1 || page.HasMore {
		t.Fatalf("last page: got %d events, hasMore=%v", len(page.Events), page.HasMore)
	}
	if page.Events[0].TurnNumber != 5 {
		t.Fatalf("last page started at turn %d", page.Events[0].TurnNumber)
	}
}

func TestEventStoreInvalidCursor(t *testing.T) {
	store := postgres.NewEventStore(setupPool(t), time.Hour)
	if _, err := store.ListByWorkflow(context.Background(), uuid.NewString(), "not-a-cursor", 10); err == nil {
		t.Fatal("expected error for malformed cursor")
	}
}

func TestEventStoreToolEvents(t *testing.T) {
	store := postgres.NewEventStore(setupPool(t), time.Hour)
	workflowID := uuid.NewString()

	appendEvent(t, store, event.Event{
		EventType: event.TypeNodeStart, Timestamp: 1, WorkflowID: workflowID, NodeID: "researcher",
	})
	appendEvent(t, store, event.Event{
		EventType: event.TypeToolStarted, Timestamp: 2, WorkflowID: workflowID,
		Agent: "researcher", ToolName: "web_search",
	})
	appendEvent(t, store, event.Event{
		EventType: event.TypeToolCompleted, Timestamp: 3, WorkflowID: workflowID,
		Agent: "researcher", ToolName: "web_search", DurationMs: 42,
	})

	events, err := store.ListToolEvents(context.Background(), workflowID)
	if err != nil {
		t.Fatalf("list tool events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d tool events, want 2", len(events))
	}
	if events[0].EventType != event.TypeToolStarted || events[1].EventType != event.TypeToolCompleted {
		t.Fatalf("tool events out of order: %v, %v", events[0].EventType, events[1].EventType)
	}
	if events[1].DurationMs != 42 {
		t.Fatalf("payload round trip lost duration: %d", events[1].DurationMs)
	}
}

func TestEventStoreSummarize(t *testing.T) {
	store := postgres.NewEventStore(setupPool(t), time.Hour)
	workflowID := uuid.NewString()
	ctx := context.Background()

	summary, err := store.Summarize(ctx, workflowID)
	if err != nil {
		t.Fatalf("summarize empty workflow: %v", err)
	}
	if summary != nil {
		t.Fatalf("expected nil summary for unknown workflow, got %+v", summary)
	}

	appendEvent(t, store, event.Event{
		EventType: event.TypeNodeStart, Timestamp: 100, WorkflowID: workflowID, NodeID: "researcher",
	})
	appendEvent(t, store, event.Event{
		EventType: event.TypeNodeStop, Timestamp: 200, WorkflowID: workflowID, NodeID: "researcher",
	})

	summary, err = store.Summarize(ctx, workflowID)
	if err != nil {
		t.Fatalf("summarize running workflow: %v", err)
	}
	if summary.Status != "running" {
		t.Fatalf("status = %q, want running", summary.Status)
	}
	if summary.FirstTimestamp != 100 || summary.LastTimestamp != 200 {
		t.Fatalf("timestamps = %d..%d", summary.FirstTimestamp, summary.LastTimestamp)
	}

	appendEvent(t, store, event.Event{
		EventType: event.TypeNodeStart, Timestamp: 300, WorkflowID: workflowID, NodeID: "analyst",
	})
	appendEvent(t, store, event.Event{
		EventType: event.TypeWorkflowComplete, Timestamp: 400, WorkflowID: workflowID, FinalAgent: "analyst",
	})

	summary, err = store.Summarize(ctx, workflowID)
	if err != nil {
		t.Fatalf("summarize completed workflow: %v", err)
	}
	if summary.Status != event.StatusCompleted {
		t.Fatalf("status = %q, want completed", summary.Status)
	}
	if summary.EventCounts[string(event.TypeNodeStart)] != 2 {
		t.Fatalf("node_start count = %d", summary.EventCounts[string(event.TypeNodeStart)])
	}
	if len(summary.AgentsInvoked) != 2 {
		t.Fatalf("agents invoked = %v", summary.AgentsInvoked)
	}

	appendEvent(t, store, event.Event{
		EventType: event.TypeWorkflowError, Timestamp: 500, WorkflowID: workflowID, Error: "boom",
	})

	summary, err = store.Summarize(ctx, workflowID)
	if err != nil {
		t.Fatalf("summarize failed workflow: %v", err)
	}
	if summary.Status != event.StatusFailed {
		t.Fatalf("status = %q, want failed", summary.Status)
	}
}

func TestEventStoreExpiry(t *testing.T) {
	pool := setupPool(t)
	short := postgres.NewEventStore(pool, time.Millisecond)
	workflowID := uuid.NewString()

	appendEvent(t, short, event.Event{
		EventType: event.TypeNodeStart, Timestamp: 1, WorkflowID: workflowID, NodeID: "researcher",
	})
	time.Sleep(20 * time.Millisecond)

	page, err := short.ListByWorkflow(context.Background(), workflowID, "", 10)
	if err != nil {
		t.Fatalf("list after expiry: %v", err)
	}
	if len(page.Events) != 0 {
		t.Fatalf("expired events still visible: %d", len(page.Events))
	}

	deleted, err := short.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted < 1 {
		t.Fatalf("deleted %d rows, want at least 1", deleted)
	}
}

func TestMemoryStoreSearch(t *testing.T) {
	store := postgres.NewMemoryStore(setupPool(t))
	ctx := context.Background()
	sessionID := uuid.NewString()
	otherSession := uuid.NewString()

	turns := []struct{ agent, content string }{
		{"researcher", "Found three papers on quantum error correction."},
		{"analyst", "The Quantum results look promising."},
		{"writer", "Draft complete."},
	}
	for _, turn := range turns {
		if err := store.StoreTurn(ctx, sessionID, turn.agent, turn.content); err != nil {
			t.Fatalf("store turn: %v", err)
		}
	}
	if err := store.StoreTurn(ctx, otherSession, "researcher", "Unrelated quantum note."); err != nil {
		t.Fatalf("store turn: %v", err)
	}

	all, err := store.Search(ctx, sessionID, "")
	if err != nil {
		t.Fatalf("search all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	if all[0].AgentID != "researcher" || all[2].AgentID != "writer" {
		t.Fatalf("entries out of order: %+v", all)
	}

	matched, err := store.Search(ctx, sessionID, "quantum")
	if err != nil {
		t.Fatalf("search quantum: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("got %d matches, want 2 (case-insensitive)", len(matched))
	}
	if matched[0].AgentID != "researcher" || matched[1].AgentID != "analyst" {
		t.Fatalf("matches out of order: %+v", matched)
	}
}

func TestKeyStoreLifecycle(t *testing.T) {
	store := postgres.NewKeyStore(setupPool(t))
	ctx := context.Background()

	key := &keystore.Key{
		ID:         "ak_" + uuid.NewString()[:8],
		Name:       "ci",
		SecretHash: "$2a$10$abcdefghijklmnopqrstuv",
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := store.CreateKey(ctx, key); err != nil {
		t.Fatalf("create key: %v", err)
	}

	got, err := store.GetKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if got.Name != "ci" || got.SecretHash != key.SecretHash {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.RevokedAt != nil {
		t.Fatalf("fresh key already revoked: %v", got.RevokedAt)
	}

	if _, err := store.GetKey(ctx, "ak_missing"); !errors.Is(err, keystore.ErrNotFound) {
		t.Fatalf("get missing key: %v", err)
	}

	keys, err := store.ListKeys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	found := false
	for _, k := range keys {
		if k.ID == key.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("created key absent from list of %d", len(keys))
	}

	if err := store.RevokeKey(ctx, key.ID); err != nil {
		t.Fatalf("revoke key: %v", err)
	}
	got, err = store.GetKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("get revoked key: %v", err)
	}
	if got.RevokedAt == nil {
		t.Fatal("revocation not recorded")
	}

	if err := store.RevokeKey(ctx, key.ID); !errors.Is(err, keystore.ErrNotFound) {
		t.Fatalf("double revoke: %v", err)
	}
}
