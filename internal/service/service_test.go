package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	agotel "github.com/peerjakobsen/agentify-release/internal/adapter/otel"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
	"github.com/peerjakobsen/agentify-release/internal/port/eventsink"
	"github.com/peerjakobsen/agentify-release/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession(t *testing.T) *session.Context {
	t.Helper()
	sess, err := session.New("wf-123", strings.Repeat("a", 32), 1, "analyze the contract")
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return sess
}

func newTestMetrics(t *testing.T) *agotel.Metrics {
	t.Helper()
	m, err := agotel.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// sinkRecorder captures emitted events for assertions.
type sinkRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *sinkRecorder) Emit(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *sinkRecorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *sinkRecorder) byType(t event.Type) []event.Event {
	var out []event.Event
	for _, ev := range r.all() {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *sinkRecorder) types() []event.Type {
	evs := r.all()
	out := make([]event.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.EventType
	}
	return out
}

func newRecordingEmitter() (*service.Emitter, *sinkRecorder) {
	rec := &sinkRecorder{}
	return service.NewEmitter(testLogger(), eventsink.Sink(rec)), rec
}

func parseRegistry(t *testing.T, yaml string) *agent.Registry {
	t.Helper()
	reg, err := agent.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("agent.Parse: %v", err)
	}
	return reg
}

// completeFunc adapts a function to service.ChatCompleter.
type completeFunc func(ctx context.Context, model, prompt string, maxTokens int) (string, error)

func (f completeFunc) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	return f(ctx, model, prompt, maxTokens)
}

// invocation is one recorded agent call.
type invocation struct {
	Agent  string
	Prompt string
}

// scriptedInvoker returns canned replies per agent id and records every call.
type scriptedInvoker struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []invocation
}

func (s *scriptedInvoker) Invoke(_ context.Context, agentID, prompt, _ string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, invocation{Agent: agentID, Prompt: prompt})
	s.mu.Unlock()
	if err := s.errs[agentID]; err != nil {
		return "", err
	}
	reply, ok := s.replies[agentID]
	if !ok {
		return "", fmt.Errorf("no reply scripted for agent %s", agentID)
	}
	return reply, nil
}

func (s *scriptedInvoker) invocations() []invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]invocation, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *scriptedInvoker) agents() []string {
	calls := s.invocations()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Agent
	}
	return out
}

// promptFor returns the prompt of the last recorded call to agentID.
func (s *scriptedInvoker) promptFor(t *testing.T, agentID string) string {
	t.Helper()
	calls := s.invocations()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Agent == agentID {
			return calls[i].Prompt
		}
	}
	t.Fatalf("agent %s was never invoked", agentID)
	return ""
}
