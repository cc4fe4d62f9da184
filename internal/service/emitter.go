// Package service implements the orchestration engine on top of the ports:
// the three turn drivers, next-agent resolution, event emission, and the
// control-plane services the daemon exposes.
package service

import (
	"context"
	"log/slog"

	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
	"github.com/peerjakobsen/agentify-release/internal/port/eventsink"
)

// Emitter validates events and fans them out to every configured sink.
// Emission never fails a turn: invalid events are dropped with a warning and
// sink errors are logged, not propagated.
type Emitter struct {
	sinks  []eventsink.Sink
	logger *slog.Logger
}

// NewEmitter creates an emitter over the given sinks.
func NewEmitter(logger *slog.Logger, sinks ...eventsink.Sink) *Emitter {
	return &Emitter{sinks: sinks, logger: logger}
}

// Emit delivers one event to all sinks.
func (e *Emitter) Emit(ctx context.Context, ev event.Event) {
	if err := ev.Validate(); err != nil {
		e.logger.Warn("dropping invalid event",
			"event_type", ev.EventType, "workflow_id", ev.WorkflowID, "error", err)
		return
	}
	for _, s := range e.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			e.logger.Error("event sink failed",
				"event_type", ev.EventType, "workflow_id", ev.WorkflowID, "error", err)
		}
	}
}

// WorkflowError emits the terminal failure event for a turn. errType
// distinguishes interrupts from ordinary failures; empty means failure.
func (e *Emitter) WorkflowError(ctx context.Context, sess *session.Context, msg, errType string) {
	ev := event.New(event.TypeWorkflowError, sess)
	ev.Error = msg
	ev.ErrorType = errType
	e.Emit(ctx, ev)
}
