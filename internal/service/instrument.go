package service

import (
	"context"
	"time"

	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
)

// ToolFunc is a tool invocation wrapped by InstrumentTool.
type ToolFunc func(ctx context.Context) (string, error)

// InstrumentTool wraps a tool invocation with usage events: tool_started
// before the call, then tool_completed or tool_error carrying the elapsed
// milliseconds. The wrapped result and error pass through untouched.
func InstrumentTool(emitter *Emitter, sess *session.Context, agentID, toolName string, fn ToolFunc) ToolFunc {
	return func(ctx context.Context) (string, error) {
		start := event.New(event.TypeToolStarted, sess)
		start.Agent = agentID
		start.ToolName = toolName
		start.Status = event.StatusStarted
		emitter.Emit(ctx, start)

		began := time.Now()
		out, err := fn(ctx)
		elapsed := time.Since(began).Milliseconds()

		if err != nil {
			stop := event.New(event.TypeToolError, sess)
			stop.Agent = agentID
			stop.ToolName = toolName
			stop.Status = event.StatusError
			stop.Error = err.Error()
			stop.DurationMs = elapsed
			emitter.Emit(ctx, stop)
			return out, err
		}

		stop := event.New(event.TypeToolCompleted, sess)
		stop.Agent = agentID
		stop.ToolName = toolName
		stop.Status = event.StatusCompleted
		stop.DurationMs = elapsed
		emitter.Emit(ctx, stop)
		return out, nil
	}
}
