// Package eventsink defines the port through which orchestration events
// leave the engine.
package eventsink

import (
	"context"

	"github.com/peerjakobsen/agentify-release/internal/domain/event"
)

// Sink receives validated events. Delivery is fire-and-forget from the
// engine's point of view: a returned error is logged and the event dropped,
// never surfaced to the turn.
type Sink interface {
	Emit(ctx context.Context, ev event.Event) error
}

// Func adapts a plain function to the Sink interface.
type Func func(ctx context.Context, ev event.Event) error

// Emit implements Sink.
func (f Func) Emit(ctx context.Context, ev event.Event) error {
	return f(ctx, ev)
}
