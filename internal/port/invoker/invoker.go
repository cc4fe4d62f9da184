// Package invoker defines the port through which the orchestrator reaches a
// deployed agent. The transport behind it is opaque to the engine.
package invoker

import "context"

// Invoker calls one agent with a prompt and returns the raw reply body.
// Implementations must collapse streaming or chunked transports into a
// single value before returning.
type Invoker interface {
	Invoke(ctx context.Context, agentID, prompt, sessionID string) (string, error)
}

// Func adapts a plain function to the Invoker interface. Used heavily by
// tests and by instrumentation wrappers.
type Func func(ctx context.Context, agentID, prompt, sessionID string) (string, error)

// Invoke implements Invoker.
func (f Func) Invoke(ctx context.Context, agentID, prompt, sessionID string) (string, error) {
	return f(ctx, agentID, prompt, sessionID)
}
