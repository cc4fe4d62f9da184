package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey int

const (
	requestIDKey contextKey = iota
	workflowKey
)

// workflowIdentity carries the identifiers of the orchestration turn a
// request belongs to.
type workflowIdentity struct {
	workflowID string
	traceID    string
}

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithWorkflow returns a new context carrying the workflow and trace ids
// of the orchestration turn being executed.
func WithWorkflow(ctx context.Context, workflowID, traceID string) context.Context {
	return context.WithValue(ctx, workflowKey, workflowIdentity{workflowID: workflowID, traceID: traceID})
}

// Workflow extracts the workflow and trace ids from the context.
// Returns empty strings if none are set.
func Workflow(ctx context.Context) (workflowID, traceID string) {
	wf, _ := ctx.Value(workflowKey).(workflowIdentity)
	return wf.workflowID, wf.traceID
}
