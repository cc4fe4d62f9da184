package service

import (
	"context"
	"errors"
	"time"

	agotel "github.com/peerjakobsen/agentify-release/internal/adapter/otel"
	"github.com/peerjakobsen/agentify-release/internal/port/invoker"
)

// ErrHandoffLimit is the distinct terminal failure raised when a turn tries
// to exceed the sequential handoff ceiling. It guards against agents handing
// off to each other in a cycle.
var ErrHandoffLimit = errors.New("maximum handoffs exceeded - possible infinite loop")

// TurnResult is what a turn driver hands back for summaries and follow-up
// turns. On failure it still carries everything invoked so far.
type TurnResult struct {
	SessionID     string
	AgentsInvoked []string
	FinalAgent    string
	FinalResponse string
}

// invokeAgent calls one agent under a node span and records its duration.
func invokeAgent(ctx context.Context, inv invoker.Invoker, metrics *agotel.Metrics, agentID, prompt, sessionID string) (string, time.Duration, error) {
	nodeCtx, span := agotel.StartNodeSpan(ctx, agentID)
	defer span.End()

	began := time.Now()
	raw, err := inv.Invoke(nodeCtx, agentID, prompt, sessionID)
	elapsed := time.Since(began)

	if metrics != nil {
		metrics.NodeDuration.Record(ctx, elapsed.Seconds())
	}
	return raw, elapsed, err
}
