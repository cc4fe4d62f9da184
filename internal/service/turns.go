package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
	"github.com/peerjakobsen/agentify-release/internal/domain/taskgraph"
)

// ErrUnknownPattern rejects turn launches naming a pattern the engine does
// not implement.
var ErrUnknownPattern = errors.New("unknown orchestration pattern")

// TurnRequest is the daemon's turn-launch payload. Pattern comes from the
// URL, everything else from the body.
type TurnRequest struct {
	Pattern             string `json:"-"`
	Prompt              string `json:"prompt"`
	WorkflowID          string `json:"workflow_id"`
	TraceID             string `json:"trace_id"`
	TurnNumber          int    `json:"turn_number"`
	ConversationContext string `json:"conversation_context,omitempty"`
	Workflow            string `json:"workflow,omitempty"`
}

// TurnService launches orchestration turns for the daemon. Turns run
// detached from the launching request; callers follow progress through the
// event stream.
type TurnService struct {
	graph    *GraphService
	swarm    *SwarmService
	workflow *WorkflowService
	registry *agent.Registry
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewTurnService creates the launcher.
func NewTurnService(
	graph *GraphService,
	swarm *SwarmService,
	workflow *WorkflowService,
	reg *agent.Registry,
	logger *slog.Logger,
) *TurnService {
	return &TurnService{
		graph:    graph,
		swarm:    swarm,
		workflow: workflow,
		registry: reg,
		logger:   logger,
	}
}

// Launch validates the request, mints the session, and starts the turn in
// the background. Validation failures happen before anything is invoked or
// emitted.
func (t *TurnService) Launch(ctx context.Context, req TurnRequest) (*session.Context, error) {
	pattern := strings.ToLower(strings.TrimSpace(req.Pattern))
	switch pattern {
	case "graph", "swarm", "workflow":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, req.Pattern)
	}

	var g taskgraph.Graph
	if pattern == "workflow" {
		var err error
		g, err = t.registry.Workflow(req.Workflow)
		if err != nil {
			return nil, err
		}
		if err := taskgraph.Validate(g); err != nil {
			return nil, err
		}
	}

	traceID := strings.ToLower(strings.TrimSpace(req.TraceID))
	if traceID == "" {
		traceID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	turnNumber := req.TurnNumber
	if turnNumber == 0 {
		turnNumber = 1
	}

	sess, err := session.New(req.WorkflowID, traceID, turnNumber, req.Prompt)
	if err != nil {
		return nil, err
	}
	if req.ConversationContext != "" {
		conv, err := session.ParseConversation(req.ConversationContext)
		if err != nil {
			return nil, err
		}
		sess = sess.WithConversation(conv)
	}

	run := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.logger.Info("turn launched",
			"pattern", pattern, "workflow_id", sess.WorkflowID, "session_id", sess.SessionID)

		var err error
		switch pattern {
		case "graph":
			_, err = t.graph.RunTurn(run, sess)
		case "swarm":
			_, err = t.swarm.RunTurn(run, sess)
		case "workflow":
			_, err = t.workflow.RunTurn(run, sess, g)
		}
		if err != nil {
			t.logger.Error("turn failed",
				"pattern", pattern, "workflow_id", sess.WorkflowID, "error", err)
			return
		}
		t.logger.Info("turn completed",
			"pattern", pattern, "workflow_id", sess.WorkflowID, "session_id", sess.SessionID)
	}()

	return sess, nil
}

// Wait blocks until all launched turns finish or ctx expires. Used on
// shutdown.
func (t *TurnService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
