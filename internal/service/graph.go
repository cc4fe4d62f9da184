package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	agotel "github.com/peerjakobsen/agentify-release/internal/adapter/otel"
	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/domain/response"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
	"github.com/peerjakobsen/agentify-release/internal/port/invoker"
)

// GraphService drives the graph pattern: a linear loop that invokes the
// current agent, resolves the next hop through the router cascade, and chains
// the response into the next prompt until a strategy completes the turn.
type GraphService struct {
	registry *agent.Registry
	invoker  invoker.Invoker
	router   *Router
	emitter  *Emitter
	metrics  *agotel.Metrics
	cfg      config.Routing
	logger   *slog.Logger
	memory   *MemoryService
	console  io.Writer
}

// NewGraphService creates the graph driver.
func NewGraphService(
	reg *agent.Registry,
	inv invoker.Invoker,
	router *Router,
	emitter *Emitter,
	metrics *agotel.Metrics,
	cfg config.Routing,
	logger *slog.Logger,
) *GraphService {
	return &GraphService{
		registry: reg,
		invoker:  inv,
		router:   router,
		emitter:  emitter,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		console:  io.Discard,
	}
}

// SetMemory attaches the optional cross-agent memory.
func (g *GraphService) SetMemory(m *MemoryService) { g.memory = m }

// SetConsole sets the writer for human-readable progress lines.
func (g *GraphService) SetConsole(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	g.console = w
}

// RunTurn executes one graph turn. The returned result carries everything
// invoked so far even when err is non-nil.
func (g *GraphService) RunTurn(ctx context.Context, sess *session.Context) (*TurnResult, error) {
	res := &TurnResult{SessionID: sess.SessionID}

	ctx, span := agotel.StartTurnSpan(ctx, "graph", sess.WorkflowID, sess.TraceID, sess.TurnNumber)
	defer span.End()
	if g.metrics != nil {
		g.metrics.TurnsStarted.Add(ctx, 1)
	}

	structure := event.New(event.TypeGraphStructure, sess)
	structure.Graph = graphStructure(g.registry)
	g.emitter.Emit(ctx, structure)

	current := sess.EntryAgent
	if current == "" {
		current = g.registry.Graph.EntryAgent
	}
	if current == "" {
		err := fmt.Errorf("graph entry agent not configured")
		g.emitter.WorkflowError(ctx, sess, err.Error(), "")
		g.failTurn(ctx)
		return res, err
	}

	maxHandoffs := g.cfg.MaxHandoffs
	if maxHandoffs <= 0 {
		maxHandoffs = 20
	}

	prompt := sess.PromptWithHistory()
	prevDisplay := ""

	for {
		if len(res.AgentsInvoked) >= maxHandoffs {
			err := fmt.Errorf("%w (limit %d)", ErrHandoffLimit, maxHandoffs)
			g.emitter.WorkflowError(ctx, sess, err.Error(), "")
			g.failTurn(ctx)
			return res, err
		}

		display := g.registry.DisplayName(current)

		start := event.New(event.TypeNodeStart, sess)
		start.NodeID = current
		start.NodeName = display
		start.FromAgent = prevDisplay
		start.HandoffPrompt = prompt
		g.emitter.Emit(ctx, start)

		g.logger.Info("invoking graph node", "agent", current, "workflow_id", sess.WorkflowID)
		raw, _, err := invokeAgent(ctx, g.invoker, g.metrics, current, prompt, sess.SessionID)
		if err != nil {
			stop := event.New(event.TypeNodeStop, sess)
			stop.NodeID = current
			stop.NodeName = display
			stop.Status = event.StatusError
			stop.Error = err.Error()
			g.emitter.Emit(ctx, stop)

			failure := fmt.Errorf("Agent %s failed: %w", current, err) //nolint:staticcheck // ST1005: surfaces verbatim in events and summaries
			g.emitter.WorkflowError(ctx, sess, failure.Error(), "")
			g.failTurn(ctx)
			return res, failure
		}

		resp := response.Parse(raw)

		stop := event.New(event.TypeNodeStop, sess)
		stop.NodeID = current
		stop.NodeName = display
		stop.Status = event.StatusCompleted
		stop.Response = resp.Text
		g.emitter.Emit(ctx, stop)

		res.AgentsInvoked = append(res.AgentsInvoked, current)
		res.FinalAgent = current
		res.FinalResponse = resp.Text
		g.memory.RecordTurn(ctx, sess.SessionID, current, resp.Text)

		decision := g.router.Decide(ctx, sess, current, resp)
		if decision.Done() {
			break
		}

		if g.metrics != nil {
			g.metrics.Handoffs.Add(ctx, 1)
		}
		prompt = fmt.Sprintf("Previous agent (%s) response:\n%s\n\nOriginal request: %s",
			display, raw, sess.Prompt)
		prevDisplay = display
		current = decision.Next
	}

	complete := event.New(event.TypeWorkflowComplete, sess)
	complete.FinalAgent = res.FinalAgent
	complete.Status = event.StatusSuccess
	g.emitter.Emit(ctx, complete)
	if g.metrics != nil {
		g.metrics.TurnsCompleted.Add(ctx, 1)
	}
	return res, nil
}

func (g *GraphService) failTurn(ctx context.Context) {
	if g.metrics != nil {
		g.metrics.TurnsFailed.Add(ctx, 1)
	}
}

// graphStructure renders the registry's graph topology for viewers: every
// agent as a node, classification routes as labeled edges from the entry
// agent, static routes as unconditional edges.
func graphStructure(reg *agent.Registry) *event.Structure {
	s := &event.Structure{}
	for _, id := range reg.IDs() {
		s.Nodes = append(s.Nodes, event.Node{ID: id, Name: reg.DisplayName(id), Type: "agent"})
	}

	labels := make([]string, 0, len(reg.Graph.ClassificationRoutes))
	for label := range reg.Graph.ClassificationRoutes {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		s.Edges = append(s.Edges, event.Edge{
			From:      reg.Graph.EntryAgent,
			To:        reg.Graph.ClassificationRoutes[label],
			Condition: label,
		})
	}

	froms := make([]string, 0, len(reg.Graph.StaticRoutes))
	for from := range reg.Graph.StaticRoutes {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		if to := reg.Graph.StaticRoutes[from]; to != "" {
			s.Edges = append(s.Edges, event.Edge{From: from, To: to, Condition: "static"})
		}
	}
	return s
}
