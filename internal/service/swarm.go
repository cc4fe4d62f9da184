package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	agotel "github.com/peerjakobsen/agentify-release/internal/adapter/otel"
	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/domain/response"
	"github.com/peerjakobsen/agentify-release/internal/domain/routing"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
	"github.com/peerjakobsen/agentify-release/internal/port/invoker"
)

// SwarmService drives the swarm pattern: agents decide their own handoffs,
// sequentially or as a parallel fan-out with optional convergence. The
// sequential loop is bounded by the handoff ceiling so cyclic handoffs
// terminate instead of hanging.
type SwarmService struct {
	registry *agent.Registry
	invoker  invoker.Invoker
	resolver *HandoffResolver
	emitter  *Emitter
	metrics  *agotel.Metrics
	pool     *Pool
	cfg      config.Routing
	logger   *slog.Logger
	memory   *MemoryService
	console  io.Writer
}

// NewSwarmService creates the swarm driver.
func NewSwarmService(
	reg *agent.Registry,
	inv invoker.Invoker,
	resolver *HandoffResolver,
	emitter *Emitter,
	metrics *agotel.Metrics,
	pool *Pool,
	cfg config.Routing,
	logger *slog.Logger,
) *SwarmService {
	return &SwarmService{
		registry: reg,
		invoker:  inv,
		resolver: resolver,
		emitter:  emitter,
		metrics:  metrics,
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
		console:  io.Discard,
	}
}

// SetMemory attaches the optional cross-agent memory.
func (s *SwarmService) SetMemory(m *MemoryService) { s.memory = m }

// SetConsole sets the writer for human-readable progress lines.
func (s *SwarmService) SetConsole(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	s.console = w
	s.resolver.SetConsole(w)
}

// RunTurn executes one swarm turn. The returned result carries everything
// invoked so far even when err is non-nil.
func (s *SwarmService) RunTurn(ctx context.Context, sess *session.Context) (*TurnResult, error) {
	res := &TurnResult{SessionID: sess.SessionID}

	ctx, span := agotel.StartTurnSpan(ctx, "swarm", sess.WorkflowID, sess.TraceID, sess.TurnNumber)
	defer span.End()
	if s.metrics != nil {
		s.metrics.TurnsStarted.Add(ctx, 1)
	}

	structure := event.New(event.TypeGraphStructure, sess)
	structure.Graph = swarmStructure(s.registry)
	s.emitter.Emit(ctx, structure)

	current := sess.EntryAgent
	if current == "" {
		current = s.registry.Swarm.EntryAgent
	}
	if current == "" {
		err := fmt.Errorf("swarm entry agent not configured")
		s.emitter.WorkflowError(ctx, sess, err.Error(), "")
		s.failTurn(ctx)
		return res, err
	}

	maxHandoffs := s.cfg.MaxHandoffs
	if maxHandoffs <= 0 {
		maxHandoffs = 20
	}

	prompt := sess.PromptWithHistory()
	prevDisplay := ""

	for {
		if len(res.AgentsInvoked) >= maxHandoffs {
			err := fmt.Errorf("%w (limit %d)", ErrHandoffLimit, maxHandoffs)
			s.emitter.WorkflowError(ctx, sess, err.Error(), "")
			s.failTurn(ctx)
			return res, err
		}

		display := s.registry.DisplayName(current)

		start := event.New(event.TypeNodeStart, sess)
		start.NodeID = current
		start.NodeName = display
		start.FromAgent = prevDisplay
		start.HandoffPrompt = prompt
		s.emitter.Emit(ctx, start)

		s.logger.Info("invoking swarm agent", "agent", current, "workflow_id", sess.WorkflowID)
		raw, _, err := invokeAgent(ctx, s.invoker, s.metrics, current, prompt, sess.SessionID)
		if err != nil {
			stop := event.New(event.TypeNodeStop, sess)
			stop.NodeID = current
			stop.NodeName = display
			stop.Status = event.StatusError
			stop.Error = err.Error()
			s.emitter.Emit(ctx, stop)

			failure := fmt.Errorf("Agent %s failed: %w", current, err) //nolint:staticcheck // ST1005: surfaces verbatim in events and summaries
			s.emitter.WorkflowError(ctx, sess, failure.Error(), "")
			s.failTurn(ctx)
			return res, failure
		}

		resp := response.Parse(raw)

		stop := event.New(event.TypeNodeStop, sess)
		stop.NodeID = current
		stop.NodeName = display
		stop.Status = event.StatusCompleted
		stop.Response = resp.Text
		s.emitter.Emit(ctx, stop)

		res.AgentsInvoked = append(res.AgentsInvoked, current)
		res.FinalAgent = current
		res.FinalResponse = resp.Text
		s.memory.RecordTurn(ctx, sess.SessionID, current, resp.Text)

		handoff, ok := s.resolver.Resolve(ctx, sess, current, resp)
		if !ok {
			break
		}

		if handoff.Parallel {
			out := s.fanOut(ctx, sess, res, current, raw, handoff)
			if s.metrics != nil {
				s.metrics.Handoffs.Add(ctx, int64(len(handoff.Targets)))
			}

			if handoff.ConvergeAt == "" {
				if out.lastID != "" {
					res.FinalAgent = out.lastID
					res.FinalResponse = out.lastText
				}
				break
			}

			ready := event.New(event.TypeConvergenceReady, sess)
			ready.ConvergenceNode = handoff.ConvergeAt
			ready.CompletedAgents = out.order
			s.emitter.Emit(ctx, ready)

			prompt = convergencePrompt(s.registry, out, sess.Prompt)
			names := make([]string, len(handoff.Targets))
			for i, id := range handoff.Targets {
				names[i] = s.registry.DisplayName(id)
			}
			prevDisplay = "Parallel: " + strings.Join(names, ", ")
			current = handoff.ConvergeAt
			continue
		}

		if s.metrics != nil {
			s.metrics.Handoffs.Add(ctx, 1)
		}
		prompt = fmt.Sprintf("Handoff from %s:\n%s\n\nOriginal request: %s",
			display, raw, sess.Prompt)
		prevDisplay = display
		current = handoff.Target()
	}

	complete := event.New(event.TypeWorkflowComplete, sess)
	complete.FinalAgent = res.FinalAgent
	complete.Status = event.StatusSuccess
	s.emitter.Emit(ctx, complete)
	if s.metrics != nil {
		s.metrics.TurnsCompleted.Add(ctx, 1)
	}
	return res, nil
}

func (s *SwarmService) failTurn(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.TurnsFailed.Add(ctx, 1)
	}
}

type memberResult struct {
	id  string
	raw string
	err error
}

// fanOutcome is what one parallel batch produced: member ids in completion
// order (timed-out members last) and the per-member result or error.
type fanOutcome struct {
	order    []string
	texts    map[string]string
	errs     map[string]string
	lastID   string
	lastText string
}

// fanOut invokes all targets concurrently under the shared pool and a batch
// wall-clock bound. Members still outstanding at the bound are recorded as
// timed-out errors without a stop event. A member failure never aborts its
// siblings.
func (s *SwarmService) fanOut(ctx context.Context, sess *session.Context, res *TurnResult, current, raw string, h routing.Handoff) *fanOutcome {
	targets := h.Targets
	names := make([]string, len(targets))
	for i, id := range targets {
		names[i] = s.registry.DisplayName(id)
	}

	start := event.New(event.TypeParallelNodeStart, sess)
	start.NodeIDs = targets
	start.NodeNames = names
	start.FromAgent = current
	s.emitter.Emit(ctx, start)

	timeout := s.cfg.ParallelTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	batchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	memberPrompt := fmt.Sprintf("Parallel analysis from %s:\n%s\n\nOriginal request: %s",
		s.registry.DisplayName(current), raw, sess.Prompt)

	ch := make(chan memberResult, len(targets))
	for _, id := range targets {
		go func(id string) {
			mr := memberResult{id: id}
			mr.err = s.pool.Run(batchCtx, func() error {
				out, _, err := invokeAgent(batchCtx, s.invoker, s.metrics, id, memberPrompt, sess.SessionID)
				mr.raw = out
				return err
			})
			ch <- mr
		}(id)
	}

	out := &fanOutcome{
		texts: make(map[string]string, len(targets)),
		errs:  make(map[string]string),
	}
	received := make(map[string]bool, len(targets))
	total := len(targets)

collect:
	for len(received) < total {
		select {
		case mr := <-ch:
			received[mr.id] = true
			out.order = append(out.order, mr.id)
			name := s.registry.DisplayName(mr.id)

			stop := event.New(event.TypeParallelNodeStop, sess)
			stop.NodeID = mr.id
			stop.NodeName = name
			stop.CompletedCount = len(received)
			stop.TotalCount = total

			if mr.err != nil {
				stop.Status = event.StatusError
				stop.Error = mr.err.Error()
				s.emitter.Emit(ctx, stop)
				out.errs[mr.id] = mr.err.Error()
				fmt.Fprintf(s.console, "Parallel agent %s failed: %v\n", mr.id, mr.err)
				s.logger.Warn("parallel member failed", "agent", mr.id, "error", mr.err)
				continue
			}

			text := response.ExtractText(mr.raw)
			stop.Status = event.StatusCompleted
			stop.Response = text
			s.emitter.Emit(ctx, stop)

			out.texts[mr.id] = text
			out.lastID, out.lastText = mr.id, text
			res.AgentsInvoked = append(res.AgentsInvoked, mr.id)
			s.memory.RecordTurn(ctx, sess.SessionID, mr.id, text)

		case <-batchCtx.Done():
			for _, id := range targets {
				if !received[id] {
					out.order = append(out.order, id)
					out.errs[id] = "timeout"
					s.logger.Warn("parallel member timed out", "agent", id)
				}
			}
			break collect
		}
	}
	return out
}

// convergencePrompt assembles the synthesis prompt from member results in
// completion order. Failed members appear as [ERROR: ...] sections.
func convergencePrompt(reg *agent.Registry, out *fanOutcome, originalPrompt string) string {
	sections := make([]string, 0, len(out.order))
	for _, id := range out.order {
		name := reg.DisplayName(id)
		if text, ok := out.texts[id]; ok {
			sections = append(sections, fmt.Sprintf("## Results from %s\n\n%s", name, text))
		} else {
			sections = append(sections, fmt.Sprintf("## Results from %s\n\n[ERROR: %s]", name, out.errs[id]))
		}
	}

	return fmt.Sprintf(`You are receiving consolidated results from parallel specialist analyses.

%s

## Original Request
%s

## Your Task
Synthesize the above specialist findings into a comprehensive assessment with a clear recommendation.
Do NOT hand off to the specialists listed above - you already have all their findings.
Provide the final consolidated analysis and recommendation.`,
		strings.Join(sections, "\n"), originalPrompt)
}

// swarmStructure lists the agents; swarm edges are dynamic handoffs, so none
// are announced up front.
func swarmStructure(reg *agent.Registry) *event.Structure {
	s := &event.Structure{}
	for _, id := range reg.IDs() {
		s.Nodes = append(s.Nodes, event.Node{ID: id, Name: reg.DisplayName(id), Type: "agent"})
	}
	return s
}
