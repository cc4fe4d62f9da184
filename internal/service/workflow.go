package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	agotel "github.com/peerjakobsen/agentify-release/internal/adapter/otel"
	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/domain/response"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
	"github.com/peerjakobsen/agentify-release/internal/domain/taskgraph"
	"github.com/peerjakobsen/agentify-release/internal/port/invoker"
)

// WorkflowService drives the workflow pattern: tasks of a dependency DAG run
// in parallel waves as their dependencies complete. A task failure lets its
// wave finish, then stops scheduling.
type WorkflowService struct {
	registry *agent.Registry
	invoker  invoker.Invoker
	emitter  *Emitter
	metrics  *agotel.Metrics
	pool     *Pool
	cfg      config.Routing
	logger   *slog.Logger
	memory   *MemoryService
	console  io.Writer
}

// NewWorkflowService creates the workflow driver.
func NewWorkflowService(
	reg *agent.Registry,
	inv invoker.Invoker,
	emitter *Emitter,
	metrics *agotel.Metrics,
	pool *Pool,
	cfg config.Routing,
	logger *slog.Logger,
) *WorkflowService {
	return &WorkflowService{
		registry: reg,
		invoker:  inv,
		emitter:  emitter,
		metrics:  metrics,
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
		console:  io.Discard,
	}
}

// SetMemory attaches the optional cross-agent memory.
func (w *WorkflowService) SetMemory(m *MemoryService) { w.memory = m }

// SetConsole sets the writer for human-readable progress lines.
func (w *WorkflowService) SetConsole(wr io.Writer) {
	if wr == nil {
		wr = io.Discard
	}
	w.console = wr
}

type taskResult struct {
	raw  string
	text string
}

type waveResult struct {
	id  string
	raw string
	err error
}

// RunTurn executes one workflow turn over the given task graph. The graph is
// validated before any task is dispatched; a validation failure produces zero
// invocations.
func (w *WorkflowService) RunTurn(ctx context.Context, sess *session.Context, g taskgraph.Graph) (*TurnResult, error) {
	res := &TurnResult{SessionID: sess.SessionID}

	ctx, span := agotel.StartTurnSpan(ctx, "workflow", sess.WorkflowID, sess.TraceID, sess.TurnNumber)
	defer span.End()
	if w.metrics != nil {
		w.metrics.TurnsStarted.Add(ctx, 1)
	}

	if err := taskgraph.Validate(g); err != nil {
		w.emitter.WorkflowError(ctx, sess, err.Error(), "")
		w.failTurn(ctx)
		return res, err
	}
	fmt.Fprintf(w.console, "Task DAG validated: %d tasks\n", len(g))

	structure := event.New(event.TypeGraphStructure, sess)
	structure.Graph = workflowStructure(g, w.registry)
	w.emitter.Emit(ctx, structure)

	done := make(map[string]bool, len(g))
	results := make(map[string]taskResult, len(g))
	var failedTask string
	var failedErr error

	for len(done) < len(g) && failedTask == "" {
		ready := taskgraph.Ready(g, done)
		if len(ready) == 0 {
			remaining := make([]string, 0, len(g))
			for id := range g {
				if !done[id] {
					remaining = append(remaining, id)
				}
			}
			sort.Strings(remaining)
			err := fmt.Errorf("no tasks ready but workflow incomplete, remaining: %v", remaining)
			w.emitter.WorkflowError(ctx, sess, err.Error(), "")
			w.failTurn(ctx)
			return res, err
		}

		fmt.Fprintf(w.console, "Executing %d tasks in parallel: %v\n", len(ready), ready)

		ch := make(chan waveResult, len(ready))
		for _, id := range ready {
			task := g[id]
			name := w.registry.DisplayName(task.Agent)

			start := event.New(event.TypeNodeStart, sess)
			start.NodeID = id
			start.NodeName = name
			w.emitter.Emit(ctx, start)

			prompt := w.taskPrompt(g, id, sess.Prompt, results)
			go func(id, agentID, prompt string) {
				wr := waveResult{id: id}
				wr.err = w.pool.Run(ctx, func() error {
					out, _, err := invokeAgent(ctx, w.invoker, w.metrics, agentID, prompt, sess.SessionID)
					wr.raw = out
					return err
				})
				ch <- wr
			}(id, task.Agent, prompt)
		}

		for range ready {
			wr := <-ch
			task := g[wr.id]
			name := w.registry.DisplayName(task.Agent)

			stop := event.New(event.TypeNodeStop, sess)
			stop.NodeID = wr.id
			stop.NodeName = name

			if wr.err != nil {
				stop.Status = event.StatusError
				stop.Error = wr.err.Error()
				w.emitter.Emit(ctx, stop)

				failedTask = wr.id
				failedErr = wr.err
				fmt.Fprintf(w.console, "Task %s failed: %v\n", wr.id, wr.err)
				w.logger.Error("workflow task failed", "task", wr.id, "agent", task.Agent, "error", wr.err)
				continue
			}

			stop.Status = event.StatusCompleted
			w.emitter.Emit(ctx, stop)

			text := response.ExtractText(wr.raw)
			results[wr.id] = taskResult{raw: wr.raw, text: text}
			done[wr.id] = true
			res.AgentsInvoked = append(res.AgentsInvoked, wr.id)
			w.memory.RecordTurn(ctx, sess.SessionID, task.Agent, text)

			preview := text
			if len(preview) > 100 {
				preview = preview[:100]
			}
			fmt.Fprintf(w.console, "Task %s completed: %s...\n", wr.id, preview)
		}
	}

	if failedTask != "" {
		msg := fmt.Sprintf("Task %s failed: %v", failedTask, failedErr)
		ev := event.New(event.TypeWorkflowError, sess)
		ev.Error = msg
		ev.FailedTask = failedTask
		w.emitter.Emit(ctx, ev)
		w.failTurn(ctx)
		return res, fmt.Errorf("Task %s failed: %w", failedTask, failedErr) //nolint:staticcheck // ST1005: surfaces verbatim in events and summaries
	}

	finalTask := ""
	if sinks := taskgraph.Sinks(g); len(sinks) > 0 {
		finalTask = sinks[0]
	} else if len(res.AgentsInvoked) > 0 {
		finalTask = res.AgentsInvoked[len(res.AgentsInvoked)-1]
	}
	if r, ok := results[finalTask]; ok {
		res.FinalResponse = r.text
	}
	if len(res.AgentsInvoked) > 0 {
		res.FinalAgent = res.AgentsInvoked[len(res.AgentsInvoked)-1]
	}

	complete := event.New(event.TypeWorkflowComplete, sess)
	complete.FinalAgent = res.FinalAgent
	complete.Status = event.StatusSuccess
	w.emitter.Emit(ctx, complete)
	if w.metrics != nil {
		w.metrics.TurnsCompleted.Add(ctx, 1)
	}
	return res, nil
}

func (w *WorkflowService) failTurn(ctx context.Context) {
	if w.metrics != nil {
		w.metrics.TurnsFailed.Add(ctx, 1)
	}
}

// taskPrompt builds a task's prompt from its completed dependencies' results
// plus the original request. Dependency-free tasks get the request as is.
func (w *WorkflowService) taskPrompt(g taskgraph.Graph, id, originalPrompt string, results map[string]taskResult) string {
	deps := g[id].DependsOn
	if len(deps) == 0 {
		return originalPrompt
	}

	var b strings.Builder
	b.WriteString("Previous task results:")
	for _, dep := range deps {
		r, ok := results[dep]
		if !ok {
			continue
		}
		text := r.text
		if text == "" {
			text = "No response"
		}
		b.WriteString("\n\n" + w.registry.DisplayName(g[dep].Agent) + ":\n" + text)
	}
	return b.String() + "\n\nOriginal request: " + originalPrompt
}

// workflowStructure renders the task DAG for viewers: tasks as nodes,
// dependencies as edges from prerequisite to dependent.
func workflowStructure(g taskgraph.Graph, reg *agent.Registry) *event.Structure {
	s := &event.Structure{}
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s.Nodes = append(s.Nodes, event.Node{ID: id, Name: reg.DisplayName(g[id].Agent), Type: "task"})
	}
	for _, id := range ids {
		for _, dep := range g[id].DependsOn {
			s.Edges = append(s.Edges, event.Edge{From: dep, To: id, Condition: "dependency"})
		}
	}
	return s
}
