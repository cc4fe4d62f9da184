package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	agotel "github.com/peerjakobsen/agentify-release/internal/adapter/otel"
	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
)

// arbiterPromptLimit bounds how much of the agent response rides along in the
// arbitration prompt.
const arbiterPromptLimit = 500

const arbiterPrompt = `You are a routing agent. Based on the agent response below, determine which agent should handle the next step.

Current agent: %s
Agent response (truncated): %s

Available agents: %s
%s

%s

The agent's suggestion is a hint from a domain expert. Consider it, but make your own decision based on the response content and routing guidance. The agent may not know all available agents.

Respond with ONLY one of the following:
- An agent ID from the available agents list (exactly as shown)
- The word "COMPLETE" if the workflow should end (task is finished)

Your response (agent ID or COMPLETE):`

// ChatCompleter is the slice of the LLM gateway the arbiter needs.
type ChatCompleter interface {
	Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error)
}

// Arbiter asks a small routing model for the next agent when the agents
// themselves did not produce a usable handoff. Every conclusive answer is
// recorded as a router_decision event.
type Arbiter struct {
	gateway  ChatCompleter
	registry *agent.Registry
	emitter  *Emitter
	metrics  *agotel.Metrics
	cfg      config.Routing
	guidance string
	logger   *slog.Logger
	console  io.Writer
}

// NewArbiter creates an arbiter. guidance is the routing-guidance text
// injected into every arbitration prompt; empty means none.
func NewArbiter(
	gateway ChatCompleter,
	reg *agent.Registry,
	emitter *Emitter,
	metrics *agotel.Metrics,
	cfg config.Routing,
	guidance string,
	logger *slog.Logger,
) *Arbiter {
	return &Arbiter{
		gateway:  gateway,
		registry: reg,
		emitter:  emitter,
		metrics:  metrics,
		cfg:      cfg,
		guidance: guidance,
		logger:   logger,
		console:  io.Discard,
	}
}

// SetConsole sets the writer for human-readable progress lines.
func (a *Arbiter) SetConsole(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	a.console = w
}

// Decide asks the routing model where the turn goes after current. suggestion
// is the agent's own (possibly invalid) handoff target, passed through as a
// hint. Returns ("", true) when the model answers COMPLETE, (id, true) for a
// recognized agent, and ("", false) when arbitration was inconclusive.
func (a *Arbiter) Decide(ctx context.Context, sess *session.Context, current, respText, suggestion string) (string, bool) {
	began := time.Now()

	ctx, span := agotel.StartArbiterSpan(ctx, a.cfg.RouterModel)
	defer span.End()

	timeout := a.cfg.ArbiterTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	truncated := respText
	if len(truncated) > arbiterPromptLimit {
		truncated = truncated[:arbiterPromptLimit]
	}
	suggestionLine := "Agent's routing suggestion: None"
	if suggestion != "" {
		suggestionLine = "Agent's routing suggestion: " + suggestion
	}
	guidanceLine := ""
	if a.guidance != "" {
		guidanceLine = "Routing guidance: " + a.guidance
	}
	prompt := fmt.Sprintf(arbiterPrompt,
		current, truncated, strings.Join(a.registry.IDs(), ", "), suggestionLine, guidanceLine)

	answer, err := a.gateway.Complete(callCtx, a.cfg.RouterModel, prompt, a.cfg.ArbiterMaxTokens)
	if err != nil {
		fmt.Fprintf(a.console, "arbiter routing failed: %v\n", err)
		a.logger.Warn("arbiter routing failed", "from_agent", current, "error", err)
		return "", false
	}

	result := strings.ToUpper(strings.TrimSpace(answer))
	if result == "COMPLETE" {
		a.recordDecision(ctx, sess, current, "COMPLETE", suggestion, began)
		return "", true
	}
	for _, id := range a.registry.IDs() {
		if strings.EqualFold(id, result) {
			a.recordDecision(ctx, sess, current, id, suggestion, began)
			return id, true
		}
	}

	fmt.Fprintf(a.console, "arbiter result '%s' not recognized\n", strings.TrimSpace(answer))
	a.logger.Warn("arbiter result not recognized", "from_agent", current, "result", strings.TrimSpace(answer))
	return "", false
}

func (a *Arbiter) recordDecision(ctx context.Context, sess *session.Context, from, next, suggestion string, began time.Time) {
	if a.metrics != nil {
		a.metrics.RouterDecisions.Add(ctx, 1)
	}
	ev := event.New(event.TypeRouterDecision, sess)
	ev.RouterModel = a.cfg.RouterModel
	ev.FromAgent = from
	ev.NextAgent = next
	ev.DurationMs = time.Since(began).Milliseconds()
	ev.AgentSuggestion = suggestion
	a.emitter.Emit(ctx, ev)
	a.logger.Info("router decision", "from_agent", from, "next_agent", next, "model", a.cfg.RouterModel)
}

// LoadGuidance extracts the routing-guidance section from a markdown file:
// everything under a "## Routing Guidance" or "## Agent Routing Rules"
// heading up to the next second-level heading. An empty path loads nothing.
func LoadGuidance(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open guidance file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		lines []string
		in    bool
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "## ") {
			if in {
				break
			}
			head := strings.TrimSpace(strings.TrimPrefix(line, "## "))
			in = head == "Routing Guidance" || head == "Agent Routing Rules"
			continue
		}
		if in {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read guidance file: %w", err)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
