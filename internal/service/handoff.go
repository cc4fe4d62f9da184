package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/response"
	"github.com/peerjakobsen/agentify-release/internal/domain/routing"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
)

// HandoffResolver extracts a swarm agent's handoff declaration from its
// reply. Extraction precedence: structured JSON declaration, escaped-JSON
// retry, phrase heuristic, then config-gated arbitration seeded with the
// agent's own suggestion. No match means the turn is complete.
type HandoffResolver struct {
	registry *agent.Registry
	cfg      config.Routing
	arbiter  *Arbiter // nil disables the arbitration fallback
	logger   *slog.Logger
	console  io.Writer
}

// NewHandoffResolver creates a resolver over the registry's agent set.
func NewHandoffResolver(reg *agent.Registry, cfg config.Routing, arb *Arbiter, logger *slog.Logger) *HandoffResolver {
	return &HandoffResolver{
		registry: reg,
		cfg:      cfg,
		arbiter:  arb,
		logger:   logger,
		console:  io.Discard,
	}
}

// SetConsole sets the writer for human-readable progress lines.
func (h *HandoffResolver) SetConsole(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	h.console = w
}

// Resolve extracts the handoff from one agent reply. ok=false means no
// handoff: the swarm loop ends.
func (h *HandoffResolver) Resolve(ctx context.Context, sess *session.Context, current string, resp response.Response) (routing.Handoff, bool) {
	pass := &handoffPass{r: h}
	strategies := []routing.Strategy[routing.Handoff]{
		pass.jsonDecl,
		pass.escapedDecl,
		pass.phrase,
		pass.arbitrate,
	}
	return routing.FirstMatch(ctx, sess, current, resp, strategies)
}

// handoffPass carries the state of one Resolve call: the best unvalidated
// target seen so far, handed to the arbiter as a suggestion.
type handoffPass struct {
	r          *HandoffResolver
	suggestion string
}

func (p *handoffPass) jsonDecl(_ context.Context, _ *session.Context, _ string, resp response.Response) (routing.Handoff, bool) {
	decl, ok := response.FindHandoff(resp.Text)
	if !ok {
		return routing.Handoff{}, false
	}

	if decl.IsList && len(decl.Targets) > 1 {
		valid := make([]string, 0, len(decl.Targets))
		var invalid []string
		for _, t := range decl.Targets {
			if p.r.registry.Has(t) {
				valid = append(valid, t)
			} else {
				invalid = append(invalid, t)
			}
		}
		if len(invalid) > 0 {
			fmt.Fprintf(p.r.console, "Warning: Some parallel targets not available: %v\n", invalid)
			p.r.logger.Warn("dropping unknown parallel targets", "targets", invalid)
		}
		if len(valid) > 0 {
			converge := decl.ConvergeAt
			if converge != "" && !p.r.registry.Has(converge) {
				fmt.Fprintf(p.r.console, "Warning: Convergence target '%s' not available\n", converge)
				p.r.logger.Warn("dropping unknown convergence target", "target", converge)
				converge = ""
			}
			return routing.ParallelHandoff(valid, converge), true
		}
		// Nothing valid to fan out to. Treat the first declared name as a
		// single-target attempt so the later heuristics still get a hint.
		return p.single(decl.Targets[0])
	}

	return p.single(decl.Targets[0])
}

func (p *handoffPass) escapedDecl(_ context.Context, _ *session.Context, _ string, resp response.Response) (routing.Handoff, bool) {
	decl, ok := response.FindEscapedHandoff(resp.Raw)
	if !ok {
		return routing.Handoff{}, false
	}
	return p.single(decl.Targets[0])
}

func (p *handoffPass) phrase(_ context.Context, _ *session.Context, _ string, resp response.Response) (routing.Handoff, bool) {
	name, ok := response.FindHandoffPhrase(resp.Text)
	if !ok {
		return routing.Handoff{}, false
	}
	if p.r.registry.Has(name) {
		return routing.SingleHandoff(name), true
	}
	if p.suggestion == "" {
		p.suggestion = name
	}
	return routing.Handoff{}, false
}

func (p *handoffPass) arbitrate(ctx context.Context, sess *session.Context, current string, resp response.Response) (routing.Handoff, bool) {
	if !p.r.cfg.UseArbiter || p.r.arbiter == nil {
		return routing.Handoff{}, false
	}
	fmt.Fprintf(p.r.console, "Warning: No explicit handoff from '%s', activating arbiter as safety net\n", current)
	next, decided := p.r.arbiter.Decide(ctx, sess, current, resp.Text, p.suggestion)
	if decided && next != "" {
		return routing.SingleHandoff(next), true
	}
	if !decided {
		fmt.Fprintf(p.r.console, "arbiter did not return a valid agent, completing workflow\n")
	}
	return routing.Handoff{}, false
}

// single validates one declared target. Unknown names are remembered as the
// arbiter suggestion and the cascade continues.
func (p *handoffPass) single(target string) (routing.Handoff, bool) {
	if p.r.registry.Has(target) {
		return routing.SingleHandoff(target), true
	}
	p.suggestion = target
	fmt.Fprintf(p.r.console, "Warning: Handoff target '%s' not in available agents: %v\n", target, p.r.registry.IDs())
	p.r.logger.Warn("unknown handoff target", "target", target)
	return routing.Handoff{}, false
}
