package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/response"
	"github.com/peerjakobsen/agentify-release/internal/domain/routing"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
)

// Router resolves where a graph turn goes after the current agent completes.
// Strategies run in a fixed order; the first conclusive one wins:
// arbitration (config-gated), the agent's explicit route_to field, the
// classification table, the static table, then Complete.
type Router struct {
	rules           agent.GraphRules
	cfg             config.Routing
	arbiter         *Arbiter // nil disables arbitration
	classifications map[string]string
	logger          *slog.Logger
}

// NewRouter builds a router over the registry's graph rules. Classification
// labels match case-insensitively.
func NewRouter(rules agent.GraphRules, cfg config.Routing, arb *Arbiter, logger *slog.Logger) *Router {
	classifications := make(map[string]string, len(rules.ClassificationRoutes))
	for label, next := range rules.ClassificationRoutes {
		classifications[strings.ToLower(label)] = next
	}
	return &Router{
		rules:           rules,
		cfg:             cfg,
		arbiter:         arb,
		classifications: classifications,
		logger:          logger,
	}
}

// Decide resolves the next hop. It always lands on a decision; with no
// strategy conclusive the turn completes.
func (r *Router) Decide(ctx context.Context, sess *session.Context, current string, resp response.Response) routing.Decision {
	strategies := []routing.Strategy[routing.Decision]{
		r.arbitrate,
		r.routeTo,
		r.classify,
		r.staticNext,
	}
	if d, ok := routing.FirstMatch(ctx, sess, current, resp, strategies); ok {
		return d
	}
	return routing.Complete()
}

// arbitrate consults the routing model when enabled. An inconclusive answer
// falls through to the agent's own decision unless that fallback is switched
// off, in which case the turn completes.
func (r *Router) arbitrate(ctx context.Context, sess *session.Context, current string, resp response.Response) (routing.Decision, bool) {
	if !r.cfg.UseArbiter || r.arbiter == nil {
		return routing.Decision{}, false
	}
	next, decided := r.arbiter.Decide(ctx, sess, current, resp.Text, resp.RouteTo)
	if decided {
		if next == "" {
			return routing.Complete(), true
		}
		return routing.Continue(next), true
	}
	if !r.cfg.FallbackToAgentDecision {
		r.logger.Warn("arbitration inconclusive and agent fallback disabled, completing", "from_agent", current)
		return routing.Complete(), true
	}
	return routing.Decision{}, false
}

// routeTo honors the agent's explicit route_to field verbatim. No existence
// check: a bad id surfaces as an invoker error on the next hop.
func (r *Router) routeTo(_ context.Context, _ *session.Context, _ string, resp response.Response) (routing.Decision, bool) {
	if resp.RouteTo == "" {
		return routing.Decision{}, false
	}
	return routing.Continue(resp.RouteTo), true
}

func (r *Router) classify(_ context.Context, _ *session.Context, _ string, resp response.Response) (routing.Decision, bool) {
	if resp.Classification == "" {
		return routing.Decision{}, false
	}
	next := r.classifications[strings.ToLower(resp.Classification)]
	if next == "" {
		return routing.Decision{}, false
	}
	return routing.Continue(next), true
}

// staticNext reads the current agent's entry in the static table. An entry
// mapped to the empty string is an explicit terminal.
func (r *Router) staticNext(_ context.Context, _ *session.Context, current string, _ response.Response) (routing.Decision, bool) {
	next, ok := r.rules.StaticRoutes[current]
	if !ok {
		return routing.Decision{}, false
	}
	if next == "" {
		return routing.Complete(), true
	}
	return routing.Continue(next), true
}
